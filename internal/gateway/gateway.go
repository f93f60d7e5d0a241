package gateway

import (
	"context"
	"strings"

	"github.com/AIexpert-ig/Grace-dashboard/internal/backend"
	"github.com/AIexpert-ig/Grace-dashboard/internal/models"

	"go.uber.org/zap"
)

// Gateway 工单命令入口（认领、更新状态）
// 不做乐观更新，新状态由下一次轮询带回
type Gateway struct {
	backend backend.Backend
	logger  *zap.Logger
}

// New 创建命令网关
func New(b backend.Backend, logger *zap.Logger) *Gateway {
	return &Gateway{
		backend: b,
		logger:  logger,
	}
}

// Claim 认领工单，员工姓名为空时不调用后端
func (g *Gateway) Claim(ctx context.Context, id, staffName string) error {
	const op = "claim escalation"

	id = strings.TrimSpace(id)
	staffName = strings.TrimSpace(staffName)
	if id == "" {
		return &backend.ValidationError{Op: op, Reason: backend.ReasonInvalidID, Message: "escalation id is required"}
	}
	if staffName == "" {
		return &backend.ValidationError{Op: op, Reason: backend.ReasonStaffNameRequired, Message: "staff name is required"}
	}

	if err := g.backend.ClaimEscalation(ctx, id, staffName); err != nil {
		g.logFailure(op, id, err, zap.String("staff_name", staffName))
		return err
	}

	g.logger.Info("Escalation claimed",
		zap.String("escalation_id", id),
		zap.String("staff_name", staffName),
	)
	return nil
}

// SetStatus 更新工单状态，流转是否合法由后端判定
func (g *Gateway) SetStatus(ctx context.Context, id string, status models.Status) error {
	const op = "set escalation status"

	id = strings.TrimSpace(id)
	if id == "" {
		return &backend.ValidationError{Op: op, Reason: backend.ReasonInvalidID, Message: "escalation id is required"}
	}
	if !status.Valid() {
		return &backend.ValidationError{Op: op, Reason: backend.ReasonInvalidStatus, Message: "unknown status " + string(status)}
	}

	if err := g.backend.SetEscalationStatus(ctx, id, status); err != nil {
		g.logFailure(op, id, err, zap.String("status", string(status)))
		return err
	}

	g.logger.Info("Escalation status updated",
		zap.String("escalation_id", id),
		zap.String("status", string(status)),
	)
	return nil
}

// Resolve 标记为已解决
func (g *Gateway) Resolve(ctx context.Context, id string) error {
	return g.SetStatus(ctx, id, models.StatusResolved)
}

func (g *Gateway) logFailure(op, id string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("escalation_id", id), zap.Error(err))
	if backend.IsValidation(err) {
		fields = append(fields, zap.String("reason", backend.ReasonOf(err)))
		g.logger.Warn("Backend rejected "+op, fields...)
		return
	}
	g.logger.Error("Failed to "+op, fields...)
}
