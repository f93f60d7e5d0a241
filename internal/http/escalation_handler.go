package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/AIexpert-ig/Grace-dashboard/internal/backend"
	"github.com/AIexpert-ig/Grace-dashboard/internal/models"

	"go.uber.org/zap"
)

// Commands 工单写操作（*gateway.Gateway）
type Commands interface {
	Claim(ctx context.Context, id, staffName string) error
	SetStatus(ctx context.Context, id string, status models.Status) error
	Resolve(ctx context.Context, id string) error
}

// EscalationLookup 单条工单查询（直通后端）
type EscalationLookup interface {
	FetchEscalation(ctx context.Context, id string) (*models.Escalation, error)
}

// EscalationHandler 工单命令接口
type EscalationHandler struct {
	commands Commands
	lookup   EscalationLookup
	logger   *zap.Logger
}

// NewEscalationHandler 创建工单 Handler；lookup 为 nil 时单条查询返回 501
func NewEscalationHandler(commands Commands, lookup EscalationLookup, logger *zap.Logger) *EscalationHandler {
	return &EscalationHandler{
		commands: commands,
		lookup:   lookup,
		logger:   logger,
	}
}

// GetEscalation GET /api/v1/escalations/{id}
func (h *EscalationHandler) GetEscalation(w http.ResponseWriter, r *http.Request, id string) {
	if h.lookup == nil {
		writeJSON(w, http.StatusNotImplemented, Fail("escalation lookup not supported by backend"))
		return
	}
	e, err := h.lookup.FetchEscalation(r.Context(), id)
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(e))
}

type claimRequest struct {
	StaffName string `json:"staff_name"`
	ClaimedBy string `json:"claimed_by"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// Claim POST /api/v1/escalations/{id}/claim
func (h *EscalationHandler) Claim(w http.ResponseWriter, r *http.Request, id string) {
	var req claimRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	staff := req.StaffName
	if strings.TrimSpace(staff) == "" {
		staff = req.ClaimedBy
	}

	if err := h.commands.Claim(r.Context(), id, staff); err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id, "claimed_by": strings.TrimSpace(staff)}))
}

// SetStatus POST /api/v1/escalations/{id}/status
func (h *EscalationHandler) SetStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req statusRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	status := models.ParseStatus(req.Status)
	if err := h.commands.SetStatus(r.Context(), id, status); err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id, "status": string(status)}))
}

// Resolve POST /api/v1/escalations/{id}/resolve
func (h *EscalationHandler) Resolve(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.commands.Resolve(r.Context(), id); err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]string{"id": id, "status": string(models.StatusResolved)}))
}

func (h *EscalationHandler) writeCommandError(w http.ResponseWriter, err error) {
	writeBackendError(w, h.logger, err)
}

// writeBackendError 校验失败按原因映射 4xx，传输失败 502
func writeBackendError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case backend.IsValidation(err):
		reason := backend.ReasonOf(err)
		writeJSON(w, statusForReason(reason), FailWithReason(err.Error(), reason))
	case backend.IsTransport(err):
		writeJSON(w, http.StatusBadGateway, Fail("backend unavailable"))
	default:
		logger.Error("Unexpected backend error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
	}
}

func statusForReason(reason string) int {
	switch reason {
	case backend.ReasonAlreadyClaimed, backend.ReasonInvalidTransition:
		return http.StatusConflict
	case backend.ReasonNotFound:
		return http.StatusNotFound
	case backend.ReasonInvalidID, backend.ReasonStaffNameRequired, backend.ReasonInvalidStatus:
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}
