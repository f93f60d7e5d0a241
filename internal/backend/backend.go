package backend

import (
	"context"

	"github.com/AIexpert-ig/Grace-dashboard/internal/models"
)

// DefaultMetricsRange 默认指标时间窗口
const DefaultMetricsRange = "24h"

// Backend 后端能力（HTTP API 或直连数据库），字段名统一在这一层归一化
//
// 每个方法的错误要么满足 errors.Is(err, ErrTransport)，
// 要么满足 errors.Is(err, ErrValidation)，调用方据此决定是否重试。
type Backend interface {
	// FetchEscalations 拉取工单列表，statusFilter 为空表示全部
	FetchEscalations(ctx context.Context, statusFilter models.Status) ([]models.Escalation, error)
	// FetchMetrics 拉取后端预聚合指标，timeRange 形如 "24h"、"7d"
	FetchMetrics(ctx context.Context, timeRange string) (models.BackendMetrics, error)
	// FetchLeaderboard 拉取员工排行榜
	FetchLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	// ClaimEscalation 认领工单（PENDING → IN_PROGRESS）
	ClaimEscalation(ctx context.Context, id, staffName string) error
	// SetEscalationStatus 更新工单状态
	SetEscalationStatus(ctx context.Context, id string, status models.Status) error
}
