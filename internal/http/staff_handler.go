package httpapi

import (
	"context"
	"net/http"

	"github.com/AIexpert-ig/Grace-dashboard/internal/models"

	"go.uber.org/zap"
)

// StaffLookup 员工维度的后端查询（仅 HTTP 后端提供）
type StaffLookup interface {
	FetchDashboardStats(ctx context.Context) (*models.DashboardStats, error)
	FetchStaffPerformance(ctx context.Context, staffName string) (*models.LeaderboardEntry, error)
}

// AverageLookup 后端单独提供的平均认领/处理时长（分钟）
type AverageLookup interface {
	FetchAverageTimeToClaim(ctx context.Context) (float64, error)
	FetchAverageTimeToResolve(ctx context.Context) (float64, error)
}

// StaffHandler 员工接口
type StaffHandler struct {
	lookup StaffLookup
	logger *zap.Logger
}

// NewStaffHandler 创建员工 Handler；lookup 为 nil 时接口返回 501
func NewStaffHandler(lookup StaffLookup, logger *zap.Logger) *StaffHandler {
	return &StaffHandler{
		lookup: lookup,
		logger: logger,
	}
}

type dashboardStatsResponse struct {
	Metrics       models.BackendMetrics     `json:"metrics"`
	Alerts        []models.Escalation       `json:"alerts"`
	TopResponders []models.LeaderboardEntry `json:"top_responders"`
}

// GetDashboardStats GET /api/v1/staff/dashboard-stats
func (h *StaffHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	if h.lookup == nil {
		writeJSON(w, http.StatusNotImplemented, Fail("dashboard stats not supported by backend"))
		return
	}
	stats, err := h.lookup.FetchDashboardStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(dashboardStatsResponse{
		Metrics:       stats.Metrics,
		Alerts:        stats.Alerts,
		TopResponders: stats.TopResponders,
	}))
}

// GetPerformance GET /api/v1/staff/{name}/performance
func (h *StaffHandler) GetPerformance(w http.ResponseWriter, r *http.Request, name string) {
	if h.lookup == nil {
		writeJSON(w, http.StatusNotImplemented, Fail("staff performance not supported by backend"))
		return
	}
	entry, err := h.lookup.FetchStaffPerformance(r.Context(), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(entry))
}

// GetTimeToClaim GET /api/v1/metrics/time-to-claim
func (h *StaffHandler) GetTimeToClaim(w http.ResponseWriter, r *http.Request) {
	h.writeAverage(w, r, func(ctx context.Context, a AverageLookup) (float64, error) {
		return a.FetchAverageTimeToClaim(ctx)
	})
}

// GetTimeToResolve GET /api/v1/metrics/time-to-resolve
func (h *StaffHandler) GetTimeToResolve(w http.ResponseWriter, r *http.Request) {
	h.writeAverage(w, r, func(ctx context.Context, a AverageLookup) (float64, error) {
		return a.FetchAverageTimeToResolve(ctx)
	})
}

func (h *StaffHandler) writeAverage(w http.ResponseWriter, r *http.Request, fetch func(context.Context, AverageLookup) (float64, error)) {
	avg, ok := h.lookup.(AverageLookup)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, Fail("average times not supported by backend"))
		return
	}
	v, err := fetch(r.Context(), avg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]float64{"average_minutes": v}))
}

func (h *StaffHandler) writeError(w http.ResponseWriter, err error) {
	writeBackendError(w, h.logger, err)
}
