package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/dashboard"
	"github.com/AIexpert-ig/Grace-dashboard/internal/export"
	"github.com/AIexpert-ig/Grace-dashboard/internal/models"
	"github.com/AIexpert-ig/Grace-dashboard/internal/sink"
	"github.com/AIexpert-ig/Grace-dashboard/internal/store"

	"go.uber.org/zap"
)

const (
	defaultUpdatesCount = 20
	maxUpdatesCount     = 500
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ViewSource 内存中的最新看板（*dashboard.Board）
type ViewSource interface {
	Latest() (dashboard.View, bool)
	State() models.ConnectionState
}

// SnapshotCache 进程外的快照缓存（*sink.RedisSink），重启后首个轮询完成前用它兜底
type SnapshotCache interface {
	Latest(ctx context.Context) (dashboard.View, error)
	Recent(ctx context.Context, count int64) ([]store.StreamEntry, error)
}

// DashboardHandler 看板只读接口
type DashboardHandler struct {
	board  ViewSource
	cache  SnapshotCache
	logger *zap.Logger
}

// NewDashboardHandler 创建看板 Handler；cache 可以为 nil
func NewDashboardHandler(board ViewSource, cache SnapshotCache, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		board:  board,
		cache:  cache,
		logger: logger,
	}
}

// GetDashboard GET /api/v1/dashboard
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	view, ok := h.currentView(r.Context())
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, Fail("dashboard not ready"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// ExportDashboard GET /api/v1/dashboard/export
func (h *DashboardHandler) ExportDashboard(w http.ResponseWriter, r *http.Request) {
	view, ok := h.currentView(r.Context())
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, Fail("dashboard not ready"))
		return
	}

	data, err := export.Workbook(view)
	if err != nil {
		h.logger.Error("Failed to export dashboard", zap.String("cycle_id", view.CycleID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export dashboard"))
		return
	}

	filename := fmt.Sprintf("grace-dashboard-%s.xlsx", view.GeneratedAt.Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GetUpdates GET /api/v1/dashboard/updates?count=N
func (h *DashboardHandler) GetUpdates(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, http.StatusOK, Ok([]store.StreamEntry{}))
		return
	}

	count := parseInt(r.URL.Query().Get("count"), defaultUpdatesCount)
	if count <= 0 {
		count = defaultUpdatesCount
	}
	if count > maxUpdatesCount {
		count = maxUpdatesCount
	}

	entries, err := h.cache.Recent(r.Context(), int64(count))
	if err != nil {
		h.logger.Error("Failed to read dashboard updates", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to read dashboard updates"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(entries))
}

// GetConnection GET /api/v1/connection
func (h *DashboardHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]string{"state": string(h.board.State())}))
}

func (h *DashboardHandler) currentView(ctx context.Context) (dashboard.View, bool) {
	if view, ok := h.board.Latest(); ok {
		return view, true
	}
	if h.cache == nil {
		return dashboard.View{}, false
	}

	view, err := h.cache.Latest(ctx)
	if err != nil {
		if !errors.Is(err, sink.ErrNoSnapshot) {
			h.logger.Warn("Failed to read cached dashboard", zap.Error(err))
		}
		return dashboard.View{}, false
	}
	// 缓存的视图来自上一个进程，连接状态以当前为准
	view.Connection = h.board.State()
	return view.Refreshed(time.Now()), true
}
