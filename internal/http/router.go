package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	escalationsPrefix = "/api/v1/escalations/"
	staffPrefix       = "/api/v1/staff/"
)

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterHealthRoutes 存活检查
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}

// RegisterDashboardRoutes 看板只读接口
func (r *Router) RegisterDashboardRoutes(d *DashboardHandler) {
	r.Handle("/api/v1/dashboard", methodOnly(http.MethodGet, d.GetDashboard))
	r.Handle("/api/v1/dashboard/export", methodOnly(http.MethodGet, d.ExportDashboard))
	r.Handle("/api/v1/dashboard/updates", methodOnly(http.MethodGet, d.GetUpdates))
	r.Handle("/api/v1/connection", methodOnly(http.MethodGet, d.GetConnection))
}

// RegisterEscalationRoutes
// GET /api/v1/escalations/{id}
// POST /api/v1/escalations/{id}/{claim|status|resolve}
func (r *Router) RegisterEscalationRoutes(e *EscalationHandler) {
	r.Handle(escalationsPrefix, func(w http.ResponseWriter, req *http.Request) {
		parts := strings.Split(strings.TrimPrefix(req.URL.Path, escalationsPrefix), "/")
		if parts[0] == "" || len(parts) > 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		if len(parts) == 1 {
			if req.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			e.GetEscalation(w, req, parts[0])
			return
		}

		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id, action := parts[0], parts[1]
		switch action {
		case "claim":
			e.Claim(w, req, id)
		case "status":
			e.SetStatus(w, req, id)
		case "resolve":
			e.Resolve(w, req, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// RegisterStaffRoutes
// GET /api/v1/staff/dashboard-stats
// GET /api/v1/staff/{name}/performance
func (r *Router) RegisterStaffRoutes(s *StaffHandler) {
	r.Handle(staffPrefix, func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, staffPrefix)
		if rest == "dashboard-stats" {
			s.GetDashboardStats(w, req)
			return
		}
		name, ok := strings.CutSuffix(rest, "/performance")
		if !ok || name == "" || strings.Contains(name, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.GetPerformance(w, req, name)
	})
}

// RegisterTimingRoutes 后端单独提供的平均时长
func (r *Router) RegisterTimingRoutes(s *StaffHandler) {
	r.Handle("/api/v1/metrics/time-to-claim", methodOnly(http.MethodGet, s.GetTimeToClaim))
	r.Handle("/api/v1/metrics/time-to-resolve", methodOnly(http.MethodGet, s.GetTimeToResolve))
}

// RegisterMetricsRoute Prometheus 指标
func (r *Router) RegisterMetricsRoute(h http.Handler) {
	r.HandleHandler("/metrics", h)
}

func methodOnly(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}
