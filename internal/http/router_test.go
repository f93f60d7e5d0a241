package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/backend"
	"github.com/AIexpert-ig/Grace-dashboard/internal/dashboard"
	"github.com/AIexpert-ig/Grace-dashboard/internal/metrics"
	"github.com/AIexpert-ig/Grace-dashboard/internal/models"
	"github.com/AIexpert-ig/Grace-dashboard/internal/poller"
	"github.com/AIexpert-ig/Grace-dashboard/internal/sink"
	"github.com/AIexpert-ig/Grace-dashboard/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockCommands 模拟工单命令
type MockCommands struct {
	mock.Mock
}

func (m *MockCommands) Claim(ctx context.Context, id, staffName string) error {
	args := m.Called(ctx, id, staffName)
	return args.Error(0)
}

func (m *MockCommands) SetStatus(ctx context.Context, id string, status models.Status) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockCommands) Resolve(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// fakeCache 模拟 Redis 快照缓存
type fakeCache struct {
	view    *dashboard.View
	entries []store.StreamEntry
	err     error
}

func (f *fakeCache) Latest(context.Context) (dashboard.View, error) {
	if f.err != nil {
		return dashboard.View{}, f.err
	}
	if f.view == nil {
		return dashboard.View{}, sink.ErrNoSnapshot
	}
	return *f.view, nil
}

func (f *fakeCache) Recent(_ context.Context, count int64) ([]store.StreamEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if int64(len(f.entries)) > count {
		return f.entries[:count], nil
	}
	return f.entries, nil
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testUpdate() poller.Update {
	created := testNow.Add(-8 * time.Minute)
	escalations := []models.Escalation{
		{ID: "e1", Room: "415", Issue: "Need towels", Status: models.StatusPending, CreatedAt: &created},
	}
	return poller.Update{
		CycleID:     "cycle-42",
		Escalations: escalations,
		Metrics:     metrics.Compute(escalations, testNow),
		Leaderboard: []models.LeaderboardEntry{},
		Timestamp:   testNow,
	}
}

// fakeLookup 模拟后端直通查询
type fakeLookup struct {
	escalations map[string]models.Escalation
	staff       map[string]models.LeaderboardEntry
	stats       *models.DashboardStats
	avgClaim    float64
	avgResolve  float64
	err         error
}

func (f *fakeLookup) FetchAverageTimeToClaim(context.Context) (float64, error) {
	return f.avgClaim, f.err
}

func (f *fakeLookup) FetchAverageTimeToResolve(context.Context) (float64, error) {
	return f.avgResolve, f.err
}

func (f *fakeLookup) FetchEscalation(_ context.Context, id string) (*models.Escalation, error) {
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.escalations[id]
	if !ok {
		return nil, &backend.ValidationError{Op: "fetch_escalation", StatusCode: 404, Reason: backend.ReasonNotFound}
	}
	return &e, nil
}

func (f *fakeLookup) FetchDashboardStats(context.Context) (*models.DashboardStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func (f *fakeLookup) FetchStaffPerformance(_ context.Context, name string) (*models.LeaderboardEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	entry, ok := f.staff[name]
	if !ok {
		return nil, &backend.ValidationError{Op: "fetch_staff_performance", StatusCode: 404, Reason: backend.ReasonNotFound}
	}
	return &entry, nil
}

type testServer struct {
	router   *Router
	board    *dashboard.Board
	cache    *fakeCache
	commands *MockCommands
	lookup   *fakeLookup
}

func newTestServer(t *testing.T, withCache bool) *testServer {
	t.Helper()
	logger := zap.NewNop()
	ts := &testServer{
		board:    dashboard.NewBoard(),
		commands: new(MockCommands),
		lookup:   &fakeLookup{},
	}

	var cache SnapshotCache
	if withCache {
		ts.cache = &fakeCache{}
		cache = ts.cache
	}

	ts.router = NewRouter(logger)
	ts.router.RegisterHealthRoutes()
	ts.router.RegisterDashboardRoutes(NewDashboardHandler(ts.board, cache, logger))
	ts.router.RegisterEscalationRoutes(NewEscalationHandler(ts.commands, ts.lookup, logger))
	staff := NewStaffHandler(ts.lookup, logger)
	ts.router.RegisterStaffRoutes(staff)
	ts.router.RegisterTimingRoutes(staff)
	return ts
}

func (ts *testServer) do(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) Result[json.RawMessage] {
	t.Helper()
	var res Result[json.RawMessage]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestDashboard_NotReady(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(http.MethodGet, "/api/v1/dashboard", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ResultError, decodeResult(t, rec).Code)
}

func TestDashboard_ReturnsLatestView(t *testing.T) {
	ts := newTestServer(t, false)
	ts.board.Apply(testUpdate())

	rec := ts.do(http.MethodGet, "/api/v1/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeResult(t, rec)
	assert.Equal(t, ResultSuccess, res.Code)

	var view dashboard.View
	require.NoError(t, json.Unmarshal(res.Result, &view))
	assert.Equal(t, "cycle-42", view.CycleID)
	assert.Equal(t, models.StateConnected, view.Connection)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "8m ago", view.Items[0].Elapsed)
}

func TestDashboard_FallsBackToCache(t *testing.T) {
	ts := newTestServer(t, true)
	cached := dashboard.BuildView(testUpdate(), models.StateConnected, testNow)
	ts.cache.view = &cached

	rec := ts.do(http.MethodGet, "/api/v1/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view dashboard.View
	require.NoError(t, json.Unmarshal(decodeResult(t, rec).Result, &view))
	assert.Equal(t, "cycle-42", view.CycleID)
	// 连接状态取当前进程的
	assert.Equal(t, models.StateConnecting, view.Connection)
}

func TestDashboard_CacheErrorIsNotReady(t *testing.T) {
	ts := newTestServer(t, true)
	ts.cache.err = errors.New("redis down")

	rec := ts.do(http.MethodGet, "/api/v1/dashboard", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDashboard_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(http.MethodPost, "/api/v1/dashboard", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestExport(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(http.MethodGet, "/api/v1/dashboard/export", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ts.board.Apply(testUpdate())
	rec = ts.do(http.MethodGet, "/api/v1/dashboard/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "grace-dashboard-20250301-120000.xlsx")
	// xlsx 是 zip 包
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestUpdates(t *testing.T) {
	ts := newTestServer(t, true)
	ts.cache.entries = []store.StreamEntry{
		{ID: "2-0", Values: map[string]string{"cycle_id": "b"}},
		{ID: "1-0", Values: map[string]string{"cycle_id": "a"}},
	}

	rec := ts.do(http.MethodGet, "/api/v1/dashboard/updates?count=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []store.StreamEntry
	require.NoError(t, json.Unmarshal(decodeResult(t, rec).Result, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Values["cycle_id"])
}

func TestUpdates_WithoutCache(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(http.MethodGet, "/api/v1/dashboard/updates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", string(decodeResult(t, rec).Result))
}

func TestConnection(t *testing.T) {
	ts := newTestServer(t, false)
	ts.board.SetState(models.StateDisconnected)

	rec := ts.do(http.MethodGet, "/api/v1/connection", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"disconnected"}`, string(decodeResult(t, rec).Result))
}

func TestClaim_Success(t *testing.T) {
	ts := newTestServer(t, false)
	ts.commands.On("Claim", mock.Anything, "e1", "Ana").Return(nil)

	rec := ts.do(http.MethodPost, "/api/v1/escalations/e1/claim", `{"staff_name":"Ana"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"e1","claimed_by":"Ana"}`, string(decodeResult(t, rec).Result))
	ts.commands.AssertExpectations(t)
}

func TestClaim_AcceptsClaimedByField(t *testing.T) {
	ts := newTestServer(t, false)
	ts.commands.On("Claim", mock.Anything, "e1", "Bo").Return(nil)

	rec := ts.do(http.MethodPost, "/api/v1/escalations/e1/claim", `{"claimed_by":"Bo"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	ts.commands.AssertExpectations(t)
}

func TestClaim_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason string
	}{
		{
			name:       "already claimed",
			err:        &backend.ValidationError{Op: "claim", StatusCode: 409, Reason: backend.ReasonAlreadyClaimed, Message: "already claimed"},
			wantStatus: http.StatusConflict,
			wantReason: backend.ReasonAlreadyClaimed,
		},
		{
			name:       "not found",
			err:        &backend.ValidationError{Op: "claim", StatusCode: 404, Reason: backend.ReasonNotFound},
			wantStatus: http.StatusNotFound,
			wantReason: backend.ReasonNotFound,
		},
		{
			name:       "staff name required",
			err:        &backend.ValidationError{Op: "claim", Reason: backend.ReasonStaffNameRequired},
			wantStatus: http.StatusBadRequest,
			wantReason: backend.ReasonStaffNameRequired,
		},
		{
			name:       "rejected",
			err:        &backend.ValidationError{Op: "claim", StatusCode: 400, Reason: backend.ReasonRejected},
			wantStatus: http.StatusUnprocessableEntity,
			wantReason: backend.ReasonRejected,
		},
		{
			name:       "transport",
			err:        &backend.TransportError{Op: "claim", StatusCode: 503, Err: errors.New("unavailable")},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, false)
			ts.commands.On("Claim", mock.Anything, "e1", "Ana").Return(tt.err)

			rec := ts.do(http.MethodPost, "/api/v1/escalations/e1/claim", `{"staff_name":"Ana"}`)
			assert.Equal(t, tt.wantStatus, rec.Code)

			res := decodeResult(t, rec)
			assert.Equal(t, ResultError, res.Code)
			if tt.wantReason != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(res.Result, &body))
				assert.Equal(t, tt.wantReason, body["reason"])
			}
		})
	}
}

func TestClaim_InvalidBody(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(http.MethodPost, "/api/v1/escalations/e1/claim", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ts.commands.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
}

func TestSetStatus(t *testing.T) {
	ts := newTestServer(t, false)
	ts.commands.On("SetStatus", mock.Anything, "e1", models.StatusInProgress).Return(nil)

	rec := ts.do(http.MethodPost, "/api/v1/escalations/e1/status", `{"status":"in-progress"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"e1","status":"IN_PROGRESS"}`, string(decodeResult(t, rec).Result))
	ts.commands.AssertExpectations(t)
}

func TestSetStatus_InvalidTransition(t *testing.T) {
	ts := newTestServer(t, false)
	ts.commands.On("SetStatus", mock.Anything, "e1", models.StatusPending).
		Return(&backend.ValidationError{Op: "set_status", Reason: backend.ReasonInvalidTransition})

	rec := ts.do(http.MethodPost, "/api/v1/escalations/e1/status", `{"status":"PENDING"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolve(t *testing.T) {
	ts := newTestServer(t, false)
	ts.commands.On("Resolve", mock.Anything, "e1").Return(nil)

	rec := ts.do(http.MethodPost, "/api/v1/escalations/e1/resolve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ts.commands.AssertExpectations(t)
}

func TestEscalationRoutes_NotFoundAndMethod(t *testing.T) {
	ts := newTestServer(t, false)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/api/v1/escalations/e1/delete", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/api/v1/escalations/e1/claim/extra", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(http.MethodPost, "/api/v1/escalations/e1", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(http.MethodGet, "/api/v1/escalations/e1/claim", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, false)

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "grace_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	ts.router.RegisterMetricsRoute(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "").Code)

	rec := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grace_test_total 1")
}

func TestGetEscalation(t *testing.T) {
	ts := newTestServer(t, false)
	created := testNow.Add(-time.Hour)
	ts.lookup.escalations = map[string]models.Escalation{
		"e7": {ID: "e7", Room: "702", Issue: "Late checkout", Status: models.StatusPending, CreatedAt: &created},
	}

	rec := ts.do(http.MethodGet, "/api/v1/escalations/e7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var e models.Escalation
	require.NoError(t, json.Unmarshal(decodeResult(t, rec).Result, &e))
	assert.Equal(t, "702", e.Room)
	assert.Equal(t, models.StatusPending, e.Status)

	rec = ts.do(http.MethodGet, "/api/v1/escalations/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEscalation_LookupUnsupported(t *testing.T) {
	router := NewRouter(zap.NewNop())
	router.RegisterEscalationRoutes(NewEscalationHandler(new(MockCommands), nil, zap.NewNop()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/escalations/e1", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestStaffRoutes(t *testing.T) {
	ts := newTestServer(t, false)
	ts.lookup.staff = map[string]models.LeaderboardEntry{
		"Ana B": {Name: "Ana B", Claims: 4, AvgResolveMinutes: 12.5},
	}
	ts.lookup.stats = &models.DashboardStats{
		Metrics:       models.BackendMetrics{TotalPending: 2},
		Alerts:        []models.Escalation{},
		TopResponders: []models.LeaderboardEntry{{Name: "Ana B", Claims: 4}},
	}

	rec := ts.do(http.MethodGet, "/api/v1/staff/Ana%20B/performance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"Ana B","claims":4,"avgResolve":12.5}`, string(decodeResult(t, rec).Result))

	rec = ts.do(http.MethodGet, "/api/v1/staff/dashboard-stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(decodeResult(t, rec).Result, &stats))
	assert.Contains(t, string(stats["metrics"]), `"totalPending":2`)
	assert.Contains(t, string(stats["top_responders"]), "Ana B")

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/v1/staff/Nobody/performance", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/v1/staff/Ana", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(http.MethodPost, "/api/v1/staff/dashboard-stats", "").Code)
}

func TestStaffRoutes_BackendUnavailable(t *testing.T) {
	ts := newTestServer(t, false)
	ts.lookup.err = &backend.TransportError{Op: "fetch_dashboard_stats", Err: errors.New("connection refused")}

	rec := ts.do(http.MethodGet, "/api/v1/staff/dashboard-stats", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestTimingRoutes(t *testing.T) {
	ts := newTestServer(t, false)
	ts.lookup.avgClaim = 3.5
	ts.lookup.avgResolve = 18

	rec := ts.do(http.MethodGet, "/api/v1/metrics/time-to-claim", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"average_minutes":3.5}`, string(decodeResult(t, rec).Result))

	rec = ts.do(http.MethodGet, "/api/v1/metrics/time-to-resolve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"average_minutes":18}`, string(decodeResult(t, rec).Result))

	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(http.MethodPost, "/api/v1/metrics/time-to-claim", "").Code)

	ts.lookup.err = &backend.TransportError{Op: "fetch time to claim", Err: errors.New("connection refused")}
	assert.Equal(t, http.StatusBadGateway, ts.do(http.MethodGet, "/api/v1/metrics/time-to-claim", "").Code)
}

func TestTimingRoutes_NotSupported(t *testing.T) {
	router := NewRouter(zap.NewNop())
	router.RegisterTimingRoutes(NewStaffHandler(nil, zap.NewNop()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/time-to-resolve", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
