package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHTTPBackend(t *testing.T, handler http.HandlerFunc) *HTTPBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPBackend(HTTPConfig{
		BaseURL:    srv.URL,
		Timeout:    2 * time.Second,
		RetryCount: 0,
	}, zap.NewNop())
}

func TestHTTPBackend_FetchEscalations(t *testing.T) {
	var gotQuery, gotRequestID string
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/escalations", r.URL.Path)
		gotQuery = r.URL.Query().Get("status")
		gotRequestID = r.Header.Get("X-Request-ID")
		_, _ = io.WriteString(w, `[
			{"id": 1, "room_number": "204", "guest_name": "Lee", "issue": "AC not working", "status": "PENDING", "created_at": "2025-03-01T10:00:00Z"},
			{"id": "2", "room": "310", "guestName": "Kim", "issue": "Towels", "status": "IN_PROGRESS", "createdAt": "2025-03-01T09:00:00Z", "claimedBy": "Ana"}
		]`)
	})

	list, err := b.FetchEscalations(context.Background(), models.StatusPending)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "PENDING", gotQuery)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, "1", list[0].ID)
	assert.Equal(t, "204", list[0].Room)
	assert.Equal(t, "310", list[1].Room)
	assert.Equal(t, "Ana", list[1].ClaimedBy)
	assert.Equal(t, models.StatusInProgress, list[1].Status)
}

func TestHTTPBackend_FetchEscalations_WrappedObject(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("status"))
		_, _ = io.WriteString(w, `{"escalations": [{"id": "7", "status": "RESOLVED"}]}`)
	})

	list, err := b.FetchEscalations(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusResolved, list[0].Status)
}

func TestHTTPBackend_FetchEscalations_UndecodableBodyIsTransport(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	})

	_, err := b.FetchEscalations(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestHTTPBackend_FetchMetrics(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metrics", r.URL.Path)
		assert.Equal(t, "24h", r.URL.Query().Get("range"))
		_, _ = io.WriteString(w, `{"avgTimeToClaim": 4.5, "avg_time_to_resolve": 12, "totalPending": 3}`)
	})

	m, err := b.FetchMetrics(context.Background(), "")
	require.NoError(t, err)
	assert.InDelta(t, 4.5, m.AvgTimeToClaim, 1e-9)
	assert.InDelta(t, 12.0, m.AvgTimeToResolve, 1e-9)
	assert.Equal(t, 3, m.TotalPending)
	assert.Zero(t, m.TotalResolved)
}

func TestHTTPBackend_FetchLeaderboard(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/staff/leaderboard", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `[{"name": "Ana", "claims": 4, "avgResolve": 11.5}, {"staff_name": "Ben", "claims": 2}]`)
	})

	board, err := b.FetchLeaderboard(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "Ana", board[0].Name)
	assert.InDelta(t, 11.5, board[0].AvgResolveMinutes, 1e-9)
	assert.Equal(t, "Ben", board[1].Name)
}

func TestHTTPBackend_ClaimEscalation(t *testing.T) {
	var body map[string]string
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/escalations/42/claim", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"status": "IN_PROGRESS"}`)
	})

	require.NoError(t, b.ClaimEscalation(context.Background(), "42", "Ana"))
	assert.Equal(t, "Ana", body["claimed_by"])
}

func TestHTTPBackend_SetEscalationStatus(t *testing.T) {
	var body map[string]string
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/escalations/42/status", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, b.SetEscalationStatus(context.Background(), "42", models.StatusResolved))
	assert.Equal(t, "RESOLVED", body["status"])
}

func TestHTTPBackend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		transport  bool
		reason     string
		wantDetail string
	}{
		{name: "conflict", status: http.StatusConflict, body: `{"detail": "Escalation already claimed by Ben"}`, reason: ReasonAlreadyClaimed, wantDetail: "Escalation already claimed by Ben"},
		{name: "not found", status: http.StatusNotFound, body: `{"detail": "Not found"}`, reason: ReasonNotFound},
		{name: "bad request already claimed", status: http.StatusBadRequest, body: `{"message": "already claimed"}`, reason: ReasonAlreadyClaimed},
		{name: "bad transition", status: http.StatusUnprocessableEntity, body: `{"error": "invalid status transition"}`, reason: ReasonInvalidTransition},
		{name: "other 4xx", status: http.StatusForbidden, body: `{"detail": "nope"}`, reason: ReasonRejected},
		{name: "server error", status: http.StatusInternalServerError, body: `boom`, transport: true},
		{name: "rate limited", status: http.StatusTooManyRequests, transport: true},
		{name: "request timeout", status: http.StatusRequestTimeout, transport: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			err := b.ClaimEscalation(context.Background(), "1", "Ana")
			require.Error(t, err)
			if tt.transport {
				assert.True(t, IsTransport(err))
				assert.False(t, IsValidation(err))
				return
			}
			assert.True(t, IsValidation(err))
			assert.Equal(t, tt.reason, ReasonOf(err))
			if tt.wantDetail != "" {
				assert.Contains(t, err.Error(), tt.wantDetail)
			}
		})
	}
}

func TestHTTPBackend_UnreachableIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	b := NewHTTPBackend(HTTPConfig{BaseURL: url, Timeout: time.Second}, zap.NewNop())
	_, err := b.FetchEscalations(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestHTTPBackend_CancelledContextIsTransport(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.FetchMetrics(ctx, "24h")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestHTTPBackend_FetchDashboardStats(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/staff/dashboard-stats", r.URL.Path)
		_, _ = io.WriteString(w, `{"totalPending": 2, "alerts": [{"id": "1", "status": "PENDING"}], "topResponders": [{"name": "Ana", "claims": 1}]}`)
	})

	stats, err := b.FetchDashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Metrics.TotalPending)
	require.Len(t, stats.Alerts, 1)
	require.Len(t, stats.TopResponders, 1)
}

func TestHTTPBackend_FetchStaffPerformance_DefaultsName(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/staff/Ana/performance", r.URL.Path)
		_, _ = io.WriteString(w, `{"claims": 9}`)
	})

	entry, err := b.FetchStaffPerformance(context.Background(), "Ana")
	require.NoError(t, err)
	assert.Equal(t, "Ana", entry.Name)
	assert.Equal(t, 9, entry.Claims)
}

// dropConnection 模拟请求已到达后端但响应丢失
func dropConnection(t *testing.T, w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	require.True(t, ok)
	conn, _, err := hj.Hijack()
	require.NoError(t, err)
	_ = conn.Close()
}

func newRetryingHTTPBackend(t *testing.T, handler http.HandlerFunc) *HTTPBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPBackend(HTTPConfig{
		BaseURL:       srv.URL,
		Timeout:       2 * time.Second,
		RetryCount:    2,
		RetryWaitTime: 10 * time.Millisecond,
	}, zap.NewNop())
}

func TestHTTPBackend_ClaimEscalation_DroppedResponseNotRetried(t *testing.T) {
	var hits atomic.Int32
	b := newRetryingHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			dropConnection(t, w)
			return
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"detail": "Escalation already claimed"}`)
	})

	err := b.ClaimEscalation(context.Background(), "42", "Ana")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPBackend_SetEscalationStatus_DroppedResponseNotRetried(t *testing.T) {
	var hits atomic.Int32
	b := newRetryingHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		dropConnection(t, w)
	})

	err := b.SetEscalationStatus(context.Background(), "42", models.StatusResolved)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPBackend_FetchEscalations_RetriesDroppedResponse(t *testing.T) {
	var hits atomic.Int32
	b := newRetryingHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			dropConnection(t, w)
			return
		}
		_, _ = io.WriteString(w, `[{"id": "1", "status": "PENDING"}]`)
	})

	list, err := b.FetchEscalations(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPBackend_FetchAverageTimes(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/metrics/time-to-claim":
			_, _ = io.WriteString(w, `{"average": 3.25}`)
		case "/metrics/time-to-resolve":
			_, _ = io.WriteString(w, `17.5`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	claim, err := b.FetchAverageTimeToClaim(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 3.25, claim, 1e-9)

	resolve, err := b.FetchAverageTimeToResolve(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 17.5, resolve, 1e-9)
}

func TestHTTPBackend_FetchAverageTimes_BadShapeIsTransport(t *testing.T) {
	b := newTestHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[1, 2]`)
	})

	_, err := b.FetchAverageTimeToClaim(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}
