package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 后端 API 路径（FastAPI）
const (
	pathEscalations      = "/escalations"
	pathEscalation       = "/escalations/{id}"
	pathClaim            = "/escalations/{id}/claim"
	pathStatus           = "/escalations/{id}/status"
	pathMetrics          = "/metrics"
	pathTimeToClaim      = "/metrics/time-to-claim"
	pathTimeToResolve    = "/metrics/time-to-resolve"
	pathLeaderboard      = "/staff/leaderboard"
	pathDashboardStats   = "/staff/dashboard-stats"
	pathStaffPerformance = "/staff/{name}/performance"
)

// HTTPConfig HTTP 后端配置
type HTTPConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
}

// HTTPBackend 基于 resty 的后端客户端
// 读请求可重试；认领与状态变更不可重试，否则已生效的请求重发后会被误报为 already_claimed
type HTTPBackend struct {
	httpClient    *resty.Client
	commandClient *resty.Client
	logger        *zap.Logger
}

// NewHTTPBackend 创建 HTTP 后端客户端
func NewHTTPBackend(cfg HTTPConfig, logger *zap.Logger) *HTTPBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWaitTime <= 0 {
		cfg.RetryWaitTime = 500 * time.Millisecond
	}

	client := newRestyClient(cfg, logger).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		SetRetryMaxWaitTime(4 * cfg.RetryWaitTime)

	return &HTTPBackend{
		httpClient:    client,
		commandClient: newRestyClient(cfg, logger),
		logger:        logger,
	}
}

func newRestyClient(cfg HTTPConfig, logger *zap.Logger) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetLogger(logger.Sugar()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

// FetchEscalations GET /escalations[?status=]
func (b *HTTPBackend) FetchEscalations(ctx context.Context, statusFilter models.Status) ([]models.Escalation, error) {
	const op = "fetch escalations"
	body, err := b.do(ctx, b.httpClient, op, http.MethodGet, pathEscalations, func(r *resty.Request) {
		if statusFilter != "" {
			r.SetQueryParam("status", string(statusFilter))
		}
	})
	if err != nil {
		return nil, err
	}

	list, skipped, err := models.DecodeEscalations(body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if skipped > 0 {
		b.logger.Debug("Skipped malformed escalations", zap.Int("skipped", skipped))
	}
	return list, nil
}

// FetchEscalation GET /escalations/{id}
func (b *HTTPBackend) FetchEscalation(ctx context.Context, id string) (*models.Escalation, error) {
	const op = "fetch escalation"
	body, err := b.do(ctx, b.httpClient, op, http.MethodGet, pathEscalation, func(r *resty.Request) {
		r.SetPathParam("id", id)
	})
	if err != nil {
		return nil, err
	}

	var e models.Escalation
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &e, nil
}

// FetchMetrics GET /metrics?range=
func (b *HTTPBackend) FetchMetrics(ctx context.Context, timeRange string) (models.BackendMetrics, error) {
	const op = "fetch metrics"
	if timeRange == "" {
		timeRange = DefaultMetricsRange
	}
	body, err := b.do(ctx, b.httpClient, op, http.MethodGet, pathMetrics, func(r *resty.Request) {
		r.SetQueryParam("range", timeRange)
	})
	if err != nil {
		return models.BackendMetrics{}, err
	}

	var m models.BackendMetrics
	if err := decodeObject(body, &m); err != nil {
		return models.BackendMetrics{}, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return m, nil
}

// FetchLeaderboard GET /staff/leaderboard?limit=
func (b *HTTPBackend) FetchLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	const op = "fetch leaderboard"
	body, err := b.do(ctx, b.httpClient, op, http.MethodGet, pathLeaderboard, func(r *resty.Request) {
		if limit > 0 {
			r.SetQueryParam("limit", strconv.Itoa(limit))
		}
	})
	if err != nil {
		return nil, err
	}

	list, skipped, err := models.DecodeLeaderboardEntries(body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if skipped > 0 {
		b.logger.Debug("Skipped malformed leaderboard entries", zap.Int("skipped", skipped))
	}
	return list, nil
}

// FetchDashboardStats GET /staff/dashboard-stats（部分后端在这里内嵌 alerts 与 topResponders）
func (b *HTTPBackend) FetchDashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	const op = "fetch dashboard stats"
	body, err := b.do(ctx, b.httpClient, op, http.MethodGet, pathDashboardStats, nil)
	if err != nil {
		return nil, err
	}

	var stats models.DashboardStats
	if err := decodeObject(body, &stats); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &stats, nil
}

// FetchStaffPerformance GET /staff/{name}/performance
func (b *HTTPBackend) FetchStaffPerformance(ctx context.Context, staffName string) (*models.LeaderboardEntry, error) {
	const op = "fetch staff performance"
	body, err := b.do(ctx, b.httpClient, op, http.MethodGet, pathStaffPerformance, func(r *resty.Request) {
		r.SetPathParam("name", staffName)
	})
	if err != nil {
		return nil, err
	}

	var entry models.LeaderboardEntry
	if err := decodeObject(body, &entry); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if entry.Name == "" {
		entry.Name = staffName
	}
	return &entry, nil
}

// FetchAverageTimeToClaim GET /metrics/time-to-claim（分钟）
func (b *HTTPBackend) FetchAverageTimeToClaim(ctx context.Context) (float64, error) {
	return b.fetchAverage(ctx, "fetch time to claim", pathTimeToClaim)
}

// FetchAverageTimeToResolve GET /metrics/time-to-resolve（分钟）
func (b *HTTPBackend) FetchAverageTimeToResolve(ctx context.Context) (float64, error) {
	return b.fetchAverage(ctx, "fetch time to resolve", pathTimeToResolve)
}

func (b *HTTPBackend) fetchAverage(ctx context.Context, op, path string) (float64, error) {
	body, err := b.do(ctx, b.httpClient, op, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	v, err := models.DecodeAverageMinutes(body)
	if err != nil {
		return 0, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return v, nil
}

// ClaimEscalation POST /escalations/{id}/claim {"claimed_by": staffName}
func (b *HTTPBackend) ClaimEscalation(ctx context.Context, id, staffName string) error {
	_, err := b.do(ctx, b.commandClient, "claim escalation", http.MethodPost, pathClaim, func(r *resty.Request) {
		r.SetPathParam("id", id).
			SetBody(map[string]string{"claimed_by": staffName})
	})
	return err
}

// SetEscalationStatus PATCH /escalations/{id}/status {"status": status}
func (b *HTTPBackend) SetEscalationStatus(ctx context.Context, id string, status models.Status) error {
	_, err := b.do(ctx, b.commandClient, "set escalation status", http.MethodPatch, pathStatus, func(r *resty.Request) {
		r.SetPathParam("id", id).
			SetBody(map[string]string{"status": string(status)})
	})
	return err
}

// do 执行请求并把失败归类为 TransportError / ValidationError
func (b *HTTPBackend) do(ctx context.Context, client *resty.Client, op, method, path string, build func(*resty.Request)) ([]byte, error) {
	requestID := uuid.NewString()
	req := client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID)
	if build != nil {
		build(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		b.logger.Debug("Backend request failed",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, &TransportError{Op: op, Err: err}
	}

	status := resp.StatusCode()
	if resp.IsSuccess() {
		return resp.Body(), nil
	}

	message := errorMessage(resp.Body(), resp.Status())
	b.logger.Debug("Backend returned error status",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status_code", status),
		zap.String("message", message),
	)

	if isTransportStatus(status) {
		return nil, &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("%s", message)}
	}
	return nil, &ValidationError{
		Op:         op,
		StatusCode: status,
		Reason:     reasonFor(status, message),
		Message:    message,
	}
}

// isTransportStatus 5xx、408、429 视为传输层失败（可重试）；其它 4xx 为后端拒绝
func isTransportStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status < 400
}

func reasonFor(status int, message string) string {
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusConflict, strings.Contains(lower, "already claimed"):
		return ReasonAlreadyClaimed
	case status == http.StatusNotFound:
		return ReasonNotFound
	case strings.Contains(lower, "transition"):
		return ReasonInvalidTransition
	default:
		return ReasonRejected
	}
}

// errorMessage 提取 FastAPI 风格的错误信息（detail / message / error）
func errorMessage(body []byte, fallback string) string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			v, ok := raw[key]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(v, &s); err == nil && s != "" {
				return s
			}
			return string(v)
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 200 {
		return text
	}
	return fallback
}

// decodeObject 空响应按零值处理，其它情况要求是 JSON 对象
func decodeObject(body []byte, out any) error {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return models.ErrUnexpectedShape
	}
	return json.Unmarshal(body, out)
}
