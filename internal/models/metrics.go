package models

import (
	"bytes"
	"encoding/json"
)

// BackendMetrics 后端预聚合的指标（本地会基于工单列表重新计算）
// 缺失的数值字段一律为 0
type BackendMetrics struct {
	AvgTimeToClaim   float64 `json:"avgTimeToClaim"`
	AvgTimeToResolve float64 `json:"avgTimeToResolve"`
	TotalPending     int     `json:"totalPending"`
	TotalInProgress  int     `json:"totalInProgress"`
	TotalResolved    int     `json:"totalResolved"`
	TotalAlerts      int     `json:"totalAlerts"`
}

// UnmarshalJSON 兼容 avgResponseTime / avgTimeToResolve 等不同命名
func (m *BackendMetrics) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = BackendMetrics{
		AvgTimeToClaim:   decodeFloat(firstRaw(raw, "avgTimeToClaim", "avg_time_to_claim")),
		AvgTimeToResolve: decodeFloat(firstRaw(raw, "avgTimeToResolve", "avg_time_to_resolve", "avgResponseTime", "avg_response_time")),
		TotalPending:     decodeInt(firstRaw(raw, "totalPending", "total_pending", "pending")),
		TotalInProgress:  decodeInt(firstRaw(raw, "totalInProgress", "total_in_progress", "in_progress")),
		TotalResolved:    decodeInt(firstRaw(raw, "totalResolved", "total_resolved", "resolved", "resolvedCount")),
		TotalAlerts:      decodeInt(firstRaw(raw, "totalAlerts", "total_alerts", "total")),
	}
	return nil
}

// LeaderboardEntry 员工排行榜条目
type LeaderboardEntry struct {
	Name              string  `json:"name"`
	Claims            int     `json:"claims"`
	AvgResolveMinutes float64 `json:"avgResolve"`
}

// UnmarshalJSON 兼容 name/staff_name、claims/claim_count 等字段名
func (l *LeaderboardEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = LeaderboardEntry{
		Name:              decodeString(firstRaw(raw, "name", "staff_name", "staff", "claimed_by")),
		Claims:            decodeInt(firstRaw(raw, "claims", "claim_count", "total_claims", "count")),
		AvgResolveMinutes: decodeFloat(firstRaw(raw, "avgResolve", "avg_resolve_time", "avgResolveTime", "avg_resolve_minutes")),
	}
	return nil
}

// ConnectionState 与后端的连接状态（用于页面上的 Live 指示灯）
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// DashboardStats /staff/dashboard-stats 的返回（部分后端直接在这里内嵌 alerts）
type DashboardStats struct {
	Metrics       BackendMetrics
	Alerts        []Escalation
	TopResponders []LeaderboardEntry
}

// UnmarshalJSON 顶层字段与 BackendMetrics 共用，alerts/topResponders 缺失时为空
func (d *DashboardStats) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = DashboardStats{Alerts: []Escalation{}, TopResponders: []LeaderboardEntry{}}
	if err := json.Unmarshal(data, &d.Metrics); err != nil {
		return err
	}
	if v := firstRaw(raw, "alerts", "escalations"); v != nil {
		d.Alerts = DecodeEscalationList(v)
	}
	if v := firstRaw(raw, "topResponders", "top_responders", "leaderboard"); v != nil {
		d.TopResponders = DecodeLeaderboard(v)
	}
	return nil
}

// DecodeAverageMinutes 解析 /metrics/time-to-claim、/metrics/time-to-resolve 的返回
// 支持裸数字或 {"average": 4.5} 形式的对象，空响应为 0
func DecodeAverageMinutes(data []byte) (float64, error) {
	trimmed := bytes.TrimSpace(data)
	if isNull(trimmed) {
		return 0, nil
	}
	if trimmed[0] != '{' {
		var f float64
		if err := json.Unmarshal(trimmed, &f); err == nil {
			return f, nil
		}
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, ErrUnexpectedShape
		}
		return decodeFloat(trimmed), nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return 0, err
	}
	return decodeFloat(firstRaw(raw,
		"average", "avg", "minutes", "value",
		"avgTimeToClaim", "avg_time_to_claim",
		"avgTimeToResolve", "avg_time_to_resolve",
	)), nil
}
