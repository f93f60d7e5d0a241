package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Status 工单状态（线上格式与后端保持一致：PENDING / IN_PROGRESS / RESOLVED）
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	// StatusUnknown 后端返回了无法识别的状态（降级处理，不报错）
	StatusUnknown Status = "UNKNOWN"
)

// ParseStatus 解析状态字符串，兼容大小写以及 "-"/空格 分隔符
// 空字符串返回 ""（表示未指定），其它无法识别的值返回 StatusUnknown
func ParseStatus(s string) Status {
	norm := strings.ToUpper(strings.TrimSpace(s))
	if norm == "" {
		return ""
	}
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case "PENDING":
		return StatusPending
	case "IN_PROGRESS", "INPROGRESS":
		return StatusInProgress
	case "RESOLVED":
		return StatusResolved
	default:
		return StatusUnknown
	}
}

// Valid 是否为三种生命周期状态之一
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusResolved
}

// Label 展示用名称
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "In Progress"
	case StatusResolved:
		return "Resolved"
	default:
		return "Unknown"
	}
}

// CanTransitionTo 状态只允许向前流转：PENDING → IN_PROGRESS → RESOLVED
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusResolved
	default:
		return false
	}
}

// Previous 返回合法流转到 s 的前一状态
func (s Status) Previous() (Status, bool) {
	switch s {
	case StatusInProgress:
		return StatusPending, true
	case StatusResolved:
		return StatusInProgress, true
	default:
		return "", false
	}
}

// Escalation 宾客服务工单（来自后端快照，只读）
type Escalation struct {
	ID         string     `json:"id"`
	Room       string     `json:"room_number"`
	GuestName  string     `json:"guest_name"`
	Issue      string     `json:"issue"`
	Status     Status     `json:"status"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	ClaimedBy  string     `json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// IsClaimed 是否已被员工认领
func (e *Escalation) IsClaimed() bool {
	return e.ClaimedBy != ""
}

// Normalize 修正不满足不变式的数据：没有认领人时清空认领时间
func (e *Escalation) Normalize() {
	e.ClaimedBy = strings.TrimSpace(e.ClaimedBy)
	if e.ClaimedBy == "" {
		e.ClaimedAt = nil
	}
}

// UnmarshalJSON 兼容两套前端使用的字段名（room/room_number、guest/guest_name 等）
// 缺失字段按零值处理，不返回错误
func (e *Escalation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = Escalation{
		ID:         decodeString(firstRaw(raw, "id", "escalation_id", "escalationId")),
		Room:       decodeString(firstRaw(raw, "room_number", "room", "roomNumber")),
		GuestName:  decodeString(firstRaw(raw, "guest_name", "guest", "guestName")),
		Issue:      decodeString(firstRaw(raw, "issue", "description")),
		Status:     ParseStatus(decodeString(firstRaw(raw, "status"))),
		CreatedAt:  decodeTime(firstRaw(raw, "created_at", "createdAt")),
		ClaimedBy:  decodeString(firstRaw(raw, "claimed_by", "claimedBy")),
		ClaimedAt:  decodeTime(firstRaw(raw, "claimed_at", "claimedAt")),
		ResolvedAt: decodeTime(firstRaw(raw, "resolved_at", "resolvedAt")),
	}
	if e.Status == "" {
		e.Status = StatusUnknown
	}
	e.Normalize()
	return nil
}
