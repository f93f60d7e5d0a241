package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/models"

	"go.uber.org/zap"
)

// PostgresBackend 直连后端数据库的实现（escalations 表）
// 与 HTTP API 语义一致：认领使用条件更新，状态只允许向前流转
type PostgresBackend struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresBackend 创建数据库后端
func NewPostgresBackend(db *sql.DB, logger *zap.Logger) *PostgresBackend {
	return &PostgresBackend{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// 确保实现了接口
var (
	_ Backend = (*PostgresBackend)(nil)
	_ Backend = (*HTTPBackend)(nil)
)

const escalationColumns = `id::text, COALESCE(room_number, ''), COALESCE(guest_name, ''), COALESCE(issue, ''),
	COALESCE(status, ''), created_at, COALESCE(claimed_by, ''), claimed_at, resolved_at`

// FetchEscalations 查询工单，最新的在前
func (b *PostgresBackend) FetchEscalations(ctx context.Context, statusFilter models.Status) ([]models.Escalation, error) {
	const op = "fetch escalations"

	query := `SELECT ` + escalationColumns + ` FROM escalations`
	args := []interface{}{}
	if statusFilter != "" {
		query += ` WHERE status = $1`
		args = append(args, string(statusFilter))
	}
	query += ` ORDER BY created_at DESC NULLS LAST`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("query escalations: %w", err)}
	}
	defer rows.Close()

	list := []models.Escalation{}
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("scan escalation: %w", err)}
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return list, nil
}

// FetchEscalation 按 id 查询单个工单
func (b *PostgresBackend) FetchEscalation(ctx context.Context, id string) (*models.Escalation, error) {
	const op = "fetch escalation"

	row := b.db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id::text = $1`, id)
	e, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ValidationError{Op: op, Reason: ReasonNotFound, Message: "escalation " + id + " not found"}
	}
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return &e, nil
}

// FetchMetrics 在 timeRange 窗口内聚合（分钟）
func (b *PostgresBackend) FetchMetrics(ctx context.Context, timeRange string) (models.BackendMetrics, error) {
	const op = "fetch metrics"

	window, err := ParseTimeRange(timeRange)
	if err != nil {
		return models.BackendMetrics{}, &ValidationError{Op: op, Reason: ReasonRejected, Message: err.Error()}
	}
	since := b.now().Add(-window)

	query := `
		SELECT
			COALESCE(AVG(EXTRACT(EPOCH FROM (claimed_at - created_at)) / 60)
				FILTER (WHERE claimed_at IS NOT NULL AND claimed_at >= created_at), 0),
			COALESCE(AVG(GREATEST(EXTRACT(EPOCH FROM (COALESCE(resolved_at, claimed_at) - created_at)) / 60, 0))
				FILTER (WHERE status = 'RESOLVED' AND COALESCE(resolved_at, claimed_at) IS NOT NULL), 0),
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'IN_PROGRESS'),
			COUNT(*) FILTER (WHERE status = 'RESOLVED'),
			COUNT(*)
		FROM escalations
		WHERE created_at >= $1
	`

	var m models.BackendMetrics
	err = b.db.QueryRowContext(ctx, query, since).Scan(
		&m.AvgTimeToClaim,
		&m.AvgTimeToResolve,
		&m.TotalPending,
		&m.TotalInProgress,
		&m.TotalResolved,
		&m.TotalAlerts,
	)
	if err != nil {
		return models.BackendMetrics{}, &TransportError{Op: op, Err: fmt.Errorf("aggregate metrics: %w", err)}
	}
	return m, nil
}

// FetchLeaderboard 按认领数排序；并列时先出现（最早认领）的员工在前
func (b *PostgresBackend) FetchLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	const op = "fetch leaderboard"

	query := `
		SELECT
			claimed_by,
			COUNT(*) AS claims,
			COALESCE(AVG(GREATEST(EXTRACT(EPOCH FROM (COALESCE(resolved_at, claimed_at) - created_at)) / 60, 0))
				FILTER (WHERE status = 'RESOLVED' AND COALESCE(resolved_at, claimed_at) IS NOT NULL), 0) AS avg_resolve
		FROM escalations
		WHERE claimed_by IS NOT NULL AND claimed_by <> ''
		GROUP BY claimed_by
		ORDER BY claims DESC, MIN(created_at) ASC
	`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("query leaderboard: %w", err)}
	}
	defer rows.Close()

	board := []models.LeaderboardEntry{}
	for rows.Next() {
		var entry models.LeaderboardEntry
		if err := rows.Scan(&entry.Name, &entry.Claims, &entry.AvgResolveMinutes); err != nil {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("scan leaderboard: %w", err)}
		}
		board = append(board, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return board, nil
}

// ClaimEscalation 只有 PENDING 的工单可以被认领，竞争失败返回 already_claimed
func (b *PostgresBackend) ClaimEscalation(ctx context.Context, id, staffName string) error {
	const op = "claim escalation"

	res, err := b.db.ExecContext(ctx, `
		UPDATE escalations
		SET status = 'IN_PROGRESS', claimed_by = $2, claimed_at = NOW()
		WHERE id::text = $1 AND status = 'PENDING'
	`, id, staffName)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("update escalation: %w", err)}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if affected > 0 {
		b.logger.Info("Escalation claimed", zap.String("id", id), zap.String("claimed_by", staffName))
		return nil
	}

	current, err := b.currentStatus(ctx, op, id)
	if err != nil {
		return err
	}
	return &ValidationError{
		Op:      op,
		Reason:  ReasonAlreadyClaimed,
		Message: fmt.Sprintf("escalation %s is %s", id, current),
	}
}

// SetEscalationStatus 只允许 IN_PROGRESS → RESOLVED
// 进入 IN_PROGRESS 必须走 ClaimEscalation，保证 claimed_by 与 claimed_at 同时写入
func (b *PostgresBackend) SetEscalationStatus(ctx context.Context, id string, status models.Status) error {
	const op = "set escalation status"

	if !status.Valid() {
		return &ValidationError{Op: op, Reason: ReasonInvalidStatus, Message: fmt.Sprintf("unknown status %q", status)}
	}
	prev, ok := status.Previous()
	if !ok {
		return &ValidationError{Op: op, Reason: ReasonInvalidTransition, Message: fmt.Sprintf("cannot move to %s", status)}
	}
	if status == models.StatusInProgress {
		return &ValidationError{Op: op, Reason: ReasonInvalidTransition, Message: "use claim to move an escalation to IN_PROGRESS"}
	}

	res, err := b.db.ExecContext(ctx, `
		UPDATE escalations
		SET status = $2::text, resolved_at = NOW()
		WHERE id::text = $1 AND status = $3::text
	`, id, string(status), string(prev))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("update escalation: %w", err)}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if affected > 0 {
		b.logger.Info("Escalation status updated", zap.String("id", id), zap.String("status", string(status)))
		return nil
	}

	current, err := b.currentStatus(ctx, op, id)
	if err != nil {
		return err
	}
	return &ValidationError{
		Op:      op,
		Reason:  ReasonInvalidTransition,
		Message: fmt.Sprintf("cannot move escalation %s from %s to %s", id, current, status),
	}
}

// currentStatus 条件更新没有命中时区分 not_found 与状态冲突
func (b *PostgresBackend) currentStatus(ctx context.Context, op, id string) (models.Status, error) {
	var raw string
	err := b.db.QueryRowContext(ctx, `SELECT COALESCE(status, '') FROM escalations WHERE id::text = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &ValidationError{Op: op, Reason: ReasonNotFound, Message: "escalation " + id + " not found"}
	}
	if err != nil {
		return "", &TransportError{Op: op, Err: fmt.Errorf("lookup escalation: %w", err)}
	}
	return models.ParseStatus(raw), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEscalation(row rowScanner) (models.Escalation, error) {
	var (
		e         models.Escalation
		status    string
		createdAt sql.NullTime
		claimedAt sql.NullTime
		resolved  sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.Room, &e.GuestName, &e.Issue, &status, &createdAt, &e.ClaimedBy, &claimedAt, &resolved); err != nil {
		return models.Escalation{}, err
	}
	e.Status = models.ParseStatus(status)
	if e.Status == "" {
		e.Status = models.StatusUnknown
	}
	e.CreatedAt = nullTimePtr(createdAt)
	e.ClaimedAt = nullTimePtr(claimedAt)
	e.ResolvedAt = nullTimePtr(resolved)
	e.Normalize()
	return e, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// ParseTimeRange 解析 "30m"、"24h"、"7d"、"2w" 形式的时间窗口，空字符串按默认 24h
func ParseTimeRange(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		s = DefaultMetricsRange
	}

	unit := s[len(s)-1]
	switch unit {
	case 'd', 'w':
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid time range %q", s)
		}
		day := 24 * time.Hour
		if unit == 'w' {
			return time.Duration(n) * 7 * day, nil
		}
		return time.Duration(n) * day, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid time range %q", s)
	}
	return d, nil
}
