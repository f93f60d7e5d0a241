package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/dashboard"
	"github.com/AIexpert-ig/Grace-dashboard/internal/store"

	"go.uber.org/zap"
)

// ErrNoSnapshot 缓存中还没有快照（或已过期）
var ErrNoSnapshot = errors.New("no cached snapshot")

// RedisSinkConfig Redis 发布配置
type RedisSinkConfig struct {
	SnapshotKey  string
	SnapshotTTL  time.Duration
	Stream       string
	StreamMaxLen int64
}

// RedisSink 把最新视图写入 Redis（SET + TTL），并把摘要追加到更新流
type RedisSink struct {
	kv     store.KV
	stream store.Stream
	cfg    RedisSinkConfig
	logger *zap.Logger
}

// NewRedisSink 创建 Redis sink；stream 为 nil 或 cfg.Stream 为空时不写更新流
func NewRedisSink(kv store.KV, stream store.Stream, cfg RedisSinkConfig, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		kv:     kv,
		stream: stream,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *RedisSink) Name() string { return "redis" }

// Publish 写入快照与更新摘要
func (s *RedisSink) Publish(ctx context.Context, view dashboard.View) error {
	jsonData, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard view: %w", err)
	}

	if err := s.kv.Set(ctx, s.cfg.SnapshotKey, string(jsonData), s.cfg.SnapshotTTL); err != nil {
		return fmt.Errorf("failed to set snapshot cache: %w", err)
	}

	if s.stream != nil && s.cfg.Stream != "" {
		id, err := s.stream.Append(ctx, s.cfg.Stream, s.cfg.StreamMaxLen, summary(view))
		if err != nil {
			return fmt.Errorf("failed to append update to stream: %w", err)
		}
		s.logger.Debug("Appended dashboard update",
			zap.String("stream", s.cfg.Stream),
			zap.String("message_id", id),
		)
	}

	s.logger.Debug("Updated dashboard snapshot cache",
		zap.String("key", s.cfg.SnapshotKey),
		zap.String("cycle_id", view.CycleID),
	)
	return nil
}

// Latest 读取缓存中的最新视图
func (s *RedisSink) Latest(ctx context.Context) (dashboard.View, error) {
	raw, err := s.kv.Get(ctx, s.cfg.SnapshotKey)
	if errors.Is(err, store.ErrMiss) {
		return dashboard.View{}, ErrNoSnapshot
	}
	if err != nil {
		return dashboard.View{}, fmt.Errorf("failed to get snapshot cache: %w", err)
	}

	var view dashboard.View
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return dashboard.View{}, fmt.Errorf("failed to unmarshal snapshot cache: %w", err)
	}
	return view, nil
}

// Recent 最近的更新摘要（最新在前）
func (s *RedisSink) Recent(ctx context.Context, count int64) ([]store.StreamEntry, error) {
	if s.stream == nil || s.cfg.Stream == "" {
		return []store.StreamEntry{}, nil
	}
	return s.stream.Recent(ctx, s.cfg.Stream, count)
}

// summary 更新流只保存计数与比率，完整视图在快照键中
func summary(view dashboard.View) map[string]interface{} {
	return map[string]interface{}{
		"cycle_id":        view.CycleID,
		"timestamp":       view.GeneratedAt,
		"connection":      string(view.Connection),
		"total":           view.Metrics.Total,
		"pending":         view.Metrics.TotalPending,
		"in_progress":     view.Metrics.TotalInProgress,
		"resolved":        view.Metrics.TotalResolved,
		"resolution_rate": view.Metrics.ResolutionRate,
		"avg_claim_min":   view.Metrics.AvgTimeToClaim,
		"avg_resolve_min": view.Metrics.AvgTimeToResolve,
		"critical":        view.Tiers.Critical,
		"urgent":          view.Tiers.Urgent,
	}
}
