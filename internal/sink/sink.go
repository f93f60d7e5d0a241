package sink

import (
	"context"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/dashboard"

	"go.uber.org/zap"
)

// Sink 看板视图的发布目标
type Sink interface {
	Name() string
	Publish(ctx context.Context, view dashboard.View) error
}

// Dispatcher 把每次新视图依次交给所有 sink；单个 sink 失败只记录日志
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher 创建分发器
func NewDispatcher(logger *zap.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
	}
}

// Len 已注册的 sink 数量
func (d *Dispatcher) Len() int { return len(d.sinks) }

// Dispatch 发布视图，返回成功的 sink 数量
func (d *Dispatcher) Dispatch(ctx context.Context, view dashboard.View) int {
	ok := 0
	for _, s := range d.sinks {
		pctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Publish(pctx, view)
		cancel()
		if err != nil {
			d.logger.Error("Failed to publish dashboard view",
				zap.String("sink", s.Name()),
				zap.String("cycle_id", view.CycleID),
				zap.Error(err),
			)
			continue
		}
		ok++
	}
	return ok
}
