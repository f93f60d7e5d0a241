package poller

import "time"

// Ticker 周期触发源，C() 的缓冲为 1，周期进行中到达的多次 tick 会被合并
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory 为每个订阅创建 Ticker
type TickerFactory func(interval time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func newRealTicker(interval time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(interval)}
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// ManualTicker 手动触发的 Ticker（测试用）
type ManualTicker struct {
	ch chan time.Time
}

// NewManualTicker 创建手动 Ticker
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time, 1)}
}

func (m *ManualTicker) C() <-chan time.Time { return m.ch }
func (m *ManualTicker) Stop()               {}

// Tick 触发一次；已有未消费的 tick 时丢弃，与 time.Ticker 行为一致
func (m *ManualTicker) Tick() {
	select {
	case m.ch <- time.Now():
	default:
	}
}

// Factory 返回总是复用该 Ticker 的工厂
func (m *ManualTicker) Factory() TickerFactory {
	return func(time.Duration) Ticker { return m }
}
