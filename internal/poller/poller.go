package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/backend"
	"github.com/AIexpert-ig/Grace-dashboard/internal/metrics"
	"github.com/AIexpert-ig/Grace-dashboard/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 默认值
const (
	DefaultInterval         = 5 * time.Second
	DefaultFailureThreshold = 3
)

// Config 轮询配置
type Config struct {
	Interval         time.Duration
	FailureThreshold int
	StatusFilter     models.Status
	MetricsRange     string
	LeaderboardLimit int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Interval:         DefaultInterval,
		FailureThreshold: DefaultFailureThreshold,
		MetricsRange:     backend.DefaultMetricsRange,
		LeaderboardLimit: metrics.DefaultLeaderboardLimit,
	}
}

// Update 一次成功轮询的完整结果，三个数据源来自同一周期
type Update struct {
	CycleID        string                    `json:"cycle_id"`
	Escalations    []models.Escalation       `json:"escalations"`
	Metrics        metrics.Snapshot          `json:"metrics"`
	BackendMetrics models.BackendMetrics     `json:"backend_metrics"`
	Leaderboard    []models.LeaderboardEntry `json:"leaderboard"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// Option 轮询器选项
type Option func(*Poller)

// WithTicker 替换周期触发源
func WithTicker(f TickerFactory) Option {
	return func(p *Poller) { p.newTicker = f }
}

// WithClock 替换时钟（每个周期只读取一次）
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// OnStateChange 连接状态变化回调（连接指示灯）
func OnStateChange(fn func(models.ConnectionState)) Option {
	return func(p *Poller) { p.onStateChange = fn }
}

// WithMetrics 启用 prometheus 指标
func WithMetrics(m *Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// Poller 快照轮询器
type Poller struct {
	backend       backend.Backend
	cfg           Config
	logger        *zap.Logger
	newTicker     TickerFactory
	now           func() time.Time
	onStateChange func(models.ConnectionState)
	metrics       *Metrics
}

// New 创建轮询器
func New(b backend.Backend, cfg Config, logger *zap.Logger, opts ...Option) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.MetricsRange == "" {
		cfg.MetricsRange = def.MetricsRange
	}

	p := &Poller{
		backend:   b,
		cfg:       cfg,
		logger:    logger,
		newTicker: newRealTicker,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe 开始轮询：立即执行一次，之后每 interval 执行一次
// interval <= 0 时使用配置的默认间隔
func (p *Poller) Subscribe(callback func(Update), interval time.Duration) *Subscription {
	if interval <= 0 {
		interval = p.cfg.Interval
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Subscription{
		poller:   p,
		callback: callback,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   p.logger.With(zap.String("subscription_id", uuid.NewString())),
	}
	s.setState(models.StateConnecting)

	s.logger.Info("Starting snapshot polling", zap.Duration("interval", interval))
	go s.run(ctx, interval)
	return s
}

// Subscription 一个订阅：独立的轮询循环与连接状态
type Subscription struct {
	poller   *Poller
	callback func(Update)
	cancel   context.CancelFunc
	logger   *zap.Logger
	done     chan struct{}

	stopOnce   sync.Once
	stopped    atomic.Bool
	deliverMu  sync.Mutex
	inCallback atomic.Bool

	stateMu sync.RWMutex
	state   models.ConnectionState

	// 只在轮询 goroutine 中访问
	failures int
}

// Unsubscribe 停止轮询并取消进行中的请求，可重复调用
// 返回后不会再开始新的回调；允许在回调内部调用
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.cancel()
		s.logger.Info("Snapshot polling stopped")
	})
	if s.inCallback.Load() {
		return
	}
	// 等待可能已通过检查的投递结束
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}

// State 当前连接状态
func (s *Subscription) State() models.ConnectionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Done 轮询循环退出后关闭
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := s.poller.newTicker(interval)
	defer ticker.Stop()

	// 首次立即执行
	s.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.cycle(ctx)
		}
	}
}

// cycle 执行一次轮询；周期在订阅 goroutine 内顺序执行，不会重叠
func (s *Subscription) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	p := s.poller
	cycleID := uuid.NewString()
	start := time.Now()

	update, err := p.fetch(ctx, cycleID)
	elapsed := time.Since(start)

	// 取消后到达的结果直接丢弃，不计为失败
	if ctx.Err() != nil || s.stopped.Load() {
		p.metrics.observeCycle(resultCancelled, elapsed)
		s.logger.Debug("Discarded poll cycle after unsubscribe", zap.String("cycle_id", cycleID))
		return
	}

	if err != nil {
		s.recordFailure(cycleID, err)
		p.metrics.observeCycle(resultFailure, elapsed)
		return
	}

	s.recordSuccess()
	s.logger.Debug("Poll cycle completed",
		zap.String("cycle_id", cycleID),
		zap.Int("escalation_count", len(update.Escalations)),
		zap.Duration("duration", elapsed),
	)
	s.deliver(update)
	p.metrics.observeCycle(resultSuccess, elapsed)
}

// fetch 并发拉取三个数据源，全部成功才算成功
func (p *Poller) fetch(ctx context.Context, cycleID string) (Update, error) {
	var (
		escalations []models.Escalation
		backendM    models.BackendMetrics
		board       []models.LeaderboardEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := p.backend.FetchEscalations(gctx, p.cfg.StatusFilter)
		escalations = list
		return err
	})
	g.Go(func() error {
		m, err := p.backend.FetchMetrics(gctx, p.cfg.MetricsRange)
		backendM = m
		return err
	})
	g.Go(func() error {
		list, err := p.backend.FetchLeaderboard(gctx, p.cfg.LeaderboardLimit)
		board = list
		return err
	})
	if err := g.Wait(); err != nil {
		return Update{}, err
	}

	now := p.now()
	normalized := make([]models.Escalation, len(escalations))
	for i := range escalations {
		normalized[i] = escalations[i]
		normalized[i].Normalize()
	}

	var leaderboard []models.LeaderboardEntry
	if len(board) > 0 {
		leaderboard = metrics.RankEntries(board)
		if p.cfg.LeaderboardLimit > 0 && len(leaderboard) > p.cfg.LeaderboardLimit {
			leaderboard = leaderboard[:p.cfg.LeaderboardLimit]
		}
	} else {
		leaderboard = metrics.Leaderboard(normalized, p.cfg.LeaderboardLimit)
	}

	return Update{
		CycleID:        cycleID,
		Escalations:    normalized,
		Metrics:        metrics.Compute(normalized, now),
		BackendMetrics: backendM,
		Leaderboard:    leaderboard,
		Timestamp:      now,
	}, nil
}

func (s *Subscription) deliver(update Update) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.stopped.Load() || s.callback == nil {
		return
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	s.callback(update)
}

func (s *Subscription) recordSuccess() {
	s.failures = 0
	s.setState(models.StateConnected)
}

// recordFailure 连接中首次失败立即断开；已连接时连续失败达到阈值才断开
func (s *Subscription) recordFailure(cycleID string, err error) {
	s.failures++
	threshold := s.poller.cfg.FailureThreshold

	kind := "unknown"
	switch {
	case errors.Is(err, backend.ErrTransport):
		kind = "transport"
	case errors.Is(err, backend.ErrValidation):
		kind = "validation"
	}
	s.logger.Warn("Poll cycle failed",
		zap.String("cycle_id", cycleID),
		zap.String("kind", kind),
		zap.Int("consecutive_failures", s.failures),
		zap.Error(err),
	)

	switch s.State() {
	case models.StateConnecting:
		s.setState(models.StateDisconnected)
	case models.StateConnected:
		if s.failures >= threshold {
			s.setState(models.StateDisconnected)
		}
	}
}

func (s *Subscription) setState(state models.ConnectionState) {
	s.stateMu.Lock()
	if s.state == state {
		s.stateMu.Unlock()
		return
	}
	prev := s.state
	s.state = state
	s.stateMu.Unlock()

	s.poller.metrics.setState(state)
	if prev != "" {
		s.logger.Info("Connection state changed",
			zap.String("from", string(prev)),
			zap.String("to", string(state)),
		)
	}
	if fn := s.poller.onStateChange; fn != nil {
		fn(state)
	}
}
