package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/backend"
	"github.com/AIexpert-ig/Grace-dashboard/internal/config"
	"github.com/AIexpert-ig/Grace-dashboard/internal/dashboard"
	"github.com/AIexpert-ig/Grace-dashboard/internal/database"
	"github.com/AIexpert-ig/Grace-dashboard/internal/gateway"
	httpapi "github.com/AIexpert-ig/Grace-dashboard/internal/http"
	"github.com/AIexpert-ig/Grace-dashboard/internal/models"
	"github.com/AIexpert-ig/Grace-dashboard/internal/mqtt"
	"github.com/AIexpert-ig/Grace-dashboard/internal/poller"
	"github.com/AIexpert-ig/Grace-dashboard/internal/redisclient"
	"github.com/AIexpert-ig/Grace-dashboard/internal/sink"
	"github.com/AIexpert-ig/Grace-dashboard/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DashboardService 看板服务（整合各层）
type DashboardService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client

	// 各层组件
	backend    backend.Backend
	poller     *poller.Poller
	board      *dashboard.Board
	gateway    *gateway.Gateway
	dispatcher *sink.Dispatcher
	redisSink  *sink.RedisSink
	registry   *prometheus.Registry
	router     *httpapi.Router
	server     *Server

	mu  sync.Mutex
	ctx context.Context
	sub *poller.Subscription
}

// NewDashboardService 创建看板服务：按配置连接后端、Redis、MQTT
func NewDashboardService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DashboardService, error) {
	s := &DashboardService{
		config: cfg,
		logger: logger,
	}

	// 1. 后端
	switch cfg.Backend.Mode {
	case config.BackendModePostgres:
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.backend = backend.NewPostgresBackend(db, logger)
	default:
		s.backend = backend.NewHTTPBackend(backend.HTTPConfig{
			BaseURL:    cfg.Backend.APIURL,
			Timeout:    cfg.HTTPTimeout(),
			RetryCount: cfg.Backend.RetryCount,
		}, logger)
	}

	// 2. Redis（快照缓存 + 更新流）
	if cfg.Redis.Enabled {
		client, err := redisclient.NewClient(ctx, &cfg.Redis)
		if err != nil {
			s.closeConnections()
			return nil, err
		}
		s.redisClient = client
	}

	// 3. MQTT（retained 快照推送）
	if cfg.MQTT.Enabled {
		client, err := mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.closeConnections()
			return nil, err
		}
		s.mqttClient = client
	}

	if err := s.build(); err != nil {
		s.closeConnections()
		return nil, err
	}
	return s, nil
}

// build 组装 poller、gateway、sink 与 HTTP 路由
func (s *DashboardService) build() error {
	cfg := s.config

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.board = dashboard.NewBoard()
	s.gateway = gateway.New(s.backend, s.logger)

	var sinks []sink.Sink
	if s.redisClient != nil {
		kv := store.NewRedisKV(s.redisClient)
		s.redisSink = sink.NewRedisSink(kv, kv, sink.RedisSinkConfig{
			SnapshotKey:  cfg.Redis.SnapshotKey,
			SnapshotTTL:  cfg.SnapshotTTL(),
			Stream:       cfg.Redis.Stream,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		}, s.logger)
		sinks = append(sinks, s.redisSink)
	}
	if s.mqttClient != nil {
		sinks = append(sinks, sink.NewMQTTSink(s.mqttClient, cfg.MQTT.Topic, cfg.MQTT.QoS, s.logger))
	}
	s.dispatcher = sink.NewDispatcher(s.logger, 3*time.Second, sinks...)

	s.poller = poller.New(s.backend, poller.Config{
		Interval:         cfg.PollInterval(),
		FailureThreshold: cfg.Poller.FailureThreshold,
		StatusFilter:     models.ParseStatus(cfg.Poller.StatusFilter),
		MetricsRange:     cfg.Poller.MetricsRange,
		LeaderboardLimit: cfg.Poller.LeaderboardLimit,
	}, s.logger,
		poller.WithClock(func() time.Time { return time.Now().In(loc) }),
		poller.WithMetrics(poller.NewMetrics(s.registry)),
		poller.OnStateChange(s.board.SetState),
	)

	s.router = s.newRouter()
	s.server = NewServer(cfg.HTTP.Addr, s.router, s.logger)
	return nil
}

func (s *DashboardService) newRouter() *httpapi.Router {
	var cache httpapi.SnapshotCache
	if s.redisSink != nil {
		cache = s.redisSink
	}

	var lookup httpapi.EscalationLookup
	if l, ok := s.backend.(httpapi.EscalationLookup); ok {
		lookup = l
	}
	var staff httpapi.StaffLookup
	if l, ok := s.backend.(httpapi.StaffLookup); ok {
		staff = l
	}

	router := httpapi.NewRouter(s.logger)
	router.RegisterHealthRoutes()
	router.RegisterDashboardRoutes(httpapi.NewDashboardHandler(s.board, cache, s.logger))
	router.RegisterEscalationRoutes(httpapi.NewEscalationHandler(s.gateway, lookup, s.logger))
	staffHandler := httpapi.NewStaffHandler(staff, s.logger)
	router.RegisterStaffRoutes(staffHandler)
	router.RegisterTimingRoutes(staffHandler)
	router.RegisterMetricsRoute(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return router
}

// Start 启动轮询并阻塞运行 HTTP 服务，ctx 取消后返回
func (s *DashboardService) Start(ctx context.Context) error {
	s.logger.Info("Starting dashboard service",
		zap.String("backend_mode", s.config.Backend.Mode),
		zap.Duration("poll_interval", s.config.PollInterval()),
		zap.Int("sinks", s.dispatcher.Len()),
	)

	s.StartPolling(ctx)

	if err := s.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}
	return nil
}

// StartPolling 订阅轮询器；每个成功周期更新看板并分发到 sink
func (s *DashboardService) StartPolling(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return
	}
	s.ctx = ctx
	s.sub = s.poller.Subscribe(s.onUpdate, s.config.PollInterval())
}

func (s *DashboardService) onUpdate(update poller.Update) {
	view := s.board.Apply(update)

	s.logger.Debug("Dashboard updated",
		zap.String("cycle_id", update.CycleID),
		zap.Int("escalations", len(view.Items)),
		zap.Int("critical", view.Tiers.Critical),
		zap.Int("urgent", view.Tiers.Urgent),
	)

	if s.dispatcher.Len() > 0 {
		s.dispatcher.Dispatch(s.ctx, view)
	}
}

// Handler HTTP 路由
func (s *DashboardService) Handler() http.Handler {
	return s.router
}

// Board 当前看板
func (s *DashboardService) Board() *dashboard.Board {
	return s.board
}

// Stop 停止服务
func (s *DashboardService) Stop() error {
	s.logger.Info("Stopping dashboard service")

	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
		<-sub.Done()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown http server", zap.Error(err))
	}

	s.closeConnections()
	return nil
}

func (s *DashboardService) closeConnections() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := redisclient.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
}
