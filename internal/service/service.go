package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/CleanExpo/zenith-integration-hub/internal/auth"
	"github.com/CleanExpo/zenith-integration-hub/internal/config"
	"github.com/CleanExpo/zenith-integration-hub/internal/consumer"
	"github.com/CleanExpo/zenith-integration-hub/internal/database"
	"github.com/CleanExpo/zenith-integration-hub/internal/gateway"
	"github.com/CleanExpo/zenith-integration-hub/internal/metrics"
	"github.com/CleanExpo/zenith-integration-hub/internal/models"
	"github.com/CleanExpo/zenith-integration-hub/internal/rabbitmq"
	"github.com/CleanExpo/zenith-integration-hub/internal/ratelimit"
	"github.com/CleanExpo/zenith-integration-hub/internal/scheduler"
	"github.com/CleanExpo/zenith-integration-hub/internal/store"
	"github.com/CleanExpo/zenith-integration-hub/internal/webhook"
)

// Service holds every component of the hub, wired once at startup. This
// eliminates global state and enables proper dependency injection: handlers
// and tests receive a *Service instead of reaching for package singletons.
type Service struct {
	Config *config.Config
	Logger *zap.Logger

	Store store.Store
	DB    *gorm.DB      // nil with the memory backend
	Redis *redis.Client // nil unless configured
	RMQ   *rabbitmq.Connection

	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Aggregator
	Watcher   *metrics.Watcher

	Routes     *gateway.RouteRegistry
	Adapters   *gateway.AdapterRegistry
	Limiter    *ratelimit.Limiter
	Cache      *gateway.ResponseCache
	Dispatcher *gateway.Dispatcher

	Subscriptions *webhook.Registry
	Engine        *webhook.Engine
	Consumer      *consumer.Consumer

	// in-process backends that need periodic sweeping; nil when Redis
	// carries the state instead
	counters     *ratelimit.MemoryCounter
	cacheBackend *gateway.MemoryCache

	stopTasks []func()
}

// New constructs the full dependency graph in order: storage, shared
// infrastructure, the gateway plane, then the webhook plane. Nothing starts
// running until Start.
func New(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	s := &Service{Config: cfg, Logger: logger}

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		if err := database.RunMigrations(&cfg.Database, logger); err != nil {
			return nil, err
		}
		db, err := database.Connect(&cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		s.DB = db
		s.Store = store.NewPostgres(db)
	default:
		s.Store = store.NewMemory()
		logger.Info("Using in-memory store; state is lost on restart")
	}

	if cfg.Redis.Addr != "" {
		s.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	s.Scheduler = scheduler.New(logger)
	s.Metrics = metrics.NewAggregator(time.Duration(cfg.Metrics.WindowSeconds)*time.Second, logger)

	s.Routes = gateway.NewRouteRegistry(s.Store, logger)
	s.Adapters = gateway.NewAdapterRegistry()
	for _, integ := range cfg.Integrations {
		s.Adapters.Register(integ.ID, integ.Instance, gateway.NewHTTPAdapter(integ.BaseURL, logger))
		logger.Info("Registered integration adapter",
			zap.String("integration_id", integ.ID),
			zap.String("instance", integ.Instance),
			zap.String("base_url", integ.BaseURL),
		)
	}

	var counters ratelimit.CounterStore
	if s.Redis != nil {
		counters = ratelimit.NewRedisCounter(s.Redis, "ratelimit")
	} else {
		s.counters = ratelimit.NewMemoryCounter()
		counters = s.counters
	}
	s.Limiter = ratelimit.New(counters, logger)

	var cacheBackend gateway.CacheBackend
	if s.Redis != nil {
		cacheBackend = gateway.NewRedisCache(s.Redis, "gwcache")
	} else {
		s.cacheBackend = gateway.NewMemoryCache()
		cacheBackend = s.cacheBackend
	}
	s.Cache = gateway.NewResponseCache(cacheBackend, logger)

	var verifiers []auth.Verifier
	if len(cfg.Auth.APIKeys) > 0 {
		verifiers = append(verifiers, auth.NewAPIKeyVerifier(cfg.Auth.APIKeys))
	}
	if cfg.Auth.JWTSecret != "" {
		verifiers = append(verifiers, auth.NewJWTVerifier(cfg.Auth.JWTSecret))
	}

	s.Dispatcher = gateway.NewDispatcher(
		s.Routes,
		s.Limiter,
		verifiers,
		s.Adapters,
		s.Cache,
		s.Metrics,
		time.Duration(cfg.Gateway.DefaultTimeoutMs)*time.Millisecond,
		logger,
	)

	s.Subscriptions = webhook.NewRegistry(s.Store, logger)
	deliverer := webhook.NewDeliverer(cfg.Delivery.MaxResponseBodyBytes, logger)
	s.Engine = webhook.NewEngine(
		s.Store,
		s.Subscriptions,
		s.Scheduler,
		deliverer,
		s.Metrics,
		webhook.EngineConfig{
			DefaultMaxRetries: cfg.Delivery.DefaultMaxRetries,
			DefaultTimeout:    time.Duration(cfg.Delivery.DefaultTimeoutMs) * time.Millisecond,
			MaxConcurrent:     cfg.Delivery.MaxConcurrent,
		},
		logger,
	)

	s.Watcher = metrics.NewWatcher(s.Metrics, s.thresholds, logger)

	if cfg.RabbitMQ.URL != "" {
		s.RMQ = rabbitmq.NewConnection(&cfg.RabbitMQ, logger)
		s.Consumer = consumer.New(s.RMQ, s.Engine, &cfg.RabbitMQ, logger)
	}

	return s, nil
}

// Start loads persisted state, starts the scheduler and delivery engine,
// connects the broker when configured, and registers housekeeping ticks.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Routes.Load(ctx); err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}
	if err := s.Subscriptions.Load(ctx); err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	if err := s.Scheduler.Start(); err != nil {
		return err
	}
	if err := s.Engine.Start(); err != nil {
		return err
	}

	if s.RMQ != nil {
		if err := s.RMQ.Connect(); err != nil {
			return err
		}
		if err := s.Consumer.Start(); err != nil {
			return err
		}
	}

	sweep := time.Duration(s.Config.Metrics.SweepSeconds) * time.Second
	if sweep <= 0 {
		sweep = 30 * time.Second
	}
	s.stopTasks = append(s.stopTasks,
		s.Scheduler.Every(sweep, s.Metrics.Sweep),
		s.Scheduler.Every(sweep, s.Watcher.Run),
	)
	if s.counters != nil {
		s.stopTasks = append(s.stopTasks, s.Scheduler.Every(sweep, func() {
			s.counters.Sweep(time.Now())
		}))
	}
	if s.cacheBackend != nil {
		s.stopTasks = append(s.stopTasks, s.Scheduler.Every(sweep, func() {
			s.cacheBackend.Sweep(time.Now())
		}))
	}

	s.Logger.Info("Service started",
		zap.String("store_backend", s.Config.Store.Backend),
		zap.Int("routes", len(s.Routes.List())),
		zap.Int("subscriptions", len(s.Subscriptions.List())),
	)
	return nil
}

// Stop tears everything down in reverse dependency order. In-flight
// delivery attempts finish under their own timeouts; unacked queue messages
// return to the broker.
func (s *Service) Stop() {
	for _, stop := range s.stopTasks {
		stop()
	}
	s.stopTasks = nil

	if s.Consumer != nil {
		s.Consumer.Stop()
	}
	s.Engine.Stop()
	s.Scheduler.Stop()

	if s.RMQ != nil {
		s.RMQ.Close()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if s.DB != nil {
		if err := database.Close(s.DB, s.Logger); err != nil {
			s.Logger.Warn("Failed to close database", zap.Error(err))
		}
	}

	s.Logger.Info("Service stopped")
}

// DependencyHealth pings each wired external dependency. Backends that are
// not configured are omitted from the map.
func (s *Service) DependencyHealth(ctx context.Context) map[string]string {
	services := make(map[string]string)

	if s.DB != nil {
		if err := database.HealthCheck(ctx, s.DB); err != nil {
			services["database"] = "unhealthy: " + err.Error()
		} else {
			services["database"] = "healthy"
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	}
	if s.RMQ != nil {
		if s.RMQ.IsHealthy() {
			services["rabbitmq"] = "healthy"
		} else {
			services["rabbitmq"] = "unhealthy: connection closed"
		}
	}

	return services
}

// thresholds resolves a metric id of the form "route:<id>" to that route's
// monitoring policy. Subscriptions carry no policy of their own, so their
// ids and anything else are unmonitored.
func (s *Service) thresholds(id string) (models.AlertThresholds, bool) {
	routeID, ok := strings.CutPrefix(id, "route:")
	if !ok {
		return models.AlertThresholds{}, false
	}
	route, err := s.Routes.Get(routeID)
	if err != nil || !route.Monitoring.Enabled {
		return models.AlertThresholds{}, false
	}
	return route.Monitoring.Thresholds, true
}
