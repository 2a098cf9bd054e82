package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	intakeapp "github.com/erp/reconciler/internal/application/intake"
	ledgerapp "github.com/erp/reconciler/internal/application/ledger"
	orderapp "github.com/erp/reconciler/internal/application/order"
	"github.com/erp/reconciler/internal/application/reconcile"
	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/cache"
	"github.com/erp/reconciler/internal/infrastructure/config"
	"github.com/erp/reconciler/internal/infrastructure/ecommerce"
	"github.com/erp/reconciler/internal/infrastructure/logger"
	"github.com/erp/reconciler/internal/infrastructure/persistence"
	"github.com/erp/reconciler/internal/infrastructure/queue"
	"github.com/erp/reconciler/internal/infrastructure/scheduler"
	"github.com/erp/reconciler/internal/infrastructure/telemetry"
	"github.com/erp/reconciler/internal/interfaces/http/handler"
	"github.com/erp/reconciler/internal/interfaces/http/middleware"
	"github.com/erp/reconciler/internal/interfaces/http/router"
)

const metricsNamespace = "reconciler"

// transport is the reconcile path chosen by worker.transport
type transport struct {
	dispatcher intakeapp.Dispatcher
	awaiter    handler.Awaiter
	start      func(ctx context.Context) error
	stop       func(ctx context.Context)
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting order reconciler",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("transport", cfg.Worker.Transport),
	)

	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()

	// Telemetry providers
	tracerProvider, err := telemetry.NewTracerProvider(rootCtx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(rootCtx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	meter := meterProvider.Meter(cfg.Telemetry.ServiceName)
	logsProvider, err := telemetry.NewLoggerProvider(rootCtx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	if logsProvider.IsEnabled() {
		// From here on entries also go to the collector.
		otelCore := telemetry.NewZapOTELCore(cfg.Telemetry.ServiceName, logsProvider, logger.ParseLevel(cfg.Log.Level))
		bridged, err := logger.New(logCfg, otelCore)
		if err != nil {
			log.Fatal("Failed to initialize bridged logger", zap.Error(err))
		}
		log = bridged
	}

	// Create GORM logger backed by zap
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))

	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully", zap.String("driver", db.Driver))

	if db.Driver == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			log.Fatal("Failed to migrate sqlite schema", zap.Error(err))
		}
	}

	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        db.Driver,
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	// Redis backs the idempotency fast path, SKU locks and the asynq queue
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(rootCtx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() {
			_ = redisClient.Close()
		}()
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	var factory *cache.Factory
	if redisClient != nil {
		factory = cache.NewFactory(redisClient, cache.WithLogger(log))
	} else {
		factory = cache.NewFactory(nil, cache.WithLogger(log), cache.WithInMemoryFallback(cfg.App.Env != "production"))
	}
	idemStore, err := factory.IdempotencyStore(cfg.Idempotency)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	locker, err := factory.SKULocker(cfg.Ledger)
	if err != nil {
		log.Fatal("Failed to create SKU locker", zap.Error(err))
	}

	// Metrics sinks: Prometheus for /metrics, OTel for the collector
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics, err := telemetry.NewPrometheusMetrics(registry, metricsNamespace)
	if err != nil {
		log.Fatal("Failed to create prometheus metrics", zap.Error(err))
	}
	otelMetrics, err := telemetry.NewReconcileMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create reconcile metrics", zap.Error(err))
	}
	metrics := telemetry.MultiMetrics{promMetrics, otelMetrics}

	// Repositories and services
	scope := persistence.NewGormTransactionScope(db.DB)
	repos := persistence.NewRepositories(db.DB)
	normalizers := ecommerce.DefaultRegistry()
	policy := shared.RetryPolicy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseBackoff: cfg.Worker.BaseBackoff,
		MaxBackoff:  cfg.Worker.MaxBackoff,
	}

	intakeService := intakeapp.NewService(repos.Events(), normalizers, policy, log)
	intakeService.SetMetrics(metrics)
	if idemStore != nil {
		intakeService.SetIdempotencyStore(idemStore, shared.IdempotencyConfig{
			Enabled: cfg.Idempotency.Enabled,
			TTL:     cfg.Idempotency.TTL,
		})
	}

	ledgerService := ledgerapp.NewService(scope, repos.Movements(), repos.Balances(), locker, log)
	ledgerService.SetMetrics(metrics)

	orderQueries := orderapp.NewQueryService(repos.Orders(), repos.Allocations())

	reconciler := reconcile.NewReconciler(scope, repos.Events(), repos.Orders(), normalizers, locker, policy, log)
	reconciler.SetMetrics(metrics)

	tr, err := setupTransport(cfg, reconciler, repos.Events(), registry, log)
	if err != nil {
		log.Fatal("Failed to set up reconcile transport", zap.Error(err))
	}
	intakeService.SetDispatcher(tr.dispatcher)
	if err := tr.start(rootCtx); err != nil {
		log.Fatal("Failed to start reconcile transport", zap.Error(err))
	}

	// Platform pull
	var (
		pollHandler   *handler.PollHandler
		pollTrigger   *scheduler.PollTrigger
		pollScheduler *scheduler.PollScheduler
	)
	if cfg.Poller.Enabled {
		pollScheduler, pollTrigger, err = setupPoller(cfg, intakeService, log)
		if err != nil {
			log.Fatal("Failed to set up poller", zap.Error(err))
		}
		if err := pollScheduler.Start(rootCtx); err != nil {
			log.Fatal("Failed to start poll scheduler", zap.Error(err))
		}
		if err := pollTrigger.Start(rootCtx); err != nil {
			log.Fatal("Failed to start poll trigger", zap.Error(err))
		}
		pollHandler = handler.NewPollHandler(pollTrigger, pollScheduler)
	}

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Failed to set trusted proxies", zap.Error(err))
	}

	limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
	go limiter.RunCleanup(rootCtx, time.Minute)

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.SpanAnnotator())
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.HTTPMetrics(meter, log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  cfg.HTTP.CORSAllowOrigins,
		AllowMethods:  cfg.HTTP.CORSAllowMethods,
		AllowHeaders:  cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	if cfg.HTTP.RateLimitRPS > 0 {
		engine.Use(middleware.RateLimit(limiter))
	}

	var gatherer prometheus.Gatherer
	if cfg.Telemetry.PrometheusEnabled {
		gatherer = registry
	}
	systemHandler := handler.NewSystemHandler(cfg.App.Name, gatherer, healthChecks(db, redisClient)...)
	engine.GET("/health", systemHandler.Health)
	if cfg.Telemetry.PrometheusEnabled {
		engine.GET("/metrics", systemHandler.Metrics())
	}

	r := router.NewRouter(engine).Use(middleware.Timeout(cfg.HTTP.WriteTimeout))
	router.RegisterAPI(r, router.Handlers{
		Events: handler.NewEventHandler(intakeService, tr.awaiter, cfg.Worker.WaitTimeout),
		Stock:  handler.NewStockHandler(ledgerService),
		Orders: handler.NewOrderHandler(orderQueries),
		Polls:  pollHandler,
		System: systemHandler,
	}).Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if pollTrigger != nil {
		if err := pollTrigger.Stop(ctx); err != nil {
			log.Error("Error stopping poll trigger", zap.Error(err))
		}
		if err := pollScheduler.Stop(ctx); err != nil {
			log.Error("Error stopping poll scheduler", zap.Error(err))
		}
	}
	tr.stop(ctx)
	stopRoot()

	if err := meterProvider.Shutdown(ctx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(ctx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	if err := logsProvider.Shutdown(ctx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}
}

// setupTransport builds the in-process partitioned pool or the durable
// asynq queue according to worker.transport.
func setupTransport(
	cfg *config.Config,
	processor reconcile.Processor,
	events intake.RawEventRepository,
	registry *prometheus.Registry,
	log *zap.Logger,
) (*transport, error) {
	switch cfg.Worker.Transport {
	case "asynq":
		if !cfg.Redis.Enabled {
			return nil, errors.New("worker transport asynq requires redis.enabled")
		}
		redisOpt := queue.RedisOpt(cfg.Redis)
		client := asynq.NewClient(redisOpt)
		dispatcher := queue.NewDispatcher(client, queue.DefaultQueuePrefix, cfg.Worker.Partitions, cfg.Worker.JobTimeout, log)
		worker := queue.NewWorker(redisOpt, queue.WorkerConfig{
			Prefix:     queue.DefaultQueuePrefix,
			Partitions: cfg.Worker.Partitions,
		}, processor, log)
		sweeper := queue.NewSweeper(events, dispatcher, cfg.Worker.PollInterval, cfg.Worker.BatchSize, log)
		return &transport{
			dispatcher: dispatcher,
			awaiter:    scheduler.NewInlineRunner(processor, cfg.Worker.JobTimeout),
			start: func(ctx context.Context) error {
				if err := worker.Start(); err != nil {
					return err
				}
				sweeper.Start(ctx)
				return nil
			},
			stop: func(context.Context) {
				sweeper.Stop()
				worker.Stop()
				if err := client.Close(); err != nil {
					log.Error("Error closing asynq client", zap.Error(err))
				}
			},
		}, nil

	case "", "pool":
		pool, err := scheduler.NewReconcilePool(scheduler.PoolConfig{
			Partitions:   cfg.Worker.Partitions,
			QueueSize:    cfg.Worker.QueueSize,
			PollInterval: cfg.Worker.PollInterval,
			BatchSize:    cfg.Worker.BatchSize,
			JobTimeout:   cfg.Worker.JobTimeout,
		}, processor, events, log)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(scheduler.NewPoolCollector(pool, metricsNamespace)); err != nil {
			return nil, err
		}
		return &transport{
			dispatcher: pool,
			awaiter:    pool,
			start:      pool.Start,
			stop: func(ctx context.Context) {
				if err := pool.Stop(ctx); err != nil {
					log.Error("Error stopping reconcile pool", zap.Error(err))
				}
			},
		}, nil

	default:
		return nil, errors.New("unknown worker transport " + cfg.Worker.Transport)
	}
}

// setupPoller wires the configured platform feeds into intake
func setupPoller(cfg *config.Config, ingestor scheduler.Ingestor, log *zap.Logger) (*scheduler.PollScheduler, *scheduler.PollTrigger, error) {
	feeds, err := ecommerce.NewFeedClients(cfg.Poller, &http.Client{Timeout: cfg.Poller.RequestTimeout})
	if err != nil {
		return nil, nil, err
	}
	platforms := make([]intake.PlatformCode, 0, len(feeds))
	for _, f := range feeds {
		platforms = append(platforms, f.Platform())
	}

	executor := scheduler.NewFeedPollExecutor(feeds, ingestor, cfg.Poller.PageSize, log)
	schedCfg := scheduler.DefaultPollSchedulerConfig()
	schedCfg.RetryAttempts = cfg.Poller.MaxRetries
	schedCfg.RetryDelay = cfg.Poller.RetryBackoff
	sched, err := scheduler.NewPollScheduler(schedCfg, executor, log)
	if err != nil {
		return nil, nil, err
	}

	trigger := scheduler.NewPollTrigger(scheduler.PollTriggerConfig{
		Interval: cfg.Poller.Interval,
		Lookback: cfg.Poller.Lookback,
	}, sched, platforms, log)
	log.Info("Platform poller configured", zap.Int("feeds", len(feeds)), zap.Duration("interval", cfg.Poller.Interval))
	return sched, trigger, nil
}

func healthChecks(db *persistence.Database, redisClient *redis.Client) []handler.HealthCheck {
	checks := []handler.HealthCheck{{
		Name:  "database",
		Check: func(context.Context) error { return db.Ping() },
	}}
	if redisClient != nil {
		checks = append(checks, handler.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return checks
}
