package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"net/http"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/allocation/internal/config"
	"github.com/utafrali/allocation/internal/event"
	handler "github.com/utafrali/allocation/internal/handler/http"
	"github.com/utafrali/allocation/internal/repository/postgres"
	"github.com/utafrali/allocation/internal/service"
	"github.com/utafrali/allocation/migrations"
	"github.com/utafrali/allocation/pkg/database"
	"github.com/utafrali/allocation/pkg/health"
	pkgkafka "github.com/utafrali/allocation/pkg/kafka"
	"github.com/utafrali/allocation/pkg/tracing"
)

const (
	startupTimeout     = 30 * time.Second
	httpDrainTimeout   = 5 * time.Second
	tracerFlushTimeout = 3 * time.Second
	pingAttempts       = 3
)

// App wires together all dependencies and runs the allocation service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	consumers      []*pkgkafka.Consumer
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, config.ServiceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if threshold := cfg.SlowQueryThreshold(); threshold > 0 {
		database.SetSlowQueryLogging(threshold, logger)
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := pingWithRetry(ctx, "kafka", producer.Ping, retryBackoff, logger); err != nil {
		logger.Warn("kafka unreachable, continuing in degraded mode", slog.String("error", err.Error()))
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	redisClient, idempotencyStore := newIdempotencyStore(ctx, cfg, logger)

	// Dependency graph.
	repo := postgres.NewBatchRepository(pool)
	allocationService := service.NewAllocationService(
		repo,
		postgres.NewTxRunner(pool),
		event.NewProducer(producer, logger),
		logger,
	)

	eventConsumer := event.NewConsumer(allocationService, logger)
	handlers := eventConsumer.Handlers()
	consumers := make([]*pkgkafka.Consumer, 0, len(handlers))
	for _, topic := range slices.Sorted(maps.Keys(handlers)) {
		consumers = append(consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:   cfg.KafkaBrokers,
			GroupID:   cfg.KafkaConsumerGroup + "-" + topic,
			Topic:     topic,
			MinBytes:  1,
			MaxBytes:  10e6,
			EnableDLQ: cfg.KafkaEnableDLQ,
		}, pkgkafka.IdempotentHandler(idempotencyStore, handlers[topic], logger), logger))
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", producer.Ping)
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	router := handler.NewRouter(allocationService, healthHandler, logger, handler.RouterConfig{
		ServiceName: config.ServiceName,
		CORSOrigins: cfg.CORSAllowedOrigins,
		PprofCIDRs:  cfg.PprofAllowedCIDRs,
	})

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		consumers:      consumers,
		httpServer:     newHTTPServer(cfg.HTTPPort, router),
		tracerShutdown: tracerShutdown,
	}, nil
}

func newHTTPServer(port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newIdempotencyStore uses Redis when it answers a ping and falls back to an
// in-memory store otherwise. The returned client is nil in the fallback case.
func newIdempotencyStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, pkgkafka.IdempotencyStore) {
	client, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, using in-memory idempotency store",
			slog.String("addr", cfg.Redis().Addr()),
			slog.String("error", err.Error()),
		)
		return nil, pkgkafka.NewMemoryIdempotencyStore(cfg.IdempotencyTTL())
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
	return client, pkgkafka.NewRedisIdempotencyStore(client, pkgkafka.DefaultIdempotencyKeyPrefix+":"+config.ServiceName, cfg.IdempotencyTTL())
}

// Run starts the HTTP server and Kafka consumers, then blocks until ctx is
// canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	for _, c := range a.consumers {
		g.Go(func() error {
			if err := c.Start(gctx); err != nil {
				return fmt.Errorf("%s consumer: %w", c.Topic(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		drainCtx, cancel := context.WithTimeout(context.Background(), httpDrainTimeout)
		defer cancel()
		if err := a.httpServer.Shutdown(drainCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()
	return errors.Join(runErr, a.Shutdown())
}

// Shutdown releases everything HTTP traffic depended on, in order:
// tracer, consumers, producer, Redis, PostgreSQL. The HTTP server is drained
// by Run before this is called.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error
	record := func(component string, err error) {
		if err == nil {
			return
		}
		a.logger.Error(component+" shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tracerFlushTimeout)
		record("tracer", a.tracerShutdown(ctx))
		cancel()
	}
	for _, c := range a.consumers {
		record(c.Topic()+" consumer", c.Close())
	}
	record("kafka producer", a.producer.Close())
	if a.redis != nil {
		record("redis", a.redis.Close())
	}
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// retryBackoff returns 1s, 2s, 4s... with ±25% jitter.
func retryBackoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
	return base + jitter
}

// pingWithRetry calls ping up to pingAttempts times, sleeping backoff(n)
// between attempts.
func pingWithRetry(
	ctx context.Context,
	name string,
	ping func(context.Context) error,
	backoff func(attempt int) time.Duration,
	logger *slog.Logger,
) error {
	var lastErr error
	for attempt := 0; attempt < pingAttempts; attempt++ {
		if lastErr = ping(ctx); lastErr == nil {
			return nil
		}
		if attempt == pingAttempts-1 {
			break
		}
		wait := backoff(attempt)
		logger.Warn(name+" ping failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", pingAttempts),
			slog.Duration("backoff", wait),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s ping: context canceled during retry: %w", name, ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%s ping failed after %d attempts: %w", name, pingAttempts, lastErr)
}
