// Package bootstrap holds the startup and shutdown plumbing shared by the
// service binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/logger"
	"mailreply/internal/queue"
	"mailreply/pkg/health"
	"mailreply/pkg/tracing"
)

type Base struct {
	Config    *config.Config
	Logger    logger.Logger
	Redis     *redis.Client
	DB        *sql.DB
	Producer  queue.Producer
	Consumers []queue.Consumer
	Health    *health.CheckerRegistry
	Tracer    *tracing.TracerProvider

	dbConnector *DatabaseConnector
	server      *http.Server
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config:      cfg,
		Logger:      log,
		Health:      health.NewCheckerRegistry(),
		dbConnector: NewDatabaseConnector(cfg, log),
	}
}

func (b *Base) InitRedis(ctx context.Context) error {
	rdb, err := b.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	b.Redis = rdb
	// without the queue on it, Redis only backs the advisory dedup cache
	if b.usesRedisQueue() {
		b.Health.Register(health.NewRedisChecker(rdb))
	} else {
		b.Health.RegisterOptional(health.NewRedisChecker(rdb))
	}
	return nil
}

func (b *Base) InitPostgreSQL(ctx context.Context) error {
	db, err := b.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	b.DB = db
	b.Health.Register(health.NewPostgreSQLChecker(db))
	return nil
}

// usesRedisQueue reports whether the task queue lives in Redis.
func (b *Base) usesRedisQueue() bool {
	return b.Config.Queue.Type == "" || b.Config.Queue.Type == constants.QueueTypeRedis
}

func (b *Base) registerKafkaHealth() {
	if b.Config.Queue.Type == constants.QueueTypeKafka {
		b.Health.Register(health.NewKafkaChecker(b.Config.Queue.Kafka.Brokers))
	}
}

func (b *Base) InitProducer() error {
	var client redis.UniversalClient
	if b.usesRedisQueue() && b.Redis != nil {
		client = b.Redis
	}
	producer, err := queue.NewProducer(b.Config.Queue, client)
	if err != nil {
		return fmt.Errorf("failed to create queue producer: %w", err)
	}
	b.Producer = producer
	b.registerKafkaHealth()
	return nil
}

// InitConsumers builds one queue consumer per worker.
func (b *Base) InitConsumers(workers int) error {
	var client redis.UniversalClient
	if b.usesRedisQueue() && b.Redis != nil {
		client = b.Redis
	}
	consumers, err := queue.NewConsumers(b.Config.Queue, client, b.Logger, workers)
	if err != nil {
		return fmt.Errorf("failed to create queue consumers: %w", err)
	}
	b.Consumers = consumers
	b.registerKafkaHealth()
	return nil
}

func (b *Base) InitTracing(serviceName string) error {
	tp, err := tracing.Init(b.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	b.Tracer = tp
	return nil
}

// InitOpsServer builds the /health and /metrics listener.
func (b *Base) InitOpsServer() {
	mux := http.NewServeMux()
	mux.Handle("/health", b.Health.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	b.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", b.Config.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ServeOps blocks serving the ops listener until it is shut down.
func (b *Base) ServeOps(ctx context.Context) error {
	if b.server == nil {
		return nil
	}
	b.Logger.InfowCtx(ctx, "HTTP server starting", "port", b.Config.Server.Port)
	if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if b.server != nil {
		if err := b.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown error: %w", err))
		}
	}

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}
	closed := make(map[queue.Consumer]bool, len(b.Consumers))
	for _, c := range b.Consumers {
		if closed[c] {
			continue
		}
		closed[c] = true
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	errs = append(errs, b.dbConnector.ShutdownDatabases(b.Redis, b.DB)...)

	if b.Tracer != nil {
		if err := b.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
