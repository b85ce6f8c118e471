package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mailreply/internal/cache"
	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/ingestion"
	"mailreply/internal/logger"
	"mailreply/internal/mailbox"
	"mailreply/internal/store"
	"mailreply/internal/suppression"
	"mailreply/pkg/bootstrap"
	"mailreply/pkg/circuitbreaker"
	"mailreply/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	service *ingestion.Service
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{Base: bootstrap.NewBase(cfg, log)}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(serviceName); err != nil {
		return err
	}
	if err := a.InitPostgreSQL(ctx); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	if err := a.InitRedis(ctx); err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	if err := a.InitProducer(); err != nil {
		return err
	}

	rules, err := suppression.New(a.Config.Suppression)
	if err != nil {
		return fmt.Errorf("invalid suppression rules: %w", err)
	}

	var cacheRepo cache.Repository = cache.NewRepository(a.Redis)
	if cb := circuitbreaker.FromConfig(constants.CacheCircuitBreakerName, a.Config.CircuitBreaker); cb != nil {
		cacheRepo = cache.NewCircuitBreakerRepository(cacheRepo, cb)
		a.Logger.InfowCtx(ctx, "Circuit breaker enabled for dedup cache")
	}

	timeout := a.Config.Ingestion.MailboxTimeout()
	if timeout <= 0 {
		timeout = constants.DefaultMailboxTimeout
	}

	a.service = ingestion.NewService(
		a.Config,
		mailbox.NewIMAPSource(timeout, a.Logger),
		store.NewRepository(a.DB),
		cache.NewService(cacheRepo, a.Config.Dedup, a.Logger),
		a.Producer,
		rules,
		a.Logger,
	)

	metrics.RegisterIngestMetrics()
	a.InitOpsServer()

	a.Logger.InfowCtx(ctx, "Ingest service initialized",
		"suppression_rules", rules.Len(),
		"queue", a.Config.Queue.Type,
	)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ServeOps(gCtx)
	})

	g.Go(func() error {
		return a.service.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown()
	})

	return g.Wait()
}

func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	return a.Base.Shutdown(ctx, nil)
}
