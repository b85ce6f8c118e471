package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mailreply/internal/cache"
	"mailreply/internal/completion"
	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/logger"
	"mailreply/internal/relay"
	"mailreply/internal/reply"
	"mailreply/internal/store"
	"mailreply/internal/textclean"
	"mailreply/pkg/bootstrap"
	"mailreply/pkg/circuitbreaker"
	"mailreply/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	service *reply.Service
	workers int
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
	a.workers = a.Config.Reply.Workers
	if a.workers <= 0 {
		a.workers = constants.DefaultReplyWorkers
	}
	if err := a.InitConsumers(a.workers); err != nil {
		return err
	}

	relays, err := relay.NewDirectory(a.Config.Relay)
	if err != nil {
		return fmt.Errorf("invalid relay mapping: %w", err)
	}
	if relays.Len() == 0 {
		a.Logger.WarnwCtx(ctx, "No relay recipients mapped, only the default relay account will be used")
	}

	cleaner, err := textclean.New(a.Config.Cleaning)
	if err != nil {
		return fmt.Errorf("invalid cleaning separators: %w", err)
	}

	var cacheRepo cache.Repository = cache.NewRepository(a.Redis)
	if cb := circuitbreaker.FromConfig(constants.CacheCircuitBreakerName, a.Config.CircuitBreaker); cb != nil {
		cacheRepo = cache.NewCircuitBreakerRepository(cacheRepo, cb)
	}
	completionCB := circuitbreaker.FromConfig(constants.CompletionCircuitBreakerName, a.Config.CircuitBreaker)
	limiter := cache.NewDomainLimiter(a.Redis, a.Config.Relay.DomainLimit)

	a.service = reply.NewService(a.Config, reply.Deps{
		Consumer:  a.Consumers[0],
		Store:     store.NewRepository(a.DB),
		Cache:     cache.NewService(cacheRepo, a.Config.Dedup, a.Logger),
		Completer: completion.NewClient(a.Config.Completion, completionCB, a.Logger),
		Sender:    relay.NewSMTPSender(a.Config.Relay.Timeout()),
		Relays:    relays,
		Cleaner:   cleaner,
		Limiter:   limiter,
	}, a.Logger)

	metrics.RegisterReplyMetrics()
	a.InitOpsServer()

	a.Logger.InfowCtx(ctx, "Reply service initialized",
		"workers", a.workers,
		"relay_recipients", relays.Recipients(),
		"queue", a.Config.Queue.Type,
		"domain_limit", a.Config.Relay.DomainLimit.MaxPerWindow,
	)
	return nil
}

// Run starts the workers. On cancellation each worker stops popping and
// finishes the task it holds before the connections are closed.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ServeOps(gCtx)
	})

	workers, wCtx := errgroup.WithContext(gCtx)
	for _, consumer := range a.Consumers {
		workers.Go(func() error {
			return a.service.RunConsumer(wCtx, consumer)
		})
	}

	g.Go(func() error {
		err := workers.Wait()
		if shutdownErr := a.Shutdown(); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
		return err
	})

	return g.Wait()
}

func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	return a.Base.Shutdown(ctx, nil)
}
