package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"mailreply/internal/admin"
	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/logger"
	"mailreply/internal/queue"
	"mailreply/internal/store"
	"mailreply/pkg/bootstrap"
	"mailreply/pkg/metrics"
	"mailreply/pkg/middleware"
	"mailreply/pkg/ratelimit"
	"mailreply/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	limiter *ratelimit.Limiter
	server  *http.Server
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

	var opts []admin.ServiceOption
	if depth, ok := a.Producer.(*queue.RedisQueue); ok {
		opts = append(opts, admin.WithQueueDepth(depth))
	}
	svc := admin.NewService(store.NewRepository(a.DB), a.Producer, a.Logger, opts...)

	metrics.RegisterAdminMetrics()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}
	if a.Config.Admin.RateLimit.Enabled {
		a.limiter = ratelimit.New(ratelimit.FromConfig(a.Config.Admin.RateLimit))
		router.Use(a.limiter.Middleware())
	}

	router.GET("/health", a.Health.GinHandler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	admin.NewHandler(svc, a.Logger).RegisterRoutes(router)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(a.Config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.Config.Server.WriteTimeoutSeconds) * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.RunCleanup(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx, func(ctx context.Context) []error {
			if err := a.server.Shutdown(ctx); err != nil {
				return []error{fmt.Errorf("http server shutdown error: %w", err)}
			}
			return nil
		})
	})

	return g.Wait()
}
