package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/logger"
	"mailreply/migrations"
	"mailreply/pkg/retry"
)

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger

	// attempts and interval bound the startup connection retry.
	attempts int
	interval time.Duration
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config:   cfg,
		Logger:   log,
		attempts: constants.DBConnectAttempts,
		interval: constants.DBConnectInterval,
	}
}

func (dc *DatabaseConnector) onRetry(what string) retry.OnRetry {
	return func(attempt int, err error, next time.Duration) {
		dc.Logger.Warnw("Connection attempt failed, retrying",
			"target", what,
			"attempt", attempt,
			"next_in", next,
			"error", err,
		)
	}
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	rcfg := dc.Config.Database.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(rcfg.Host, strconv.Itoa(rcfg.Port)),
		Password: rcfg.Password,
		DB:       rcfg.DB,
	})

	err := retry.Constant(ctx, dc.attempts, dc.interval, func() error {
		return rdb.Ping(ctx).Err()
	}, dc.onRetry("redis"))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.Infow("Redis connected successfully", "addr", rdb.Options().Addr)
	return rdb, nil
}

// PostgresDSN renders the lib/pq connection URL.
func PostgresDSN(pg config.PostgresConfig) string {
	sslmode := pg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		pg.User,
		pg.Password,
		net.JoinHostPort(pg.Host, strconv.Itoa(pg.Port)),
		pg.DBName,
		sslmode,
	)
}

// InitPostgreSQL connects with a fixed retry and, when enabled, applies the
// embedded migrations.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pg := dc.Config.Database.Postgres
	if pg.Host == "" {
		return nil, fmt.Errorf("database.postgres.host is required")
	}

	db, err := sql.Open("postgres", PostgresDSN(pg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = retry.Constant(ctx, dc.attempts, dc.interval, func() error {
		return db.PingContext(ctx)
	}, dc.onRetry("postgresql"))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	dc.Logger.Info("PostgreSQL connected successfully")

	if dc.Config.Database.RunMigrations {
		if err := migrations.Up(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		dc.Logger.Info("Database migrations applied")
	}
	return db, nil
}

func (dc *DatabaseConnector) ShutdownDatabases(rdb *redis.Client, db *sql.DB) []error {
	var errs []error

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if db != nil {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	return errs
}
