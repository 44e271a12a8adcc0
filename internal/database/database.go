package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ms-reservations/internal/config"
	"ms-reservations/internal/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// Connect opens the Postgres pool and retries the first ping with backoff while the
// database is still starting.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	sqldb, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	attempt := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = 30 * time.Second
	err = backoff.Retry(func() error {
		attempt++
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL at %s:%s (attempt %d)", cfg.Host, cfg.Port, attempt))
		if err := sqldb.PingContext(ctx); err != nil {
			log.Warn("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("connect to postgres after %d attempts: %w", attempt, err)
	}

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// ConnectRedis returns nil when Redis is disabled.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		log.Info("REDIS", "Redis disabled, using in-process locks and no pricing cache")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client, nil
}
