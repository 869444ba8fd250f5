// Package database mirrors the trade journals into PostgreSQL so
// history survives host loss and can be queried by date range.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB connects using a postgres:// URL and verifies the connection.
func NewDB(url string, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log := logger.With().Str("component", "database").Logger()
	log.Info().Msg("connected to postgres")

	return &DB{Pool: pool, logger: log}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the archive tables.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS entry_orders (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			symbol VARCHAR(24) NOT NULL,
			exchange_id VARCHAR(32) NOT NULL,
			order_id VARCHAR(80) NOT NULL,
			size DECIMAL(24, 10) NOT NULL,
			avg_price DECIMAL(24, 10) NOT NULL,
			stage VARCHAR(48) NOT NULL,
			is_iceberg BOOLEAN NOT NULL DEFAULT FALSE,
			cost DECIMAL(24, 10) NOT NULL,
			sub_orders JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entry_orders_symbol ON entry_orders(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_entry_orders_ts ON entry_orders(ts)`,

		`CREATE TABLE IF NOT EXISTS exit_orders (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			symbol VARCHAR(24) NOT NULL,
			exchange_id VARCHAR(32) NOT NULL,
			order_id VARCHAR(80) NOT NULL,
			size DECIMAL(24, 10) NOT NULL,
			avg_price DECIMAL(24, 10) NOT NULL,
			reason VARCHAR(48) NOT NULL,
			revenue DECIMAL(24, 10) NOT NULL,
			entry_order_id VARCHAR(80) NOT NULL DEFAULT '',
			entry_price DECIMAL(24, 10) NOT NULL DEFAULT 0,
			profit_percentage DECIMAL(12, 6) NOT NULL DEFAULT 0,
			profit_amount DECIMAL(24, 10) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exit_orders_symbol ON exit_orders(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_exit_orders_ts ON exit_orders(ts)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("database migrations completed")
	return nil
}

// HealthCheck pings the pool.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
