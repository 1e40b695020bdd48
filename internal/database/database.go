// Package database provides PostgreSQL connection management using pgx.
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates and validates a pgxpool connection pool.
// It retries up to 5 times to accommodate containers starting up.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		log.Printf("db connect attempt %d/5 failed: %v; retrying in 2s", attempt, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect to postgres: %w", err)
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS parking_spaces (
		id                 UUID PRIMARY KEY,
		space_number       TEXT NOT NULL,
		is_occupied        BOOLEAN NOT NULL DEFAULT FALSE,
		reserved_by        TEXT,
		reservation_expiry TIMESTAMPTZ,
		hourly_rate        NUMERIC(10,2) NOT NULL CHECK (hourly_rate > 0),
		version            BIGINT NOT NULL DEFAULT 1,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT parking_spaces_occupancy_check CHECK (
			(is_occupied AND reserved_by IS NOT NULL AND reservation_expiry IS NOT NULL)
			OR (NOT is_occupied AND reserved_by IS NULL AND reservation_expiry IS NULL)
		)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS parking_spaces_space_number_key
		ON parking_spaces (lower(space_number))`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id           UUID PRIMARY KEY,
		user_id      TEXT NOT NULL,
		space_id     UUID NOT NULL,
		space_number TEXT NOT NULL,
		hourly_rate  NUMERIC(10,2) NOT NULL,
		start_time   TIMESTAMPTZ NOT NULL,
		end_time     TIMESTAMPTZ NOT NULL,
		status       TEXT NOT NULL CHECK (status IN ('active', 'completed', 'expired')),
		version      BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS reservations_one_active_per_user
		ON reservations (user_id) WHERE status = 'active'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS reservations_one_active_per_space
		ON reservations (space_id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS reservations_status_end_time
		ON reservations (status, end_time)`,
	`CREATE INDEX IF NOT EXISTS reservations_start_time
		ON reservations (start_time DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY,
		email         TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL CHECK (role IN ('driver', 'admin')),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (lower(email))`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id         UUID PRIMARY KEY,
		user_id    UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
}
