// Package database provides PostgreSQL connection management using pgx.
package database

import (
	"context"
	"fmt"
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

	// Sensible pool defaults for a small service.
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				return pool, nil
			}
			pool.Close()
		}
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("connect to postgres: %w", err)
}

// schema is applied at startup; every statement is idempotent.
//
// The (event_id, user_key) primary key on role_occupants is the hard
// backstop for the one-role-per-event policy: even a protocol bug cannot
// seat the same user twice on one event.
var schema = []string{`
CREATE TABLE IF NOT EXISTS events (
	id             UUID PRIMARY KEY,
	name           TEXT NOT NULL,
	client_name    TEXT NOT NULL DEFAULT '',
	venue_name     TEXT NOT NULL DEFAULT '',
	event_date     TEXT NOT NULL DEFAULT '',
	start_time     TEXT NOT NULL DEFAULT '',
	end_time       TEXT NOT NULL DEFAULT '',
	fence_lat      DOUBLE PRECISION,
	fence_lng      DOUBLE PRECISION,
	fence_radius_m DOUBLE PRECISION,
	version        BIGINT NOT NULL DEFAULT 1,
	created_at     TIMESTAMPTZ NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS event_roles (
	event_id UUID NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	name     TEXT NOT NULL,
	capacity INT  NOT NULL CHECK (capacity >= 0),
	position INT  NOT NULL,
	PRIMARY KEY (event_id, name)
)`, `
CREATE TABLE IF NOT EXISTS role_occupants (
	event_id     UUID NOT NULL,
	role_name    TEXT NOT NULL,
	user_key     TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	accepted_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (event_id, user_key),
	FOREIGN KEY (event_id, role_name)
		REFERENCES event_roles (event_id, name) ON DELETE CASCADE
)`, `
CREATE TABLE IF NOT EXISTS response_records (
	event_id   UUID NOT NULL,
	user_key   TEXT NOT NULL,
	decision   TEXT NOT NULL,
	role_name  TEXT NOT NULL DEFAULT '',
	seq        BIGINT NOT NULL,
	decided_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (event_id, user_key)
)`,
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
