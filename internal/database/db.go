package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("database: not found")

type Database struct {
	db     *sql.DB
	logger *zap.Logger
}

type PostgresConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"sslmode" yaml:"sslmode"`
}

// DSN builds the lib/pq connection string
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

const schema = `
-- Guard profiles, one per guild
CREATE TABLE IF NOT EXISTS guard_profiles (
    guild_id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL DEFAULT '',
    guards JSONB NOT NULL DEFAULT '{}'::jsonb, -- guard key -> bool or {"enabled": bool, ...}
    limits JSONB NOT NULL DEFAULT '{}'::jsonb,
    punishment_type TEXT NOT NULL DEFAULT 'ban', -- 'ban', 'kick', 'timeout', 'warn'
    timeout_duration_ms BIGINT NOT NULL DEFAULT 600000,
    log_channel_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Whitelisted users
CREATE TABLE IF NOT EXISTS guard_whitelist (
    id BIGSERIAL PRIMARY KEY,
    guild_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    added_by TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    permissions TEXT[] NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'active', -- 'active', 'suspended', 'expired'
    temporary BOOLEAN NOT NULL DEFAULT FALSE,
    expires_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE(guild_id, user_id)
);

-- Append-only record of engine decisions
CREATE TABLE IF NOT EXISTS guard_incidents (
    id UUID PRIMARY KEY,
    guild_id TEXT NOT NULL,
    action TEXT NOT NULL,
    executor_id TEXT NOT NULL DEFAULT '',
    executor_tag TEXT NOT NULL DEFAULT '',
    target_id TEXT NOT NULL DEFAULT '',
    target_kind TEXT NOT NULL DEFAULT '',
    target_name TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    punishment JSONB NOT NULL DEFAULT '{}'::jsonb,
    anti_raid JSONB NOT NULL DEFAULT '{}'::jsonb,
    worker TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_guard_whitelist_guild ON guard_whitelist(guild_id);
CREATE INDEX IF NOT EXISTS idx_guard_whitelist_expiry ON guard_whitelist(expires_at) WHERE temporary AND status = 'active';
CREATE INDEX IF NOT EXISTS idx_guard_incidents_guild_time ON guard_incidents(guild_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_guard_incidents_executor ON guard_incidents(executor_id);
`

func NewDatabase(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*Database, error) {
	d, err := Open(ctx, cfg.DSN(), logger)
	if err != nil {
		return nil, err
	}
	logger.Info("postgres connected", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return d, nil
}

// Open connects with a raw DSN and applies the schema
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(1 * time.Hour)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return &Database{db: db, logger: logger}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
