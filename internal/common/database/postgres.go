// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"placement-mailer/internal/common/config"

	_ "github.com/lib/pq"
)

// PostgresClient wraps the SQL database connection
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres creates a new PostgreSQL client
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// Ping tests the database connection
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// GetDB returns the underlying *sql.DB
func (c *PostgresClient) GetDB() *sql.DB {
	return c.DB
}

// PipelineSchema creates the tables owned by the notification pipeline.
// Companies, shortlists, domains and users belong to the placement app and
// are only read.
var PipelineSchema = []string{
	`CREATE TABLE IF NOT EXISTS notification_facts (
		id BIGSERIAL PRIMARY KEY,
		type VARCHAR(32) NOT NULL,
		subtype VARCHAR(32) NOT NULL,
		shortlist_id VARCHAR(255),
		company_id VARCHAR(255),
		domain VARCHAR(255),
		links JSONB NOT NULL DEFAULT '[]',
		is_handled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (shortlist_id IS NOT NULL OR company_id IS NOT NULL OR domain IS NOT NULL)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notification_facts_unhandled
		ON notification_facts (id) WHERE is_handled = FALSE`,
	`CREATE TABLE IF NOT EXISTS delivery_policies (
		type VARCHAR(32) PRIMARY KEY,
		send_email BOOLEAN NOT NULL DEFAULT FALSE,
		delay_minutes INTEGER NOT NULL DEFAULT 0,
		only_for_target BOOLEAN NOT NULL DEFAULT TRUE,
		role VARCHAR(64),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS announcements (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		brief TEXT NOT NULL,
		is_link BOOLEAN NOT NULL DEFAULT FALSE,
		where_to_look TEXT,
		link_name VARCHAR(255),
		person_id VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema applies PipelineSchema. Every statement is idempotent.
func (c *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range PipelineSchema {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
