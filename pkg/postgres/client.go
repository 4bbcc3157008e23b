package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bhandzo/cw-search-prototype/pkg/config"
	_ "github.com/lib/pq"
)

// Schema creates the tables used by the session store, the summary archive
// and analytics snapshots.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    token_hash        TEXT PRIMARY KEY,
    firm_slug         TEXT NOT NULL,
    firm_api_key      TEXT NOT NULL,
    clockwork_auth    TEXT NOT NULL,
    openai_api_key    TEXT NOT NULL DEFAULT '',
    max_candidates    INTEGER NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at        TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS summary_archive (
    id                BIGSERIAL PRIMARY KEY,
    person_id         TEXT NOT NULL,
    firm_slug         TEXT NOT NULL,
    original_query    TEXT NOT NULL,
    short_summary     TEXT NOT NULL,
    long_summary      TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS summary_archive_person_idx ON summary_archive (person_id, created_at DESC);
CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id                BIGSERIAL PRIMARY KEY,
    data              JSONB NOT NULL,
    captured_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

// FromDB wraps an already opened database handle.
func FromDB(db *sql.DB) *Client {
	return &Client{DB: db}
}

// Migrate applies Schema. Statements are idempotent.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
