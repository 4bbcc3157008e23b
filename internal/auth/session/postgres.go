package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/bhandzo/cw-search-prototype/pkg/postgres"
)

// PostgresStore keeps sessions in the sessions table.
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.WithComponent("session-postgres"),
	}
}

// Put upserts the record and purges expired rows in the same transaction.
func (s *PostgresStore) Put(ctx context.Context, tokenHash string, rec *Record) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE expires_at <= $1`, rec.UpdatedAt,
		); err != nil {
			return fmt.Errorf("purging expired sessions: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (token_hash, firm_slug, firm_api_key, clockwork_auth, openai_api_key, max_candidates, created_at, updated_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (token_hash) DO UPDATE SET
			   firm_slug = EXCLUDED.firm_slug,
			   firm_api_key = EXCLUDED.firm_api_key,
			   clockwork_auth = EXCLUDED.clockwork_auth,
			   openai_api_key = EXCLUDED.openai_api_key,
			   max_candidates = EXCLUDED.max_candidates,
			   updated_at = EXCLUDED.updated_at,
			   expires_at = EXCLUDED.expires_at`,
			tokenHash, rec.FirmSlug, rec.FirmAPIKey, rec.ClockworkAuthKey, rec.OpenAIAPIKey,
			rec.MaxCandidates, rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("inserting session: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, tokenHash string) (*Record, error) {
	var (
		rec       Record
		expiresAt time.Time
	)
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT firm_slug, firm_api_key, clockwork_auth, openai_api_key, max_candidates, created_at, updated_at, expires_at
		 FROM sessions
		 WHERE token_hash = $1`,
		tokenHash,
	).Scan(&rec.FirmSlug, &rec.FirmAPIKey, &rec.ClockworkAuthKey, &rec.OpenAIAPIKey,
		&rec.MaxCandidates, &rec.CreatedAt, &rec.UpdatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	rec.ExpiresAt = expiresAt
	return &rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, tokenHash string) error {
	result, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM sessions WHERE token_hash = $1`,
		tokenHash,
	)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	s.logger.Debug("session row deleted")
	return nil
}
