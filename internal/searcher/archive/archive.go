// Package archive persists generated summaries to Postgres for debugging.
// It is enabled in development only and never affects a search result.
package archive

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bhandzo/cw-search-prototype/internal/searcher/enrich"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save inserts one summary row.
func (s *Store) Save(ctx context.Context, rec enrich.ArchiveRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO summary_archive (person_id, firm_slug, original_query, short_summary, long_summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		string(rec.PersonID), rec.FirmSlug, rec.OriginalQuery, rec.Summary.Short, rec.Summary.Long, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("archiving summary for person %s: %w", rec.PersonID, err)
	}
	return nil
}
