// Package aggregator persists periodic snapshots of the in-process
// analytics aggregate to PostgreSQL (table analytics_snapshots).
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/analytics"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/bhandzo/cw-search-prototype/pkg/postgres"
)

// Snapshot is one persisted aggregate.
type Snapshot struct {
	Stats      analytics.AggregatedStats `json:"stats"`
	CapturedAt time.Time                 `json:"captured_at"`
}

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: logger.WithComponent("analytics-store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	if _, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
		data, s.now(),
	); err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Info("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"failed_searches", stats.FailedSearches,
	)
	return nil
}

// LatestSnapshot returns nil, nil when no snapshot exists yet.
func (s *Store) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var (
		data []byte
		at   time.Time
	)
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data, captured_at FROM analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}
	snap := &Snapshot{CapturedAt: at}
	if err := json.Unmarshal(data, &snap.Stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns the last limit snapshots, newest first. Rows that
// no longer decode are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT data, captured_at FROM analytics_snapshots ORDER BY captured_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]Snapshot, 0, limit)
	for rows.Next() {
		var (
			data []byte
			snap Snapshot
		)
		if err := rows.Scan(&data, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if err := json.Unmarshal(data, &snap.Stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "captured_at", snap.CapturedAt, "error", err)
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// Prune deletes snapshots captured more than retention ago.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM analytics_snapshots WHERE captured_at < $1`,
		s.now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	return res.RowsAffected()
}

// StartPeriodicSave snapshots agg every interval and drops snapshots older
// than retention (zero keeps everything). A last snapshot is written when
// ctx ends.
func (s *Store) StartPeriodicSave(ctx context.Context, agg *analytics.Aggregator, interval, retention time.Duration) {
	tick := func(ctx context.Context) {
		if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
			s.logger.Error("snapshot failed", "error", err)
			return
		}
		if retention <= 0 {
			return
		}
		if n, err := s.Prune(ctx, retention); err != nil {
			s.logger.Warn("snapshot prune failed", "error", err)
		} else if n > 0 {
			s.logger.Debug("snapshots pruned", "rows", n)
		}
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tick(ctx)
			case <-ctx.Done():
				final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				tick(final)
				cancel()
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval, "retention", retention)
}
