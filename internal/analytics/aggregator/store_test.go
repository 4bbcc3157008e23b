package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bhandzo/cw-search-prototype/internal/analytics"
	"github.com/bhandzo/cw-search-prototype/pkg/postgres"
)

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(postgres.FromDB(db)), mock
}

func TestSaveSnapshot(t *testing.T) {
	s, mock := newStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	stats := analytics.AggregatedStats{TotalSearches: 3}
	data, _ := json.Marshal(stats)
	mock.ExpectExec("INSERT INTO analytics_snapshots").
		WithArgs(data, at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.SaveSnapshot(context.Background(), stats); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLatestSnapshot_Empty(t *testing.T) {
	s, mock := newStore(t)
	mock.ExpectQuery("SELECT data, captured_at FROM analytics_snapshots").
		WillReturnRows(sqlmock.NewRows([]string{"data", "captured_at"}))

	snap, err := s.LatestSnapshot(context.Background())
	if err != nil || snap != nil {
		t.Errorf("got %+v, %v; want nil, nil", snap, err)
	}
}

func TestListSnapshots_SkipsCorruptRows(t *testing.T) {
	s, mock := newStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"data", "captured_at"}).
		AddRow([]byte(`{"total_searches":9}`), at).
		AddRow([]byte(`{broken`), at.Add(-time.Minute))
	mock.ExpectQuery("SELECT data, captured_at FROM analytics_snapshots").
		WithArgs(5).
		WillReturnRows(rows)

	snaps, err := s.ListSnapshots(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].Stats.TotalSearches != 9 || !snaps[0].CapturedAt.Equal(at) {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestSnapshotsHandler(t *testing.T) {
	s, mock := newStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT data, captured_at FROM analytics_snapshots").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"data", "captured_at"}).
			AddRow([]byte(`{"total_searches":4}`), at))

	h := NewHandler(s)
	w := httptest.NewRecorder()
	h.Snapshots(w, httptest.NewRequest("GET", "/api/v1/analytics/snapshots?limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Snapshots []Snapshot `json:"snapshots"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Snapshots) != 1 || body.Snapshots[0].Stats.TotalSearches != 4 {
		t.Errorf("snapshots = %+v", body.Snapshots)
	}

	w = httptest.NewRecorder()
	h.Snapshots(w, httptest.NewRequest("GET", "/api/v1/analytics/snapshots?limit=zero", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
}

func TestPrune(t *testing.T) {
	s, mock := newStore(t)
	at := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	mock.ExpectExec("DELETE FROM analytics_snapshots WHERE captured_at").
		WithArgs(at.Add(-30 * 24 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.Prune(context.Background(), 30*24*time.Hour)
	if err != nil || n != 4 {
		t.Errorf("Prune = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
