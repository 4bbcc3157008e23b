package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/analytics"
	"github.com/bhandzo/cw-search-prototype/pkg/kafka"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	fail    bool
}

func (f *fakePublisher) Publish(ctx context.Context, ev kafka.Event) error {
	return f.PublishBatch(ctx, []kafka.Event{ev})
}

func (f *fakePublisher) PublishBatch(_ context.Context, evs []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.batches = append(f.batches, evs)
	return nil
}

func (f *fakePublisher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestBatchCollector_FlushesOnShutdown(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.TrackEnrichment(analytics.EnrichmentEvent{PersonID: "7", Stage: "notes", Status: "failed"})
	bc.TrackEnrichment(analytics.EnrichmentEvent{PersonID: "8", Stage: "notes", Status: "ok"})
	cancel()
	bc.Close()

	if pub.total() != 2 {
		t.Fatalf("published %d, want 2", pub.total())
	}
	first := pub.batches[0][0]
	if first.Key != "7" {
		t.Errorf("key = %q, want person id", first.Key)
	}
	if ev := first.Value.(analytics.EnrichmentEvent); ev.Type != analytics.EventEnrichment || ev.Timestamp.IsZero() {
		t.Errorf("event not stamped: %+v", ev)
	}
}

func TestBatchCollector_FlushesAtBatchSize(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 2, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bc.Start(ctx)
	bc.Track("a", 1)
	bc.Track("b", 2)

	deadline := time.Now().Add(2 * time.Second)
	for pub.total() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.total() != 2 {
		t.Errorf("published %d, want 2", pub.total())
	}
}

func TestBatchCollector_RequeuesAndCapsOnFailure(t *testing.T) {
	pub := &fakePublisher{fail: true}
	bc := NewBatchCollector(pub, 2, time.Hour)
	for i := 0; i < 10; i++ {
		bc.buffer = append(bc.buffer, kafka.Event{Key: "k"})
	}
	bc.flush(context.Background())
	if got := bc.BufferLen(); got != 6 {
		t.Errorf("buffer = %d, want capped at 6", got)
	}
}

func TestNilBatchCollector(t *testing.T) {
	var bc *BatchCollector
	bc.TrackEnrichment(analytics.EnrichmentEvent{})
	bc.Track("k", nil)
	bc.Close()
}
