// Package collector batches per-candidate enrichment events for Kafka. A
// search produces up to two events per enriched candidate, so they are
// buffered and written in bulk rather than one produce call each.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/analytics"
	"github.com/bhandzo/cw-search-prototype/pkg/kafka"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
)

// BatchCollector buffers events and flushes them from one loop, on a full
// batch or on the interval. The buffer holds at most three batches; the
// oldest events go first when Kafka is down. A nil collector discards.
type BatchCollector struct {
	publisher kafka.Publisher
	size      int
	limit     int
	interval  time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	buffer []kafka.Event

	full chan struct{}
	done chan struct{}
}

func NewBatchCollector(publisher kafka.Publisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher: publisher,
		size:      batchSize,
		limit:     3 * batchSize,
		interval:  flushInterval,
		logger:    logger.WithComponent("batch-collector"),
		full:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start runs the flush loop until ctx ends, then flushes what is left.
func (bc *BatchCollector) Start(ctx context.Context) {
	go bc.loop(ctx)
	bc.logger.Info("batch collector started", "batch_size", bc.size, "flush_interval", bc.interval)
}

func (bc *BatchCollector) loop(ctx context.Context) {
	defer close(bc.done)
	ticker := time.NewTicker(bc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			bc.flush(ctx)
		case <-bc.full:
			bc.flush(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			bc.flush(final)
			cancel()
			return
		}
	}
}

// TrackEnrichment stamps ev and keys it by person id, keeping one
// candidate's stages on one partition.
func (bc *BatchCollector) TrackEnrichment(ev analytics.EnrichmentEvent) {
	if bc == nil {
		return
	}
	ev.Type = analytics.EventEnrichment
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	bc.Track(ev.PersonID, ev)
}

func (bc *BatchCollector) Track(key string, value any) {
	if bc == nil {
		return
	}
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, kafka.Event{Key: key, Value: value})
	full := len(bc.buffer) >= bc.size
	bc.mu.Unlock()

	if full {
		select {
		case bc.full <- struct{}{}:
		default:
		}
	}
}

// Close waits for the final flush after the Start context ends.
func (bc *BatchCollector) Close() {
	if bc == nil {
		return
	}
	<-bc.done
}

func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

func (bc *BatchCollector) flush(ctx context.Context) {
	bc.mu.Lock()
	batch := bc.buffer
	bc.buffer = nil
	bc.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	err := bc.publisher.PublishBatch(ctx, batch)
	if err == nil {
		bc.logger.Debug("batch flushed", "events", len(batch))
		return
	}

	bc.mu.Lock()
	requeued := append(batch, bc.buffer...)
	dropped := max(len(requeued)-bc.limit, 0)
	bc.buffer = requeued[dropped:]
	bc.mu.Unlock()

	bc.logger.Error("batch flush failed", "events", len(batch), "dropped", dropped, "error", err)
}
