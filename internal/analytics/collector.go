package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/bhandzo/cw-search-prototype/pkg/kafka"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
)

// Collector publishes search events asynchronously. A nil *Collector
// accepts and discards events, which is how analytics is switched off.
type Collector struct {
	publisher kafka.Publisher
	eventCh   chan kafka.Event
	logger    *slog.Logger
	done      chan struct{}
}

func NewCollector(publisher kafka.Publisher, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		publisher: publisher,
		eventCh:   make(chan kafka.Event, bufferSize),
		logger:    logger.WithComponent("analytics-collector"),
		done:      make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// TrackSearch queues ev without blocking; a full buffer drops it.
func (c *Collector) TrackSearch(ev SearchEvent) {
	if c == nil {
		return
	}
	ev.Type = EventSearch
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case c.eventCh <- kafka.Event{Key: ev.FirmSlug, Value: ev}:
	default:
		c.logger.Warn("analytics event dropped (buffer full)", "request_id", ev.RequestID)
	}
}

// Close stops accepting events and waits for the publish loop.
func (c *Collector) Close() {
	if c == nil {
		return
	}
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event kafka.Event) {
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Error("failed to publish analytics event", "key", event.Key, "error", err)
	}
}

func (c *Collector) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(ctx, event)
		default:
			return
		}
	}
}
