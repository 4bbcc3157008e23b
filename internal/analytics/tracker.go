package analytics

import "time"

// EnrichmentPublisher is implemented by collector.BatchCollector.
type EnrichmentPublisher interface {
	TrackEnrichment(ev EnrichmentEvent)
}

// Tracker records events in the in-process aggregate and forwards them to
// Kafka when publishing is enabled. Every field may be nil.
type Tracker struct {
	local      *Aggregator
	searches   *Collector
	enrichment EnrichmentPublisher
}

func NewTracker(local *Aggregator, searches *Collector, enrichment EnrichmentPublisher) *Tracker {
	return &Tracker{local: local, searches: searches, enrichment: enrichment}
}

func (t *Tracker) TrackSearch(ev SearchEvent) {
	if t == nil {
		return
	}
	ev.Type = EventSearch
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if t.local != nil {
		t.local.RecordSearch(ev)
	}
	t.searches.TrackSearch(ev)
}

func (t *Tracker) TrackEnrichment(ev EnrichmentEvent) {
	if t == nil {
		return
	}
	ev.Type = EventEnrichment
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if t.local != nil {
		t.local.RecordEnrichment(ev)
	}
	if t.enrichment != nil {
		t.enrichment.TrackEnrichment(ev)
	}
}
