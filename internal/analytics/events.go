package analytics

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventSearch     EventType = "search"
	EventEnrichment EventType = "enrichment"
)

// Search outcomes.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// SearchEvent is published once per streamed search request.
type SearchEvent struct {
	Type            EventType `json:"type"`
	FirmSlug        string    `json:"firm_slug"`
	Keywords        []string  `json:"keywords"`
	KeywordCount    int       `json:"keyword_count"`
	Strategy        string    `json:"strategy"`
	Total           int       `json:"total"`
	LimitedTo       int       `json:"limited_to"`
	Processing      int       `json:"processing"`
	NotesOK         int       `json:"notes_ok"`
	NotesFailed     int       `json:"notes_failed"`
	SummaryOK       int       `json:"summary_ok"`
	SummaryFailed   int       `json:"summary_failed"`
	Cancelled       bool      `json:"cancelled"`
	CacheHit        bool      `json:"cache_hit"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	LatencyMs       int64     `json:"latency_ms"`
	TimeToInitialMs int64     `json:"time_to_initial_ms"`
	RequestID       string    `json:"request_id"`
	Timestamp       time.Time `json:"timestamp"`
}

// EnrichmentEvent records one enrichment stage for one candidate.
type EnrichmentEvent struct {
	Type       EventType `json:"type"`
	FirmSlug   string    `json:"firm_slug"`
	PersonID   string    `json:"person_id"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	RequestID  string    `json:"request_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// DecodeEvent inspects the type discriminator and decodes value into a
// *SearchEvent or *EnrichmentEvent.
func DecodeEvent(value []byte) (any, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return nil, fmt.Errorf("decoding analytics event: %w", err)
	}
	switch head.Type {
	case EventSearch:
		var ev SearchEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return nil, fmt.Errorf("decoding search event: %w", err)
		}
		return &ev, nil
	case EventEnrichment:
		var ev EnrichmentEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return nil, fmt.Errorf("decoding enrichment event: %w", err)
		}
		return &ev, nil
	default:
		return nil, fmt.Errorf("unknown analytics event type %q", head.Type)
	}
}
