// Package stream writes search progress events to a long-lived HTTP response
// as NDJSON or Server-Sent Events, and reads them back.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
)

type EventType string

const (
	EventInitial EventType = "initial"
	EventNotes   EventType = "notes"
	EventSummary EventType = "summary"
	EventError   EventType = "error"
)

// Event is one progress record. Which fields are meaningful depends on Type.
type Event struct {
	Type EventType

	// initial
	Candidates      []ats.Person
	Total           int
	LimitedTo       int
	ProcessingCount int

	// notes, summary
	PersonID     ats.ID
	Notes        []ats.Note
	ShortSummary string
	LongSummary  string

	// error
	Message string
}

// Initial builds the ranked-list event.
func Initial(candidates []ats.Person, limitedTo, processing int) Event {
	if candidates == nil {
		candidates = []ats.Person{}
	}
	return Event{
		Type:            EventInitial,
		Candidates:      candidates,
		Total:           len(candidates),
		LimitedTo:       limitedTo,
		ProcessingCount: processing,
	}
}

// NotesEvent builds a notes event for one candidate.
func NotesEvent(id ats.ID, notes []ats.Note) Event {
	if notes == nil {
		notes = []ats.Note{}
	}
	return Event{Type: EventNotes, PersonID: id, Notes: notes}
}

// SummaryEvent builds a summary event for one candidate.
func SummaryEvent(id ats.ID, short, long string) Event {
	return Event{Type: EventSummary, PersonID: id, ShortSummary: short, LongSummary: long}
}

// ErrorEvent builds a terminal error event.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

type initialWire struct {
	Type            EventType    `json:"type"`
	Candidates      []ats.Person `json:"candidates"`
	Total           int          `json:"total"`
	LimitedTo       int          `json:"limitedTo"`
	ProcessingCount int          `json:"processingCount"`
}

type notesWire struct {
	Type     EventType  `json:"type"`
	PersonID ats.ID     `json:"personId"`
	Notes    []ats.Note `json:"notes"`
}

type summaryWire struct {
	Type         EventType `json:"type"`
	PersonID     ats.ID    `json:"personId"`
	ShortSummary string    `json:"shortSummary"`
	LongSummary  string    `json:"longSummary"`
}

type errorWire struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventInitial:
		return json.Marshal(initialWire{e.Type, e.Candidates, e.Total, e.LimitedTo, e.ProcessingCount})
	case EventNotes:
		return json.Marshal(notesWire{e.Type, e.PersonID, e.Notes})
	case EventSummary:
		return json.Marshal(summaryWire{e.Type, e.PersonID, e.ShortSummary, e.LongSummary})
	case EventError:
		return json.Marshal(errorWire{e.Type, e.Message})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w struct {
		Type            EventType    `json:"type"`
		Candidates      []ats.Person `json:"candidates"`
		Total           int          `json:"total"`
		LimitedTo       int          `json:"limitedTo"`
		ProcessingCount int          `json:"processingCount"`
		PersonID        ats.ID       `json:"personId"`
		Notes           []ats.Note   `json:"notes"`
		ShortSummary    string       `json:"shortSummary"`
		LongSummary     string       `json:"longSummary"`
		Message         string       `json:"message"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event(w)
	return nil
}
