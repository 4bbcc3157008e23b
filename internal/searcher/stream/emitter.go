package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/bhandzo/cw-search-prototype/pkg/metrics"
)

// Format is the wire framing of a stream.
type Format int

const (
	FormatNDJSON Format = iota
	FormatSSE
)

// ContentType returns the media type for f.
func (f Format) ContentType() string {
	if f == FormatSSE {
		return "text/event-stream"
	}
	return "application/x-ndjson"
}

// NegotiateFormat picks SSE when the Accept header asks for it and NDJSON
// otherwise.
func NegotiateFormat(accept string) Format {
	if strings.Contains(strings.ToLower(accept), "text/event-stream") {
		return FormatSSE
	}
	return FormatNDJSON
}

var (
	errInitialTwice  = errors.New("initial event already sent")
	errBeforeInitial = errors.New("enrichment event before initial")
	errDuplicate     = errors.New("duplicate event")
)

type eventKey struct {
	typ EventType
	id  ats.ID
}

// Emitter serialises events onto one response. It is safe for concurrent
// use. Headers are committed with the first event so a failure before any
// output can still choose the status code.
type Emitter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	format  Format
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu          sync.Mutex
	committed   bool
	initialSent bool
	terminal    bool
	broken      bool
	seen        map[eventKey]struct{}
	closeOnce   sync.Once
}

// NewEmitter wraps w. The response write deadline is cleared because a
// stream lives as long as enrichment takes.
func NewEmitter(w http.ResponseWriter, r *http.Request, format Format, m *metrics.Metrics) *Emitter {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	return &Emitter{
		w:       w,
		rc:      rc,
		format:  format,
		metrics: m,
		logger:  logger.FromContext(r.Context()).With("component", "stream-emitter"),
		seen:    make(map[eventKey]struct{}),
	}
}

// Emit writes ev and flushes it. The initial event may be sent once and must
// come first; each (type, person) pair is accepted once; nothing is accepted
// after an error event or Close.
func (e *Emitter) Emit(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminal {
		return apperrors.ErrStreamClosed
	}
	switch ev.Type {
	case EventInitial:
		if e.initialSent {
			return errInitialTwice
		}
	case EventNotes, EventSummary:
		if !e.initialSent {
			return errBeforeInitial
		}
		k := eventKey{ev.Type, ev.PersonID}
		if _, dup := e.seen[k]; dup {
			return fmt.Errorf("%w: %s for person %s", errDuplicate, ev.Type, ev.PersonID)
		}
		e.seen[k] = struct{}{}
	case EventError:
		e.terminal = true
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.Type == EventInitial {
		e.initialSent = true
	}
	return e.write(http.StatusOK, ev)
}

// Fail ends the stream with an error event. Before any output it also sets
// the HTTP status mapped from err; afterwards the status is already 200 and
// only the event is appended.
func (e *Emitter) Fail(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal {
		return apperrors.ErrStreamClosed
	}
	e.terminal = true
	status := http.StatusOK
	if !e.committed {
		status = apperrors.HTTPStatusCode(err)
	}
	return e.write(status, ErrorEvent(apperrors.PublicMessage(err)))
}

// Close marks the stream finished. Calling it more than once is harmless.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.terminal = true
		if !e.committed {
			e.commit(http.StatusOK)
		}
		if e.committed {
			e.metrics.StreamClosed()
		}
	})
}

// Started reports whether any byte has been written.
func (e *Emitter) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committed
}

func (e *Emitter) commit(status int) {
	h := e.w.Header()
	h.Set("Content-Type", e.format.ContentType())
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	if e.format == FormatSSE {
		h.Set("Connection", "keep-alive")
	}
	e.w.WriteHeader(status)
	e.committed = true
	e.metrics.StreamOpened()
}

func (e *Emitter) write(status int, ev Event) error {
	if e.broken {
		return apperrors.ErrStreamClosed
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	if !e.committed {
		e.commit(status)
	}

	var frame []byte
	switch e.format {
	case FormatSSE:
		frame = make([]byte, 0, len(payload)+len(ev.Type)+16)
		frame = append(frame, "event: "...)
		frame = append(frame, string(ev.Type)...)
		frame = append(frame, "\ndata: "...)
		frame = append(frame, payload...)
		frame = append(frame, "\n\n"...)
	default:
		frame = append(payload, '\n')
	}

	if _, err := e.w.Write(frame); err != nil {
		e.broken = true
		e.logger.Warn("stream write failed", "event", ev.Type, "error", err)
		return fmt.Errorf("%w: %v", apperrors.ErrStreamClosed, err)
	}
	if err := e.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		e.broken = true
		return fmt.Errorf("%w: %v", apperrors.ErrStreamClosed, err)
	}
	e.metrics.ObserveStreamEvent(string(ev.Type))
	return nil
}
