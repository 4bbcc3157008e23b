package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/analytics"
	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/auth/session"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/cache"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/enrich"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/executor"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/stream"
	"github.com/bhandzo/cw-search-prototype/internal/summarizer"
	"github.com/bhandzo/cw-search-prototype/pkg/config"
	"github.com/redis/go-redis/v9"
)

// fakeATS serves people_search pages and notes like the real ATS.
type fakeATS struct {
	pages       map[string][]string // keyword -> JSON people array per page
	failKeyword map[string]int
	failNotes   map[string]bool
	searches    atomic.Int64
	mu          sync.Mutex
	notesCalls  []string
}

func (f *fakeATS) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /acme/people_search", func(w http.ResponseWriter, r *http.Request) {
		f.searches.Add(1)
		q := r.URL.Query().Get("q")
		if status, ok := f.failKeyword[q]; ok {
			http.Error(w, "boom", status)
			return
		}
		var page int
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		people := "[]"
		if pages := f.pages[q]; page >= 1 && page <= len(pages) {
			people = pages[page-1]
		}
		fmt.Fprintf(w, `{"peopleSearch":%s}`, people)
	})
	mux.HandleFunc("GET /acme/people/{id}/notes", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		f.notesCalls = append(f.notesCalls, id)
		f.mu.Unlock()
		if f.failNotes[id] {
			http.Error(w, "notes down", http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"notes":[{"id":"n-%s","type":"call","content":"<p>Spoke with <b>%s</b></p>","createdAt":"2026-01-01"}]}`, id, id)
	})
	mux.HandleFunc("GET /acme/notes/{id}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"note":{"id":%q,"type":"email","content":"<i>raw</i>"}}`, r.PathValue("id"))
	})
	return mux
}

type fakeLLM struct {
	mu       sync.Mutex
	summary  []string
	keywords parser.KeywordSet
}

func (f *fakeLLM) GenerateKeywords(_ context.Context, query, _ string) (parser.KeywordSet, error) {
	if query == "fail" {
		return nil, errors.New("model down")
	}
	return f.keywords, nil
}

func (f *fakeLLM) Summarize(_ context.Context, req summarizer.Request) (*summarizer.Summary, error) {
	f.mu.Lock()
	f.summary = append(f.summary, string(req.Person.ID))
	f.mu.Unlock()
	return &summarizer.Summary{Short: "s" + string(req.Person.ID), Long: "l" + string(req.Person.ID)}, nil
}

type recordingTracker struct {
	mu         sync.Mutex
	searches   []analytics.SearchEvent
	enrichment []analytics.EnrichmentEvent
}

func (r *recordingTracker) TrackSearch(ev analytics.SearchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches = append(r.searches, ev)
}

func (r *recordingTracker) TrackEnrichment(ev analytics.EnrichmentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrichment = append(r.enrichment, ev)
}

type env struct {
	ats     *fakeATS
	llm     *fakeLLM
	tracker *recordingTracker
	h       *Handler
}

func newEnv(t *testing.T, f *fakeATS, withCache bool) *env {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.ATS.BaseURL = srv.URL
	cfg.ATS.SearchTimeout = 2 * time.Second
	cfg.ATS.NotesTimeout = 2 * time.Second
	cfg.Resilience.NotesRetryAttempts = 1
	client := ats.New(cfg.ATS, cfg.Resilience, nil)

	llm := &fakeLLM{}
	tracker := &recordingTracker{}
	deps := Deps{
		Searcher: executor.New(client, 2),
		ATS:      client,
		LLM:      llm,
		Enricher: enrich.New(client, llm, enrich.Options{}, nil),
		Tracker:  tracker,
	}
	if withCache {
		deps.Cache = cache.New(&mapStore{data: map[string][]byte{}}, time.Minute, nil)
	}
	return &env{ats: f, llm: llm, tracker: tracker, h: New(deps)}
}

func sessionRecord(maxCandidates int) *session.Record {
	return &session.Record{Credentials: session.Credentials{
		Credentials:   ats.Credentials{FirmSlug: "acme", FirmAPIKey: "k", ClockworkAuthKey: "b"},
		MaxCandidates: maxCandidates,
	}}
}

func (e *env) search(t *testing.T, rec *session.Record, body, accept string) (*httptest.ResponseRecorder, []stream.Event) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/search", strings.NewReader(body))
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if rec != nil {
		req = req.WithContext(session.WithRecord(req.Context(), rec))
	}
	w := httptest.NewRecorder()
	e.h.Search(w, req)

	format := stream.FormatNDJSON
	if accept == "text/event-stream" {
		format = stream.FormatSSE
	}
	dec := stream.NewDecoder(bytes.NewReader(w.Body.Bytes()), format)
	var events []stream.Event
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("decode: %v (body %q)", err, w.Body.String())
		}
		events = append(events, ev)
	}
	return w, events
}

func person(id, name string) string {
	return fmt.Sprintf(`{"id":%q,"name":%q,"title":"Software Engineer"}`, id, name)
}

func TestSearch_DedupAcrossPages(t *testing.T) {
	e := newEnv(t, &fakeATS{pages: map[string][]string{
		"engineer": {"[" + person("1", "Ada") + "]", "[" + person("1", "Ada") + "]"},
	}}, false)

	w, events := e.search(t, sessionRecord(10), `{"keywords":{"title":["engineer"]},"originalQuery":"engineers"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}
	if w.Header().Get("Cache-Control") != "no-cache" {
		t.Error("missing Cache-Control: no-cache")
	}
	initial := events[0]
	if initial.Type != stream.EventInitial || len(initial.Candidates) != 1 {
		t.Fatalf("initial = %+v", initial)
	}
	c := initial.Candidates[0]
	if c.ID != "1" || c.MatchScore != 2 || len(c.MatchedKeywords) != 1 || c.MatchedKeywords[0] != "engineer" {
		t.Errorf("candidate = id %s score %d keywords %v", c.ID, c.MatchScore, c.MatchedKeywords)
	}
}

func TestSearch_CapsEnrichment(t *testing.T) {
	var people []string
	for i := 1; i <= 5; i++ {
		people = append(people, person(fmt.Sprint(i), fmt.Sprintf("Person %d", i)))
	}
	e := newEnv(t, &fakeATS{pages: map[string][]string{
		"engineer": {"[" + strings.Join(people, ",") + "]"},
	}}, false)

	_, events := e.search(t, sessionRecord(2), `{"keywords":{"title":["engineer"]}}`, "")
	initial := events[0]
	if initial.Total != 5 || initial.LimitedTo != 2 || initial.ProcessingCount != 2 {
		t.Fatalf("initial counts = total %d limitedTo %d processing %d", initial.Total, initial.LimitedTo, initial.ProcessingCount)
	}

	enriched := map[ats.ID]bool{}
	var order []string
	for _, ev := range events[1:] {
		switch ev.Type {
		case stream.EventNotes, stream.EventSummary:
			enriched[ev.PersonID] = true
			order = append(order, string(ev.Type)+":"+string(ev.PersonID))
		default:
			t.Errorf("unexpected event %s", ev.Type)
		}
	}
	if len(enriched) != 2 {
		t.Errorf("enriched ids = %v, want 2", enriched)
	}
	want := []string{"notes:1", "summary:1", "notes:2", "summary:2"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("event order = %v, want %v", order, want)
	}
	if n := events[1].Notes; len(n) != 1 || n[0].Content != "Spoke with 1" {
		t.Errorf("notes not sanitized: %+v", n)
	}

	if len(e.tracker.searches) != 1 {
		t.Fatalf("tracked searches = %d", len(e.tracker.searches))
	}
	sev := e.tracker.searches[0]
	if sev.Status != analytics.StatusCompleted || sev.Total != 5 || sev.Processing != 2 || sev.NotesOK != 2 || sev.SummaryOK != 2 {
		t.Errorf("search event = %+v", sev)
	}
	if len(e.tracker.enrichment) != 4 {
		t.Errorf("enrichment events = %d, want 4", len(e.tracker.enrichment))
	}
}

func TestSearch_UpstreamFailureEmitsOnlyError(t *testing.T) {
	e := newEnv(t, &fakeATS{
		pages:       map[string][]string{"cfo": {"[" + person("1", "Ada") + "]"}},
		failKeyword: map[string]int{"engineer": http.StatusInternalServerError},
	}, false)

	w, events := e.search(t, sessionRecord(10), `{"keywords":{"title":["engineer","cfo"]}}`, "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if len(events) != 1 || events[0].Type != stream.EventError {
		t.Fatalf("events = %+v, want a single error", events)
	}
	if !strings.Contains(events[0].Message, `"engineer"`) || strings.Contains(events[0].Message, "boom") {
		t.Errorf("message = %q", events[0].Message)
	}
	if got := e.tracker.searches[0].Status; got != analytics.StatusFailed {
		t.Errorf("tracked status = %q", got)
	}
}

func TestSearch_NotesFailureIsContained(t *testing.T) {
	e := newEnv(t, &fakeATS{
		pages:     map[string][]string{"engineer": {"[" + person("7", "Grace") + "," + person("8", "Alan") + "]"}},
		failNotes: map[string]bool{"7": true},
	}, false)

	_, events := e.search(t, sessionRecord(10), `{"keywords":{"title":["engineer"]}}`, "")
	if events[0].Type != stream.EventInitial || events[0].Candidates[0].ID != "7" {
		t.Fatalf("initial = %+v", events[0])
	}
	var notesFor []ats.ID
	for _, ev := range events[1:] {
		if ev.Type == stream.EventNotes {
			notesFor = append(notesFor, ev.PersonID)
		}
	}
	if len(notesFor) != 1 || notesFor[0] != "8" {
		t.Errorf("notes events for %v, want only 8", notesFor)
	}
	last := events[len(events)-1]
	if last.Type != stream.EventSummary || last.PersonID != "8" {
		t.Errorf("pipeline did not reach candidate 8: last = %+v", last)
	}
}

func TestSearch_SSEFraming(t *testing.T) {
	e := newEnv(t, &fakeATS{pages: map[string][]string{"engineer": {"[" + person("1", "Ada") + "]"}}}, false)
	w, events := e.search(t, sessionRecord(1), `{"keywords":{"title":["engineer"]}}`, "text/event-stream")
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "event: initial\n") {
		t.Errorf("body = %q", w.Body.String())
	}
	if len(events) != 3 {
		t.Errorf("events = %d, want initial, notes, summary", len(events))
	}
}

func TestSearch_RejectsBeforeStreaming(t *testing.T) {
	e := newEnv(t, &fakeATS{}, false)
	tests := []struct {
		name string
		rec  *session.Record
		body string
		want int
	}{
		{"no session", nil, `{"keywords":{"title":["x"]}}`, http.StatusUnauthorized},
		{"bad json", sessionRecord(1), `{`, http.StatusBadRequest},
		{"empty keywords", sessionRecord(1), `{"keywords":{"title":["  "]}}`, http.StatusBadRequest},
		{"unknown strategy", sessionRecord(1), `{"keywords":{"title":["x"]},"rankingStrategy":"magic"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, events := e.search(t, tt.rec, tt.body, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if len(events) != 1 || events[0].Type != stream.EventError {
				t.Errorf("events = %+v", events)
			}
		})
	}
	if got := e.ats.searches.Load(); got != 0 {
		t.Errorf("ATS called %d times for rejected requests", got)
	}
}

func TestSearch_CacheSkipsFanOut(t *testing.T) {
	e := newEnv(t, &fakeATS{pages: map[string][]string{"engineer": {"[" + person("1", "Ada") + "]"}}}, true)
	body := `{"keywords":{"title":["engineer"]}}`

	e.search(t, sessionRecord(0), body, "")
	first := e.ats.searches.Load()
	_, events := e.search(t, sessionRecord(0), body, "")
	if e.ats.searches.Load() != first {
		t.Error("second identical search hit the ATS")
	}
	if events[0].Type != stream.EventInitial || len(events[0].Candidates) != 1 {
		t.Errorf("cached initial = %+v", events[0])
	}
	if !e.tracker.searches[1].CacheHit {
		t.Error("cache hit not tracked")
	}
}

func TestKeywords(t *testing.T) {
	e := newEnv(t, &fakeATS{}, false)
	e.llm.keywords = parser.KeywordSet{"title": {"cfo"}}

	req := httptest.NewRequest("POST", "/api/v1/keywords", strings.NewReader(`{"query":"a cfo"}`))
	req = req.WithContext(session.WithRecord(req.Context(), sessionRecord(1)))
	w := httptest.NewRecorder()
	e.h.Keywords(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body)
	}
	var got struct {
		Keywords parser.KeywordSet `json:"keywords"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Keywords["title"][0] != "cfo" {
		t.Errorf("keywords = %v", got.Keywords)
	}

	req = httptest.NewRequest("POST", "/api/v1/keywords", strings.NewReader(`{"query":""}`))
	req = req.WithContext(session.WithRecord(req.Context(), sessionRecord(1)))
	w = httptest.NewRecorder()
	e.h.Keywords(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d", w.Code)
	}
}

func TestPersonNotesAndNote(t *testing.T) {
	e := newEnv(t, &fakeATS{}, false)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/people/{id}/notes", e.h.PersonNotes)
	mux.HandleFunc("GET /api/v1/notes/{id}", e.h.Note)

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", path, nil)
		req = req.WithContext(session.WithRecord(req.Context(), sessionRecord(1)))
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		return w
	}

	w := do("/api/v1/people/42/notes")
	var notes struct {
		Notes []ats.Note `json:"notes"`
	}
	if err := json.NewDecoder(w.Body).Decode(&notes); err != nil {
		t.Fatal(err)
	}
	if len(notes.Notes) != 1 || notes.Notes[0].Content != "Spoke with 42" {
		t.Errorf("notes = %+v", notes.Notes)
	}

	w = do("/api/v1/notes/n-1")
	var note struct {
		Note ats.Note `json:"note"`
	}
	if err := json.NewDecoder(w.Body).Decode(&note); err != nil {
		t.Fatal(err)
	}
	if note.Note.ID != "n-1" || note.Note.Content != "<i>raw</i>" {
		t.Errorf("note = %+v", note.Note)
	}
}

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapStore) GetJSON(_ context.Context, key string, dst any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return redis.Nil
	}
	return json.Unmarshal(b, dst)
}

func (m *mapStore) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *mapStore) FlushByPattern(_ context.Context, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = map[string][]byte{}
	return n, nil
}
