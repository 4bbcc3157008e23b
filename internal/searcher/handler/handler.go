// Package handler exposes the search service over HTTP: the streaming
// search, keyword generation, one-off summaries, note lookups and cache
// administration.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/analytics"
	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/auth/session"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/cache"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/enrich"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/executor"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/merger"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/ranker"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/stream"
	"github.com/bhandzo/cw-search-prototype/internal/summarizer"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/bhandzo/cw-search-prototype/pkg/metrics"
	"github.com/bhandzo/cw-search-prototype/pkg/tracing"
)

const maxBodyBytes = 1 << 20

// Search results as recorded in metrics.
const (
	resultOK        = "ok"
	resultFailed    = "upstream_error"
	resultCancelled = "cancelled"
)

type FanOuter interface {
	FanOut(ctx context.Context, creds ats.Credentials, terms []parser.Term) ([]executor.Result, error)
}

type NotesSource interface {
	Notes(ctx context.Context, creds ats.Credentials, personID ats.ID) ([]ats.Note, error)
	Note(ctx context.Context, creds ats.Credentials, noteID ats.ID) (*ats.Note, error)
}

// LLM is implemented by *summarizer.Service.
type LLM interface {
	GenerateKeywords(ctx context.Context, query, apiKey string) (parser.KeywordSet, error)
	Summarize(ctx context.Context, req summarizer.Request) (*summarizer.Summary, error)
}

type Enricher interface {
	Run(ctx context.Context, job enrich.Job, sink enrich.Sink) enrich.Stats
}

// Tracker is implemented by *analytics.Tracker.
type Tracker interface {
	TrackSearch(ev analytics.SearchEvent)
	TrackEnrichment(ev analytics.EnrichmentEvent)
}

// Deps wires the handler. Cache and Tracker may be nil.
type Deps struct {
	Searcher     FanOuter
	ATS          NotesSource
	LLM          LLM
	Enricher     Enricher
	Cache        *cache.RankedCache
	Tracker      Tracker
	Metrics      *metrics.Metrics
	Strategy     ranker.Strategy
	NoteMaxChars int
	Tracing      bool
}

type Handler struct {
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps) *Handler {
	if deps.Strategy == "" {
		deps.Strategy = ranker.Frequency
	}
	if deps.NoteMaxChars <= 0 {
		deps.NoteMaxChars = 500
	}
	return &Handler{deps: deps, logger: logger.WithComponent("search-handler")}
}

type searchRequest struct {
	Keywords      parser.KeywordSet `json:"keywords"`
	OriginalQuery string            `json:"originalQuery"`
	// Strategy overrides the configured ranking strategy for this request.
	Strategy string `json:"rankingStrategy,omitempty"`
}

// Search handles POST /api/v1/search. Failures before the ranked list is
// ready end the response with the mapped status and a single error event;
// after that, per-candidate failures only leave gaps in the stream.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := logger.RequestID(r.Context())
	ctx, span := tracing.StartSpan(r.Context(), "search", reqID)
	log := logger.FromContext(ctx).With("component", "search-handler")

	em := stream.NewEmitter(w, r, stream.NegotiateFormat(r.Header.Get("Accept")), h.deps.Metrics)
	defer em.Close()

	ev := analytics.SearchEvent{RequestID: reqID, Status: analytics.StatusFailed}
	defer func() {
		span.End()
		if h.deps.Tracing {
			span.Log(log)
		}
		ev.LatencyMs = time.Since(start).Milliseconds()
		if h.deps.Tracker != nil {
			h.deps.Tracker.TrackSearch(ev)
		}
	}()

	rec, ok := session.FromContext(ctx)
	if !ok {
		h.fail(em, &ev, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, session.MsgNoToken))
		return
	}
	ev.FirmSlug = rec.FirmSlug

	req, strategy, err := h.decodeSearch(w, r)
	if err != nil {
		h.fail(em, &ev, err)
		return
	}
	ev.Keywords = req.Keywords.Flatten()
	ev.KeywordCount = len(ev.Keywords)
	ev.Strategy = string(strategy)
	span.SetAttr("keywords", ev.KeywordCount)
	span.SetAttr("strategy", string(strategy))

	ranked, cacheHit, err := h.rank(ctx, rec.Credentials.Credentials, req.Keywords, strategy)
	ev.CacheHit = cacheHit
	if err != nil {
		log.Warn("search failed before ranking", "error", err)
		h.deps.Metrics.ObserveSearch(resultFailed, 0)
		h.fail(em, &ev, err)
		return
	}

	processing := min(rec.MaxCandidates, len(ranked))
	ev.Total = len(ranked)
	ev.LimitedTo = rec.MaxCandidates
	ev.Processing = processing
	if err := em.Emit(stream.Initial(ranked, rec.MaxCandidates, processing)); err != nil {
		log.Info("caller gone before initial event", "error", err)
		ev.Status = analytics.StatusCancelled
		h.deps.Metrics.ObserveSearch(resultCancelled, len(ranked))
		return
	}
	ev.TimeToInitialMs = time.Since(start).Milliseconds()
	log.Info("ranked list sent",
		"total", len(ranked),
		"processing", processing,
		"cache_hit", cacheHit,
		"time_to_initial_ms", ev.TimeToInitialMs,
	)

	stats := h.deps.Enricher.Run(ctx, enrich.Job{
		Creds:         rec.Credentials.Credentials,
		Candidates:    ranked[:processing],
		OriginalQuery: req.OriginalQuery,
		Keywords:      ev.Keywords,
		APIKey:        rec.OpenAIAPIKey,
		OnOutcome:     h.outcomeTracker(rec.FirmSlug, reqID),
	}, em)

	ev.NotesOK, ev.NotesFailed = stats.NotesOK, stats.NotesFailed
	ev.SummaryOK, ev.SummaryFailed = stats.SummaryOK, stats.SummaryFailed
	ev.Cancelled = stats.Cancelled
	if stats.Cancelled {
		ev.Status = analytics.StatusCancelled
		h.deps.Metrics.ObserveSearch(resultCancelled, len(ranked))
		return
	}
	ev.Status = analytics.StatusCompleted
	h.deps.Metrics.ObserveSearch(resultOK, len(ranked))
}

func (h *Handler) decodeSearch(w http.ResponseWriter, r *http.Request) (searchRequest, ranker.Strategy, error) {
	var req searchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err)
	}
	set, err := parser.Normalize(req.Keywords)
	if err != nil {
		return req, "", err
	}
	req.Keywords = set
	req.OriginalQuery = strings.TrimSpace(req.OriginalQuery)

	strategy := h.deps.Strategy
	if req.Strategy != "" {
		if strategy, err = ranker.ParseStrategy(req.Strategy); err != nil {
			return req, "", err
		}
	}
	return req, strategy, nil
}

// rank runs fan-out, merge and rank, going through the ranked-result cache
// when one is configured.
func (h *Handler) rank(ctx context.Context, creds ats.Credentials, set parser.KeywordSet, strategy ranker.Strategy) ([]ats.Person, bool, error) {
	compute := func(ctx context.Context) ([]ats.Person, error) {
		results, err := h.deps.Searcher.FanOut(ctx, creds, set.Terms())
		if err != nil {
			return nil, err
		}
		_, span := tracing.StartChildSpan(ctx, "rank")
		defer span.End()
		idx := merger.Merge(results)
		span.SetAttr("unique", idx.Len())
		return ranker.Rank(idx, strategy)
	}
	if h.deps.Cache == nil {
		ranked, err := compute(ctx)
		return ranked, false, err
	}
	return h.deps.Cache.GetOrCompute(ctx, cache.Key(creds, strategy, set), compute)
}

func (h *Handler) fail(em *stream.Emitter, ev *analytics.SearchEvent, err error) {
	ev.Status = analytics.StatusFailed
	ev.Error = apperrors.PublicMessage(err)
	if werr := em.Fail(err); werr != nil {
		h.logger.Debug("writing error event failed", "error", werr)
	}
}

func (h *Handler) outcomeTracker(firm, reqID string) func(enrich.Outcome) {
	if h.deps.Tracker == nil {
		return nil
	}
	return func(o enrich.Outcome) {
		ev := analytics.EnrichmentEvent{
			FirmSlug:   firm,
			PersonID:   string(o.PersonID),
			Stage:      o.Stage,
			Status:     o.Status,
			DurationMs: o.Duration.Milliseconds(),
			RequestID:  reqID,
		}
		if o.Err != nil {
			ev.Error = apperrors.PublicMessage(o.Err)
		}
		h.deps.Tracker.TrackEnrichment(ev)
	}
}

type keywordsRequest struct {
	Query string `json:"query"`
}

// Keywords handles POST /api/v1/keywords.
func (h *Handler) Keywords(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.session(w, r)
	if !ok {
		return
	}
	var req keywordsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query is required"))
		return
	}
	set, err := h.deps.LLM.GenerateKeywords(r.Context(), req.Query, rec.OpenAIAPIKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"keywords": set})
}

type summaryRequest struct {
	Person        *ats.Person `json:"person"`
	OriginalQuery string      `json:"originalQuery"`
	Keywords      []string    `json:"keywords"`
}

// Summary handles POST /api/v1/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.session(w, r)
	if !ok {
		return
	}
	var req summaryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Person == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "person is required"))
		return
	}
	for i := range req.Person.Notes {
		req.Person.Notes[i].Content = enrich.SanitizeNote(req.Person.Notes[i].Content, h.deps.NoteMaxChars)
	}
	sum, err := h.deps.LLM.Summarize(r.Context(), summarizer.Request{
		Person:        *req.Person,
		OriginalQuery: req.OriginalQuery,
		Keywords:      req.Keywords,
		APIKey:        rec.OpenAIAPIKey,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sum)
}

// PersonNotes handles GET /api/v1/people/{id}/notes.
func (h *Handler) PersonNotes(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.session(w, r)
	if !ok {
		return
	}
	id := ats.ID(strings.TrimSpace(r.PathValue("id")))
	if id == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "person id is required"))
		return
	}
	notes, err := h.deps.ATS.Notes(r.Context(), rec.Credentials.Credentials, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	for i := range notes {
		notes[i].Content = enrich.SanitizeNote(notes[i].Content, h.deps.NoteMaxChars)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

// Note handles GET /api/v1/notes/{id}. Content is returned unsanitized.
func (h *Handler) Note(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.session(w, r)
	if !ok {
		return
	}
	id := ats.ID(strings.TrimSpace(r.PathValue("id")))
	if id == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "note id is required"))
		return
	}
	note, err := h.deps.ATS.Note(r.Context(), rec.Credentials.Credentials, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"note": note})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.deps.Cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}

	deleted, err := h.deps.Cache.Invalidate(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Record, bool) {
	rec, ok := session.FromContext(r.Context())
	if !ok {
		h.writeError(w, r, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, session.MsgNoToken))
	}
	return rec, ok
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= 500 {
		log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		log.Warn("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": apperrors.PublicMessage(err)})
}
