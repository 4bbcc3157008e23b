// Package enrich attaches notes and generated summaries to the top ranked
// candidates and reports each step as a stream event.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/stream"
	"github.com/bhandzo/cw-search-prototype/internal/summarizer"
	"github.com/bhandzo/cw-search-prototype/pkg/config"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/bhandzo/cw-search-prototype/pkg/metrics"
	"github.com/bhandzo/cw-search-prototype/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

// Stage names used in outcomes and metrics.
const (
	StageNotes   = "notes"
	StageSummary = "summary"
)

// Outcome statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

type NotesFetcher interface {
	Notes(ctx context.Context, creds ats.Credentials, personID ats.ID) ([]ats.Note, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, req summarizer.Request) (*summarizer.Summary, error)
}

// Sink receives progress events. *stream.Emitter implements it.
type Sink interface {
	Emit(ev stream.Event) error
}

// Archiver stores generated summaries for later inspection.
type Archiver interface {
	Save(ctx context.Context, rec ArchiveRecord) error
}

type ArchiveRecord struct {
	PersonID      ats.ID
	FirmSlug      string
	OriginalQuery string
	Summary       summarizer.Summary
	CreatedAt     time.Time
}

// Outcome describes one stage for one candidate.
type Outcome struct {
	PersonID ats.ID
	Stage    string
	Status   string
	Duration time.Duration
	Err      error
}

// Job is one enrichment pass.
type Job struct {
	Creds         ats.Credentials
	Candidates    []ats.Person
	OriginalQuery string
	Keywords      []string
	APIKey        string
	// OnOutcome, when set, is called in addition to Options.OnOutcome.
	OnOutcome func(Outcome)
}

// Stats summarises a finished pass.
type Stats struct {
	Processed     int
	NotesOK       int
	NotesFailed   int
	SummaryOK     int
	SummaryFailed int
	Cancelled     bool
}

type Options struct {
	Concurrency  int
	NoteMaxChars int
	Archive      Archiver
	// OnOutcome is called once per stage per candidate. It may be called
	// from several goroutines when Concurrency > 1.
	OnOutcome func(Outcome)
}

type Pipeline struct {
	notes      NotesFetcher
	summarizer Summarizer
	opts       Options
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New builds a Pipeline. A nil summarizer skips the summary stage.
func New(notes NotesFetcher, sum Summarizer, opts Options, m *metrics.Metrics) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.NoteMaxChars <= 0 {
		opts.NoteMaxChars = 500
	}
	return &Pipeline{
		notes:      notes,
		summarizer: sum,
		opts:       opts,
		metrics:    m,
		logger:     logger.WithComponent("enrich-pipeline"),
	}
}

// OptionsFromConfig maps the enrich config section onto Options.
func OptionsFromConfig(cfg config.EnrichConfig) Options {
	return Options{Concurrency: cfg.Concurrency, NoteMaxChars: cfg.NoteMaxChars}
}

// Run enriches job.Candidates in order. With Concurrency 1 candidates are
// handled one after another, so all events for a candidate precede those of
// the next. Higher concurrency keeps notes before summary per candidate but
// interleaves candidates. Failures are contained per candidate. Once ctx is
// done or the sink is closed no further candidate is started.
func (p *Pipeline) Run(ctx context.Context, job Job, sink Sink) Stats {
	ctx, span := tracing.StartChildSpan(ctx, "enrich")
	defer span.End()
	span.SetAttr("candidates", len(job.Candidates))

	var (
		mu    sync.Mutex
		stats Stats
	)
	var sinkClosed sync.Once
	closed := make(chan struct{})
	markClosed := func() { sinkClosed.Do(func() { close(closed) }) }
	stopped := func() bool {
		select {
		case <-closed:
			return true
		default:
			return ctx.Err() != nil
		}
	}

	process := func(person ats.Person) {
		r := p.enrichOne(ctx, job, person, sink)
		mu.Lock()
		defer mu.Unlock()
		stats.Processed++
		switch r.notes {
		case StatusOK:
			stats.NotesOK++
		case StatusFailed:
			stats.NotesFailed++
		}
		switch r.summary {
		case StatusOK:
			stats.SummaryOK++
		case StatusFailed:
			stats.SummaryFailed++
		}
		if r.sinkClosed {
			markClosed()
		}
	}

	if p.opts.Concurrency == 1 {
		for _, person := range job.Candidates {
			if stopped() {
				break
			}
			process(person)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.opts.Concurrency)
		for _, person := range job.Candidates {
			if stopped() {
				break
			}
			g.Go(func() error {
				if stopped() {
					return nil
				}
				process(person)
				return nil
			})
		}
		_ = g.Wait()
	}

	stats.Cancelled = stopped() && stats.Processed < len(job.Candidates)
	if stats.Cancelled {
		p.logger.Info("enrichment stopped early",
			"processed", stats.Processed,
			"candidates", len(job.Candidates),
			"request_id", logger.RequestID(ctx),
		)
	}
	span.SetAttr("processed", stats.Processed)
	return stats
}

type candidateResult struct {
	notes      string
	summary    string
	sinkClosed bool
}

func (p *Pipeline) enrichOne(ctx context.Context, job Job, person ats.Person, sink Sink) candidateResult {
	log := logger.FromContext(ctx).With("component", "enrich-pipeline", "person_id", person.ID)
	res := candidateResult{notes: StatusFailed, summary: StatusSkipped}

	start := time.Now()
	notes, err := p.notes.Notes(ctx, job.Creds, person.ID)
	if err != nil {
		log.Warn("notes fetch failed, continuing without notes", "error", err)
		p.report(job, Outcome{PersonID: person.ID, Stage: StageNotes, Status: StatusFailed, Duration: time.Since(start), Err: err})
		person.Notes = []ats.Note{}
	} else {
		person.Notes = p.sanitize(notes)
		res.notes = StatusOK
		p.report(job, Outcome{PersonID: person.ID, Stage: StageNotes, Status: StatusOK, Duration: time.Since(start)})
		if err := sink.Emit(stream.NotesEvent(person.ID, person.Notes)); err != nil {
			if errors.Is(err, apperrors.ErrStreamClosed) {
				res.sinkClosed = true
				return res
			}
			log.Error("emitting notes event failed", "error", err)
		}
	}

	if p.summarizer == nil || ctx.Err() != nil {
		return res
	}

	start = time.Now()
	summary, err := p.summarizer.Summarize(ctx, summarizer.Request{
		Person:        person,
		OriginalQuery: job.OriginalQuery,
		Keywords:      job.Keywords,
		APIKey:        job.APIKey,
	})
	if err != nil {
		res.summary = StatusFailed
		log.Warn("summary generation failed, skipping", "error", err)
		p.report(job, Outcome{PersonID: person.ID, Stage: StageSummary, Status: StatusFailed, Duration: time.Since(start), Err: err})
		return res
	}
	res.summary = StatusOK
	p.report(job, Outcome{PersonID: person.ID, Stage: StageSummary, Status: StatusOK, Duration: time.Since(start)})
	if err := sink.Emit(stream.SummaryEvent(person.ID, summary.Short, summary.Long)); err != nil {
		if errors.Is(err, apperrors.ErrStreamClosed) {
			res.sinkClosed = true
		} else {
			log.Error("emitting summary event failed", "error", err)
		}
	}
	p.archive(ctx, job, person.ID, summary)
	return res
}

func (p *Pipeline) sanitize(notes []ats.Note) []ats.Note {
	out := make([]ats.Note, len(notes))
	for i, n := range notes {
		n.Content = SanitizeNote(n.Content, p.opts.NoteMaxChars)
		out[i] = n
	}
	return out
}

func (p *Pipeline) archive(ctx context.Context, job Job, id ats.ID, summary *summarizer.Summary) {
	if p.opts.Archive == nil {
		return
	}
	rec := ArchiveRecord{
		PersonID:      id,
		FirmSlug:      job.Creds.FirmSlug,
		OriginalQuery: job.OriginalQuery,
		Summary:       *summary,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.opts.Archive.Save(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("archiving summary failed", "person_id", id, "error", err)
	}
}

func (p *Pipeline) report(job Job, o Outcome) {
	p.metrics.ObserveEnrichment(o.Stage, o.Status)
	if p.opts.OnOutcome != nil {
		p.opts.OnOutcome(o)
	}
	if job.OnOutcome != nil {
		job.OnOutcome(o)
	}
}
