// Package executor fans keyword searches out to the ATS and joins them.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/bhandzo/cw-search-prototype/pkg/tracing"
	"golang.org/x/sync/errgroup"
)

// PageSearcher fetches one page of search results for one keyword.
type PageSearcher interface {
	SearchPage(ctx context.Context, creds ats.Credentials, keyword string, page int) (*ats.SearchPage, error)
}

// Result is one (keyword, page) response.
type Result struct {
	Term   parser.Term
	Page   int
	People []ats.Person
}

type Executor struct {
	client PageSearcher
	pages  int
	logger *slog.Logger
}

// New returns an Executor that fetches pages 1..pagesPerKeyword per keyword.
func New(client PageSearcher, pagesPerKeyword int) *Executor {
	if pagesPerKeyword < 1 {
		pagesPerKeyword = 1
	}
	return &Executor{
		client: client,
		pages:  pagesPerKeyword,
		logger: logger.WithComponent("search-executor"),
	}
}

// FanOut issues every (term, page) request concurrently and waits for all of
// them. Results come back in term order, then page order, whatever order the
// responses arrived in. The first failure cancels the remaining calls and is
// returned; no partial results are returned with it.
func (e *Executor) FanOut(ctx context.Context, creds ats.Credentials, terms []parser.Term) ([]Result, error) {
	ctx, span := tracing.StartChildSpan(ctx, "fanout")
	defer span.End()
	span.SetAttr("keywords", len(terms))
	span.SetAttr("pages", e.pages)

	start := time.Now()
	results := make([]Result, len(terms)*e.pages)
	g, gctx := errgroup.WithContext(ctx)
	for i, term := range terms {
		for p := 0; p < e.pages; p++ {
			slot := i*e.pages + p
			page := p + 1
			g.Go(func() error {
				sp, err := e.client.SearchPage(gctx, creds, term.Keyword, page)
				if err != nil {
					return err
				}
				results[slot] = Result{Term: term, Page: page, People: sp.People}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		logger.FromContext(ctx).Warn("keyword fan-out failed",
			"component", "search-executor",
			"keywords", len(terms),
			"error", err,
		)
		span.SetAttr("error", err.Error())
		return nil, err
	}

	records := 0
	for _, r := range results {
		records += len(r.People)
	}
	e.logger.Debug("keyword fan-out completed",
		"keywords", len(terms),
		"requests", len(results),
		"records", records,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	span.SetAttr("records", records)
	return results, nil
}
