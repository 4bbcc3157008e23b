// Package summarizer wraps a language model behind the two calls the search
// service needs: free text to keywords, and candidate to summaries.
package summarizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
	"github.com/bhandzo/cw-search-prototype/pkg/config"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/bhandzo/cw-search-prototype/pkg/metrics"
	"github.com/bhandzo/cw-search-prototype/pkg/resilience"
)

const (
	OpSummary  = "llm.summary"
	OpKeywords = "llm.keywords"
)

// Request is everything a summary is generated from. APIKey, when set,
// replaces the server's model key for this call.
type Request struct {
	Person        ats.Person `json:"person"`
	OriginalQuery string     `json:"originalQuery"`
	Keywords      []string   `json:"keywords"`
	APIKey        string     `json:"-"`
}

type Summary struct {
	Short string `json:"shortSummary"`
	Long  string `json:"longSummary"`
}

// Completion is one chat-style call.
type Completion struct {
	APIKey string
	System string
	User   string
	JSON   bool
}

// Completer is a language-model backend.
type Completer interface {
	Complete(ctx context.Context, c Completion) (string, error)
	Provider() string
}

type Service struct {
	completer Completer
	timeout   time.Duration
	breakers  *resilience.BreakerSet
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds a Service around c. m may be nil.
func New(c Completer, cfg config.SummarizerConfig, res config.ResilienceConfig, m *metrics.Metrics) *Service {
	return &Service{
		completer: c,
		timeout:   cfg.Timeout,
		breakers: resilience.NewBreakerSet("llm."+c.Provider(), resilience.CircuitBreakerConfig{
			MinRequests:   res.BreakerMinRequests,
			FailureRatio:  res.BreakerFailureRatio,
			OpenTimeout:   res.BreakerOpenTimeout,
			HalfOpenCalls: res.BreakerHalfOpenCalls,
			IsFailure:     apperrors.IsServerFault,
			OnStateChange: m.SetBreakerState,
		}, 0),
		metrics: m,
		logger:  logger.WithComponent("summarizer"),
	}
}

// Provider names the backing model provider.
func (s *Service) Provider() string {
	return s.completer.Provider()
}

// Summarize generates the short and long summary for one candidate.
func (s *Service) Summarize(ctx context.Context, req Request) (*Summary, error) {
	prompt, err := buildSummaryPrompt(req)
	if err != nil {
		return nil, err
	}
	text, err := s.complete(ctx, OpSummary, Completion{
		APIKey: req.APIKey,
		System: summarySystemPrompt,
		User:   prompt,
	})
	if err != nil {
		return nil, err
	}
	summary, err := ParseSummary(text)
	if err != nil {
		s.metrics.ObserveUpstream(OpSummary, "malformed", 0)
		logger.FromContext(ctx).Warn("unusable summary output",
			"component", "summarizer",
			"person_id", req.Person.ID,
			"output", logger.Truncate(text, 200),
		)
		return nil, &apperrors.UpstreamError{Operation: OpSummary, PersonID: string(req.Person.ID), Err: err}
	}
	return summary, nil
}

// GenerateKeywords turns a free-text query into a normalised keyword set.
func (s *Service) GenerateKeywords(ctx context.Context, query, apiKey string) (parser.KeywordSet, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query must not be empty")
	}
	text, err := s.complete(ctx, OpKeywords, Completion{
		APIKey: apiKey,
		System: keywordSystemPrompt,
		User:   buildKeywordPrompt(query),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}
	set, err := ParseKeywords(text)
	if err != nil {
		s.logger.Warn("unusable keyword output", "output", logger.Truncate(text, 200), "error", err)
		return nil, err
	}
	return set, nil
}

func (s *Service) complete(ctx context.Context, op string, c Completion) (string, error) {
	start := time.Now()
	text, err := resilience.Call(ctx, s.timeout, op, func(ctx context.Context) (string, error) {
		var out string
		err := s.breakers.Execute(keyPartition(c.APIKey), func() error {
			var err error
			out, err = s.completer.Complete(ctx, c)
			return err
		})
		return out, err
	})
	elapsed := time.Since(start).Seconds()
	switch {
	case err == nil:
		s.metrics.ObserveUpstream(op, "ok", elapsed)
		return text, nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		s.metrics.ObserveUpstream(op, "rejected", elapsed)
	case errors.Is(err, apperrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		s.metrics.ObserveUpstream(op, "timeout", elapsed)
	default:
		s.metrics.ObserveUpstream(op, "error", elapsed)
	}

	var upErr *apperrors.UpstreamError
	var appErr *apperrors.AppError
	if errors.As(err, &upErr) || errors.As(err, &appErr) {
		return "", err
	}
	return "", &apperrors.UpstreamError{Operation: op, Err: fmt.Errorf("%s: %w", s.completer.Provider(), err)}
}

// keyPartition names the breaker a call runs under: one per caller-supplied
// model key, one for the server key. Keys are hashed before use.
func keyPartition(apiKey string) string {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "server"
	}
	return keyDigest(apiKey)
}

func keyDigest(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}
