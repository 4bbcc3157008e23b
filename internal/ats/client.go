// Package ats is the HTTP client for the applicant-tracking system's
// people search, notes and credential-check endpoints.
package ats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bhandzo/cw-search-prototype/pkg/config"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/bhandzo/cw-search-prototype/pkg/metrics"
	"github.com/bhandzo/cw-search-prototype/pkg/resilience"
)

// Upstream operation names, used in errors, logs and metric labels.
const (
	OpSearch   = "ats.search"
	OpNotes    = "ats.notes"
	OpNote     = "ats.note"
	OpValidate = "ats.validate"
)

const (
	maxResponseBytes = 10 << 20
	maxErrorBody     = 2 << 10
)

// Client talks to one ATS deployment. Credentials are supplied per call so a
// single Client serves every session.
type Client struct {
	baseURL       string
	userAgent     string
	httpClient    *http.Client
	searchTimeout time.Duration
	notesTimeout  time.Duration
	notesRetry    resilience.RetryConfig
	notesBreakers *resilience.BreakerSet
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// New builds a Client. m may be nil.
func New(cfg config.ATSConfig, res config.ResilienceConfig, m *metrics.Metrics) *Client {
	attempts := res.NotesRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:     cfg.UserAgent,
		httpClient:    &http.Client{},
		searchTimeout: cfg.SearchTimeout,
		notesTimeout:  cfg.NotesTimeout,
		notesRetry: resilience.RetryConfig{
			MaxAttempts:  attempts,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Retryable:    IsRetryable,
		},
		notesBreakers: resilience.NewBreakerSet(OpNotes, resilience.CircuitBreakerConfig{
			MinRequests:   res.BreakerMinRequests,
			FailureRatio:  res.BreakerFailureRatio,
			OpenTimeout:   res.BreakerOpenTimeout,
			HalfOpenCalls: res.BreakerHalfOpenCalls,
			IsFailure:     apperrors.IsServerFault,
			OnStateChange: m.SetBreakerState,
		}, 0),
		metrics: m,
		logger:  logger.WithComponent("ats-client"),
	}
}

// IsRetryable reports whether err is an upstream failure worth repeating.
func IsRetryable(err error) bool {
	var upErr *apperrors.UpstreamError
	return errors.As(err, &upErr) && upErr.IsRetryable()
}

// SearchPage fetches one page of people_search results for keyword. It is
// never retried.
func (c *Client) SearchPage(ctx context.Context, creds Credentials, keyword string, page int) (*SearchPage, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "keyword must not be empty")
	}
	if err := checkCredentials(creds); err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("q", keyword)
	query.Set("page", strconv.Itoa(page))

	var body struct {
		PeopleSearch []Person `json:"peopleSearch"`
		Meta         *Meta    `json:"meta"`
	}
	rc := call{op: OpSearch, keyword: keyword, timeout: c.searchTimeout}
	if err := c.get(ctx, rc, creds, "/people_search", query, &body); err != nil {
		return nil, err
	}
	return &SearchPage{
		Keyword: keyword,
		Page:    page,
		People:  body.PeopleSearch,
		Meta:    body.Meta,
	}, nil
}

// Notes returns the notes attached to one person. Transient failures are
// retried and guarded by the firm's own circuit breaker; an open breaker
// surfaces as an UpstreamError wrapping resilience.ErrCircuitOpen.
func (c *Client) Notes(ctx context.Context, creds Credentials, personID ID) ([]Note, error) {
	if err := checkCredentials(creds); err != nil {
		return nil, err
	}
	var body struct {
		Notes []Note `json:"notes"`
	}
	rc := call{op: OpNotes, personID: string(personID), timeout: c.notesTimeout}
	path := "/people/" + url.PathEscape(string(personID)) + "/notes"

	err := c.notesBreakers.Execute(creds.FirmSlug, func() error {
		return resilience.Retry(ctx, OpNotes, c.notesRetry, func() error {
			return c.get(ctx, rc, creds, path, nil, &body)
		})
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.metrics.ObserveUpstream(OpNotes, "rejected", 0)
		return nil, rc.fail(0, "", err)
	}
	if err != nil {
		return nil, err
	}
	if body.Notes == nil {
		body.Notes = []Note{}
	}
	return body.Notes, nil
}

// Note fetches a single note by id. The ATS answers either with the note
// object itself or wrapped as {"note": {...}}.
func (c *Client) Note(ctx context.Context, creds Credentials, noteID ID) (*Note, error) {
	if err := checkCredentials(creds); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	rc := call{op: OpNote, timeout: c.notesTimeout}
	if err := c.get(ctx, rc, creds, "/notes/"+url.PathEscape(string(noteID)), nil, &raw); err != nil {
		return nil, err
	}
	payload, wrapped := raw["note"]
	if !wrapped {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, rc.fail(0, "", err)
		}
		payload = b
	}
	var note Note
	if err := json.Unmarshal(payload, &note); err != nil {
		return nil, rc.fail(0, "", fmt.Errorf("decoding note: %w", err))
	}
	return &note, nil
}

// Validate checks creds against the ATS with the cheapest listing call.
func (c *Client) Validate(ctx context.Context, creds Credentials) error {
	if err := checkCredentials(creds); err != nil {
		return err
	}
	query := url.Values{}
	query.Set("limit", "1")
	var ignored json.RawMessage
	return c.get(ctx, call{op: OpValidate, timeout: c.searchTimeout}, creds, "/people", query, &ignored)
}

func checkCredentials(creds Credentials) error {
	if !creds.Complete() {
		return apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "incomplete ATS credentials")
	}
	return nil
}

type call struct {
	op       string
	keyword  string
	personID string
	timeout  time.Duration
}

func (rc call) fail(status int, body string, err error) *apperrors.UpstreamError {
	return &apperrors.UpstreamError{
		Operation:  rc.op,
		Keyword:    rc.keyword,
		PersonID:   rc.personID,
		StatusCode: status,
		Body:       body,
		Err:        err,
	}
}

func (c *Client) get(ctx context.Context, rc call, creds Credentials, path string, query url.Values, out any) error {
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}

	endpoint := c.baseURL + "/" + url.PathEscape(creds.FirmSlug) + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return rc.fail(0, "", err)
	}
	req.Header.Set("X-API-Key", creds.FirmAPIKey)
	req.Header.Set("Authorization", "Bearer "+creds.ClockworkAuthKey)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	log := logger.FromContext(ctx).With("component", "ats-client", "operation", rc.op)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		c.metrics.ObserveUpstream(rc.op, outcome, time.Since(start).Seconds())
		log.Warn("ats request failed", "path", path, "error", err)
		return rc.fail(0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.ObserveUpstream(rc.op, "error", elapsed.Seconds())
		return rc.fail(0, "", fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.ObserveUpstream(rc.op, "status_"+strconv.Itoa(resp.StatusCode/100)+"xx", elapsed.Seconds())
		log.Warn("ats returned error status",
			"path", path,
			"status", resp.StatusCode,
			"body", logger.Truncate(string(body), 200),
		)
		return rc.fail(resp.StatusCode, truncateBody(body), nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.ObserveUpstream(rc.op, "malformed", elapsed.Seconds())
		log.Warn("ats returned malformed payload", "path", path, "error", err)
		return rc.fail(0, "", fmt.Errorf("decoding response: %w", err))
	}
	c.metrics.ObserveUpstream(rc.op, "ok", elapsed.Seconds())
	log.Debug("ats request completed", "path", path, "duration_ms", elapsed.Milliseconds())
	return nil
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}
