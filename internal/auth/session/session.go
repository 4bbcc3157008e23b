// Package session issues opaque session tokens for ATS credential bundles
// and resolves them back. Raw tokens are generated with crypto/rand and only
// their SHA-256 digest is ever stored.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/pkg/config"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
)

// Auth failure messages returned to clients.
const (
	MsgNoToken        = "no session token provided"
	MsgInvalidSession = "invalid or expired session"
)

// ErrNotFound is returned by stores for unknown token hashes.
var ErrNotFound = errors.New("session not found")

// Credentials is the bundle a caller registers once per session.
type Credentials struct {
	ats.Credentials
	OpenAIAPIKey  string `json:"openaiApiKey,omitempty"`
	MaxCandidates int    `json:"maxCandidates"`
}

// Record is a stored session.
type Record struct {
	Credentials
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Redacted is the view of a session returned to its owner.
type Redacted struct {
	FirmSlug         string    `json:"firmSlug"`
	FirmAPIKey       string    `json:"firmApiKey"`
	ClockworkAuthKey string    `json:"clockworkAuthKey"`
	HasOpenAIKey     bool      `json:"hasOpenaiApiKey"`
	MaxCandidates    int       `json:"maxCandidates"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

func (r *Record) Redact() Redacted {
	return Redacted{
		FirmSlug:         r.FirmSlug,
		FirmAPIKey:       mask(r.FirmAPIKey),
		ClockworkAuthKey: mask(r.ClockworkAuthKey),
		HasOpenAIKey:     r.OpenAIAPIKey != "",
		MaxCandidates:    r.MaxCandidates,
		ExpiresAt:        r.ExpiresAt,
	}
}

func mask(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// Store persists records keyed by token hash.
type Store interface {
	Put(ctx context.Context, tokenHash string, rec *Record) error
	// Get returns ErrNotFound for unknown hashes.
	Get(ctx context.Context, tokenHash string) (*Record, error)
	Delete(ctx context.Context, tokenHash string) error
}

// Manager issues, resolves and revokes sessions.
type Manager struct {
	store      Store
	ttl        time.Duration
	defaultMax int
	maxLimit   int
	now        func() time.Time
	logger     *slog.Logger
}

func NewManager(store Store, sessCfg config.SessionConfig, searchCfg config.SearchConfig) *Manager {
	ttl := sessCfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		store:      store,
		ttl:        ttl,
		defaultMax: searchCfg.DefaultMaxCandidates,
		maxLimit:   searchCfg.MaxCandidatesLimit,
		now:        time.Now,
		logger:     logger.WithComponent("session-manager"),
	}
}

// Normalize trims the bundle and brings MaxCandidates into
// [1, maxCandidatesLimit], substituting the default for values below 1.
func (m *Manager) Normalize(c Credentials) Credentials {
	c.FirmSlug = strings.TrimSpace(c.FirmSlug)
	c.FirmAPIKey = strings.TrimSpace(c.FirmAPIKey)
	c.ClockworkAuthKey = strings.TrimSpace(c.ClockworkAuthKey)
	c.OpenAIAPIKey = strings.TrimSpace(c.OpenAIAPIKey)
	if c.MaxCandidates < 1 {
		c.MaxCandidates = m.defaultMax
	}
	if m.maxLimit > 0 && c.MaxCandidates > m.maxLimit {
		c.MaxCandidates = m.maxLimit
	}
	return c
}

// Issue stores creds under a fresh token and returns the raw token. The
// raw token is returned only once and cannot be retrieved again.
func (m *Manager) Issue(ctx context.Context, creds Credentials) (string, *Record, error) {
	creds = m.Normalize(creds)
	if !creds.Complete() {
		return "", nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"firmSlug, firmApiKey and clockworkAuthKey are required")
	}
	token, err := generateToken()
	if err != nil {
		return "", nil, err
	}
	now := m.now().UTC()
	rec := &Record{
		Credentials: creds,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
	}
	if err := m.store.Put(ctx, HashToken(token), rec); err != nil {
		return "", nil, fmt.Errorf("storing session: %w", err)
	}
	m.logger.Info("session issued",
		"firm_slug", creds.FirmSlug,
		"max_candidates", creds.MaxCandidates,
		"expires_at", rec.ExpiresAt,
	)
	return token, rec, nil
}

// Resolve returns the record for token. Absent, expired and incomplete
// sessions all map to a 401.
func (m *Manager) Resolve(ctx context.Context, token string) (*Record, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, MsgNoToken)
	}
	rec, err := m.store.Get(ctx, HashToken(token))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Error("session lookup failed", "error", err)
		}
		return nil, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, MsgInvalidSession)
	}
	if !rec.ExpiresAt.IsZero() && !m.now().Before(rec.ExpiresAt) {
		return nil, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, MsgInvalidSession)
	}
	if !rec.Complete() {
		return nil, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, MsgInvalidSession)
	}
	rec.Credentials = m.Normalize(rec.Credentials)
	return rec, nil
}

// Revoke deletes the session for token. Unknown tokens are not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if err := m.store.Delete(ctx, HashToken(token)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoking session: %w", err)
	}
	m.logger.Info("session revoked")
	return nil
}

// HashToken returns the SHA-256 hex digest of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

type ctxKey struct{}

func WithRecord(ctx context.Context, rec *Record) context.Context {
	return context.WithValue(ctx, ctxKey{}, rec)
}

// FromContext returns the session attached by the auth middleware.
func FromContext(ctx context.Context) (*Record, bool) {
	rec, ok := ctx.Value(ctxKey{}).(*Record)
	return rec, ok && rec != nil
}
