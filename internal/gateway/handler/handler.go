// Package handler implements the credential endpoints: issuing, validating,
// reading and revoking session tokens.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/auth/session"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
)

const maxBodyBytes = 64 << 10

// Validator checks a credential bundle against the ATS. *ats.Client
// implements it.
type Validator interface {
	Validate(ctx context.Context, creds ats.Credentials) error
}

// Sessions is implemented by *session.Manager.
type Sessions interface {
	Issue(ctx context.Context, creds session.Credentials) (string, *session.Record, error)
	Revoke(ctx context.Context, token string) error
	Normalize(c session.Credentials) session.Credentials
}

type Handler struct {
	sessions        Sessions
	validator       Validator
	validateOnIssue bool
	logger          *slog.Logger
}

// New builds the credential handler. When validateOnIssue is false, tokens
// are issued without the ATS round trip.
func New(sessions Sessions, validator Validator, validateOnIssue bool) *Handler {
	return &Handler{
		sessions:        sessions,
		validator:       validator,
		validateOnIssue: validateOnIssue,
		logger:          logger.WithComponent("credentials-handler"),
	}
}

type issueResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issue handles POST /api/v1/credentials.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	creds, err := h.decode(w, r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if h.validateOnIssue {
		if err := h.validate(r.Context(), creds); err != nil {
			h.writeErr(w, r, err)
			return
		}
	}
	token, rec, err := h.sessions.Issue(r.Context(), creds)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, issueResponse{Token: token, ExpiresAt: rec.ExpiresAt})
}

// Validate handles POST /api/v1/credentials/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	creds, err := h.decode(w, r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := h.validate(r.Context(), creds); err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}

// Get handles GET /api/v1/credentials.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := session.FromContext(r.Context())
	if !ok {
		h.writeErr(w, r, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, session.MsgNoToken))
		return
	}
	h.writeJSON(w, http.StatusOK, rec.Redact())
}

// Revoke handles DELETE /api/v1/credentials.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Revoke(r.Context(), session.BearerToken(r)); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (session.Credentials, error) {
	var creds session.Credentials
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		return creds, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err)
	}
	creds = h.sessions.Normalize(creds)
	if !creds.Complete() {
		return creds, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"firmSlug, firmApiKey and clockworkAuthKey are required")
	}
	return creds, nil
}

// validate maps ATS rejections to 400 so the UI can show them on the
// credentials form. Timeouts keep their 504.
func (h *Handler) validate(ctx context.Context, creds session.Credentials) error {
	err := h.validator.Validate(ctx, creds.Credentials)
	if err == nil {
		return nil
	}
	h.logger.Warn("credential validation failed", "firm_slug", creds.FirmSlug, "error", err)
	if errors.Is(err, apperrors.ErrTimeout) {
		return err
	}
	return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest,
		fmt.Sprintf("credential validation failed: %s", apperrors.PublicMessage(err)))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= 500 {
		logger.FromContext(r.Context()).Error("credentials request failed", "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": apperrors.PublicMessage(err)})
}
