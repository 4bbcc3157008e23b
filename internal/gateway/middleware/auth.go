// Package middleware provides the HTTP middleware in front of the search
// API: session authentication, CORS and per-session rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bhandzo/cw-search-prototype/internal/auth/session"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
)

// Resolver turns a bearer token into a session. *session.Manager
// implements it.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*session.Record, error)
}

// publicRoutes are reachable without a session.
var publicRoutes = map[string]bool{
	"POST /api/v1/credentials":          true,
	"POST /api/v1/credentials/validate": true,
	"GET /api/v1/analytics":             true,
	"GET /metrics":                      true,
}

// IsPublic reports whether r may skip session authentication.
func IsPublic(r *http.Request) bool {
	if r.Method == http.MethodOptions || strings.HasPrefix(r.URL.Path, "/health") {
		return true
	}
	return publicRoutes[r.Method+" "+r.URL.Path]
}

// Auth resolves "Authorization: Bearer <token>" into a session and stores
// it in the request context. Missing and unresolvable tokens get a 401.
func Auth(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublic(r) {
				next.ServeHTTP(w, r)
				return
			}

			token := session.BearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, session.MsgNoToken)
				return
			}
			rec, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				logger.FromContext(r.Context()).Debug("session rejected", "error", err)
				writeError(w, apperrors.HTTPStatusCode(err), apperrors.PublicMessage(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithRecord(r.Context(), rec)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
