// Package router wires every HTTP route of the search service and applies
// the middleware chain (RequestID → Observe → CORS → Auth → RateLimit).
package router

import (
	"net/http"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/analytics"
	gwhandler "github.com/bhandzo/cw-search-prototype/internal/gateway/handler"
	gwmw "github.com/bhandzo/cw-search-prototype/internal/gateway/middleware"
	searchhandler "github.com/bhandzo/cw-search-prototype/internal/searcher/handler"
	"github.com/bhandzo/cw-search-prototype/pkg/health"
	"github.com/bhandzo/cw-search-prototype/pkg/metrics"
	pkgmw "github.com/bhandzo/cw-search-prototype/pkg/middleware"
)

// Deps are the handlers and gates the router mounts. Analytics, Health,
// Metrics and Limiter may be nil.
type Deps struct {
	Search         *searchhandler.Handler
	Credentials    *gwhandler.Handler
	Analytics      *analytics.Handler
	Health         *health.Checker
	Metrics        *metrics.Metrics
	Sessions       gwmw.Resolver
	Limiter        gwmw.Allower
	AllowOrigins   []string
	RequestTimeout time.Duration
}

// New builds the service handler.
//
// Route table:
//
//	POST   /api/v1/search               → streamed search (no timeout)
//	POST   /api/v1/keywords             → free text to keyword set
//	POST   /api/v1/summary              → one-off candidate summary
//	GET    /api/v1/people/{id}/notes    → sanitized notes
//	GET    /api/v1/notes/{id}           → one raw note
//	POST   /api/v1/credentials          → validate and issue a session (public)
//	POST   /api/v1/credentials/validate → validate only (public)
//	GET    /api/v1/credentials          → redacted session bundle
//	DELETE /api/v1/credentials          → revoke session
//	GET    /api/v1/cache/stats          → ranked cache counters
//	POST   /api/v1/cache/invalidate     → flush ranked cache
//	GET    /api/v1/analytics            → in-process aggregate (public)
//	GET    /health/live, /health/ready  → health checks (public)
//	GET    /metrics                     → Prometheus scrape (public)
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	bounded := func(h http.HandlerFunc) http.Handler {
		return pkgmw.Timeout(d.RequestTimeout)(h)
	}

	// The stream manages its own deadlines.
	mux.HandleFunc("POST /api/v1/search", d.Search.Search)

	mux.Handle("POST /api/v1/keywords", bounded(d.Search.Keywords))
	mux.Handle("POST /api/v1/summary", bounded(d.Search.Summary))
	mux.Handle("GET /api/v1/people/{id}/notes", bounded(d.Search.PersonNotes))
	mux.Handle("GET /api/v1/notes/{id}", bounded(d.Search.Note))

	mux.Handle("POST /api/v1/credentials", bounded(d.Credentials.Issue))
	mux.Handle("POST /api/v1/credentials/validate", bounded(d.Credentials.Validate))
	mux.Handle("GET /api/v1/credentials", bounded(d.Credentials.Get))
	mux.Handle("DELETE /api/v1/credentials", bounded(d.Credentials.Revoke))

	mux.Handle("GET /api/v1/cache/stats", bounded(d.Search.CacheStats))
	mux.Handle("POST /api/v1/cache/invalidate", bounded(d.Search.CacheInvalidate))

	if d.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics", d.Analytics.Stats)
	}

	checker := d.Health
	if checker == nil {
		checker = health.NewChecker()
	}
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", d.Metrics.Handler())

	// Applied inside-out:
	// request → RequestID → Observe → CORS → Auth → RateLimit → mux
	var chain http.Handler = mux
	if d.Limiter != nil {
		chain = gwmw.RateLimit(d.Limiter)(chain)
	}
	chain = gwmw.Auth(d.Sessions)(chain)
	chain = gwmw.CORS(gwmw.NewCORSConfig(d.AllowOrigins))(chain)
	chain = pkgmw.Observe(d.Metrics)(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
