// Package router wires up all API routes and applies the middleware chain.
package router

import (
	"net/http"
	"time"

	"github.com/propelai/propelai-backend/internal/api/handler"
	apimw "github.com/propelai/propelai-backend/internal/api/middleware"
	"github.com/propelai/propelai-backend/internal/auth/ratelimit"
	"github.com/propelai/propelai-backend/pkg/health"
	"github.com/propelai/propelai-backend/pkg/metrics"
	pkgmw "github.com/propelai/propelai-backend/pkg/middleware"
)

// Deps are the collaborators the routes need. Metrics may be nil.
type Deps struct {
	Handler         *handler.Handler
	Auth            apimw.Authenticator
	Limiter         ratelimit.Limiter
	Health          *health.Checker
	Metrics         *metrics.Metrics
	CORS            apimw.CORSConfig
	GenerateTimeout time.Duration
}

// New builds the full HTTP handler with all routes and middleware.
//
// Route table:
//
//	POST   /generate                      → text-content generation (client id in body)
//	POST   /api/generate                  → prompt generation         (bearer)
//	GET    /api/history                   → caller's ideas            (bearer)
//	PATCH  /api/ideas/{id}/toggle-star    → flip star                 (bearer)
//	DELETE /api/ideas/{id}                → delete idea               (bearer)
//	POST   /api/auth/signup               → create account
//	POST   /api/auth/login                → password login
//	GET    /api/auth/me                   → caller profile            (bearer)
//	GET    /api/greeting                  → static greeting
//	GET    /health, /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID → Recover → Logging → Metrics → CORS → mux
func New(d Deps) http.Handler {
	h := d.Handler
	mux := http.NewServeMux()

	limited := func(next http.Handler) http.Handler { return apimw.RateLimit(d.Limiter)(next) }
	protected := func(fn http.HandlerFunc) http.Handler { return apimw.Auth(d.Auth)(limited(fn)) }
	timed := pkgmw.Timeout(d.GenerateTimeout)

	// Health (unauthenticated)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", d.Health.LiveHandler())
	mux.HandleFunc("GET /health/ready", d.Health.ReadyHandler())
	mux.HandleFunc("GET /api/greeting", h.Greeting)

	// Generation
	mux.Handle("POST /generate", limited(timed(http.HandlerFunc(h.GenerateFromContent))))
	mux.Handle("POST /api/generate", protected(timed(http.HandlerFunc(h.GenerateFromPrompt)).ServeHTTP))

	// History
	mux.Handle("GET /api/history", protected(h.History))
	mux.Handle("PATCH /api/ideas/{id}/toggle-star", protected(h.ToggleStar))
	mux.Handle("DELETE /api/ideas/{id}", protected(h.DeleteIdea))

	// Accounts
	mux.Handle("POST /api/auth/signup", limited(http.HandlerFunc(h.Signup)))
	mux.Handle("POST /api/auth/login", limited(http.HandlerFunc(h.Login)))
	mux.Handle("GET /api/auth/me", protected(h.Me))

	// Middleware chain, applied inside-out.
	var chain http.Handler = mux
	chain = apimw.CORS(d.CORS)(chain)
	if d.Metrics != nil {
		chain = pkgmw.Metrics(d.Metrics)(chain)
	}
	chain = pkgmw.Logging(chain)
	chain = pkgmw.Recover(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
