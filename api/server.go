/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address from proxy headers
  3. Actor:         X-Actor-ID into the request context
  4. RequestLogger: logrus request log
  5. Recoverer:     Panic recovery (500 instead of crash)
  6. Metrics:       Prometheus request counters and latency
  7. CORS:          Cross-origin requests for frontends
  8. RateLimiter:   Token bucket per actor (API routes only)

ROUTE GROUPS:
  /api/awards, /api/game-awards, /api/events/*, /api/redemptions   Writes
  /api/employees/*, /api/locations/*                               Reads
  /api/scenarios/*                                                 Demo data
  /healthz, /metrics                                               Operations

SECURITY NOTE:
  No authentication middleware. X-Actor-ID is trusted as sent.
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/warp/recognition-ledger/metrics"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         logrus.FieldLogger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = h.log
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Actor)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	limiter := NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.Handler)

		// Award routes
		r.Route("/awards", func(r chi.Router) {
			r.Post("/", h.CreateAward)
			r.Get("/recent", h.ListRecentAwards)
		})
		r.Post("/game-awards", h.CreateGameAward)

		// Event routes
		r.Post("/events/{id}/undo", h.UndoEvent)

		// Redemption routes
		r.Post("/redemptions", h.CreateRedemption)

		// Employee routes
		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/events", h.GetEvents)
		})

		// Location routes
		r.Route("/locations/{id}", func(r chi.Router) {
			r.Get("/leaderboard", h.GetLeaderboard)
			r.Get("/rewards", h.ListRewards)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
