package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfotel "github.com/dereadi/thermal-memory/internal/adapter/otel"
	"github.com/dereadi/thermal-memory/internal/config"
	"github.com/dereadi/thermal-memory/internal/middleware"
)

// RouterDeps are the collaborators NewRouter wires into the middleware
// chain. Limiter and WS are optional.
type RouterDeps struct {
	Handlers *Handlers
	Limiter  *middleware.RateLimiter
	WS       http.HandlerFunc
}

// NewRouter builds the full HTTP handler: middleware, /health, /ws and the
// /api/v1 routes.
func NewRouter(cfg *config.Config, deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(CORS(cfg.Server.CORSOrigin))
	r.Use(SecurityHeaders)
	r.Use(middleware.Triad(cfg.Federation.Triad))
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.OTel.ServiceName))

	r.Get("/health", deps.Handlers.Health)
	if deps.WS != nil {
		r.Get("/ws", deps.WS)
	}

	r.Group(func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Handler)
		}
		r.Use(chimw.Timeout(requestTimeout(cfg)))
		MountRoutes(r, deps.Handlers)
	})
	return r
}

func requestTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.RequestTimeout > 0 {
		return cfg.Server.RequestTimeout
	}
	return 30 * time.Second
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Memories
		r.Post("/memories", h.WriteMemory)
		r.Get("/memories", h.QueryMemories)
		r.Get("/memories/sacred", h.GetSacredMemories)
		r.Get("/memories/{id}", h.GetMemory)
		r.Post("/memories/{id}/touch", h.TouchMemory)
		r.Post("/memories/{id}/promote", h.PromoteMemory)

		// Store
		r.Get("/stats", h.Stats)
	})
}
