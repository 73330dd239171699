package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/order-lifecycle/internal/handler"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Orders      *handler.OrderHandler
	Admin       *handler.AdminHandler
	Webhooks    *handler.WebhookHandler
	Streams     *handler.StreamHandler
	Auth        *handler.Authenticator
	PollLimiter *handler.RateLimiter
	DB          Pinger

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable it only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

func NewRouter(h Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if h.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(handler.AccessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(h.DB))

	r.Route("/api", func(r chi.Router) {
		h.Webhooks.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Middleware)
			h.Orders.RegisterRoutes(r, h.PollLimiter.Middleware)
			h.Streams.RegisterOrderRoutes(r)

			r.Route("/admin", func(r chi.Router) {
				r.Use(handler.RequireAdmin)
				h.Admin.RegisterRoutes(r)
				h.Streams.RegisterAdminRoutes(r)
			})
		})
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				log.Error().Err(err).Msg("health: database ping failed")
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("OK"))
	}
}
