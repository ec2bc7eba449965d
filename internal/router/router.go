package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/middleware"
	"chatrelay-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	chatHandler *handlers.ChatHandler,
	chatLimiter *middleware.RateLimiter,
	wsHub *websocket.Hub,
	gatherer prometheus.Gatherer,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Chat Routes ────
		r.Route("/chat", func(r chi.Router) {
			// Anonymous callers reach the handlers, which decide.
			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Optional)
				r.Use(chatLimiter.Middleware)
				r.Post("/", chatHandler.Create)
				r.Delete("/", chatHandler.Delete)
			})

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Get("/history", chatHandler.History)
				r.Get("/{id}", chatHandler.Get)
			})
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
