package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/metrics"
	"github.com/lalithlochan/contestpulse/internal/redis"
)

// RouterConfig holds the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	// Limiter rate limits /contests and /reminders per client IP. Nil disables it.
	Limiter        *redis.RateLimiter
	AllowedOrigins []string
	RequestTimeout time.Duration
	// RefreshTimeout bounds POST /admin/refresh, which runs a whole pass.
	RefreshTimeout time.Duration
}

// NewRouter wires the handler into a chi router with the standard middleware.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 2 * time.Minute
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"https://*", "http://*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))

		r.With(RateLimitMiddleware(cfg.Limiter, logger, "contests", IPKeyFunc)).
			Get("/contests", h.ListContests)
		r.With(RateLimitMiddleware(cfg.Limiter, logger, "reminders", IPKeyFunc)).
			Post("/reminders", h.CreateReminder)

		r.Get("/health", h.Health)
		r.Handle("/metrics", metrics.Handler())
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RefreshTimeout))
		r.Post("/admin/refresh", h.Refresh)
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
