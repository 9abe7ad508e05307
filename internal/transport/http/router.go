package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "dvfcli/internal/errors"
	"dvfcli/internal/infrastructure"
	"dvfcli/internal/middleware"
	ws "dvfcli/internal/websocket"
)

// RouterOptions are the collaborators of the status router.
type RouterOptions struct {
	Source    RunSource
	Hub       *ws.Hub
	Providers *infrastructure.OTelProviders
	Metrics   *infrastructure.BusinessMetrics
	Logger    *slog.Logger
	Version   string
	RateLimit float64
	RateBurst int
}

// NewRouter builds the status server routes.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apperrors.NewErrorMiddleware(logger).Handler)
	r.Use(middleware.NewOTelMiddleware(opts.Providers, opts.Metrics).Handler)
	r.Use(middleware.SecurityHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		renderError(w, r, apperrors.ErrNotFound)
	})

	health := NewHealthHandler(opts.Source, opts.Version)
	r.Get("/healthz", health.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(middleware.NewRateLimiter(opts.RateLimit, opts.RateBurst, logger).Handler)
		}
		r.Use(render.SetContentType(render.ContentTypeJSON))

		runs := NewRunHandler(opts.Source, logger)
		r.Get("/run", runs.GetRun)
		r.Post("/run/cancel", runs.CancelRun)
		r.Get("/diagnostics", runs.GetDiagnostics)
		r.Get("/manifest", runs.GetManifest)
	})

	if opts.Providers != nil && opts.Providers.PrometheusHTTP != nil {
		r.Method(http.MethodGet, "/metrics", opts.Providers.PrometheusHTTP)
	}
	if opts.Hub != nil {
		r.Get("/ws", ws.ServeWS(opts.Hub, logger))
	}
	return r
}
