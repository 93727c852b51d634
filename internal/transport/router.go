package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MikeGii/vomm-sub003/internal/config"
	"github.com/MikeGii/vomm-sub003/internal/idempotency"
	"github.com/MikeGii/vomm-sub003/internal/observability"
	"github.com/MikeGii/vomm-sub003/internal/work"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Engine       *work.Engine
	Metrics      *observability.Metrics
	Idempotency  idempotency.Store
	Ready        observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes, bypass authentication.
	r.Get("/api/health", observability.HandleHealth())
	r.Get("/api/ready", observability.HandleReady(deps.Ready))
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	handlers := NewWorkHandlers(
		deps.Engine,
		deps.Idempotency,
		deps.Config.Idempotency.Store.DefaultTTL,
		deps.Config.Work.AllowAccelerated,
		logger,
	)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Post("/api/work", handlers.handleStartWork)
		r.Get("/api/work", handlers.handlePollWork)
		r.Post("/api/work/cancel", handlers.handleCancelWork)
		r.Post("/api/work/events/resolve", handlers.handleResolveEvent)
		r.Get("/api/work/history", handlers.handleWorkHistory)
	})

	return r
}
