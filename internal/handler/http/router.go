package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/allocation/internal/docs"
	"github.com/utafrali/allocation/pkg/health"
	"github.com/utafrali/allocation/pkg/middleware"
)

// RouterConfig holds the router options that come from service configuration.
type RouterConfig struct {
	ServiceName string
	// CORSOrigins enables CORS for the listed origins. Empty disables it.
	CORSOrigins []string
	// PprofCIDRs enables /debug/pprof for the listed networks. Empty disables it.
	PprofCIDRs []string
}

// NewRouter creates a chi router with all allocation service routes registered.
func NewRouter(
	svc AllocationService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	if len(cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins...)))
	}
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	// API docs
	r.With(middleware.CacheControl(5*time.Minute)).Get("/swagger/doc.json", docs.ServeSpec)
	r.Get("/swagger/", docs.ServeUI)

	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	batchHandler := NewBatchHandler(svc, logger)
	allocationHandler := NewAllocationHandler(svc, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", batchHandler.AddBatch)
			r.Get("/", batchHandler.ListBatches)
			r.Get("/{reference}", batchHandler.GetBatch)
		})

		r.Route("/allocations", func(r chi.Router) {
			r.Post("/", allocationHandler.Allocate)
			r.Post("/deallocate", allocationHandler.Deallocate)
		})
	})

	return r
}
