// Package httpapi wires the ops HTTP surface (Gin): probes, Prometheus
// metrics, job run history, manual job triggers and the latest stored
// exchange rate.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger
//  4. Recovery
//  5. Body size limiter
//  6. Metrics
//
// The manual trigger additionally sits behind a per-job, per-IP rate limiter.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-staff-assistant/internal/config"
	"github.com/tbourn/go-staff-assistant/internal/http/handlers"
	"github.com/tbourn/go-staff-assistant/internal/http/middleware"
)

// APIBasePath prefixes the versioned ops API.
const APIBasePath = "/api/v1"

// Store is what the ops API reads from the local store.
type Store interface {
	handlers.RunHistory
	handlers.Pinger
	handlers.RateReader
}

// RegisterRoutes attaches middleware and endpoints to r.
func RegisterRoutes(r *gin.Engine, store Store, jobs handlers.JobTrigger, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(64 << 10))
	r.Use(middleware.Metrics())

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(store, jobs, store)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	rl := middleware.NewRateLimiter(cfg.ManualRunRPS, cfg.ManualRunBurst, middleware.KeyByJobAndIP())

	api := r.Group(APIBasePath)
	{
		api.GET("/jobs", h.ListJobs)
		api.GET("/jobs/runs", h.ListJobRuns)
		api.POST("/jobs/:name/run", rl.Handler(), h.RunJob)
		api.GET("/rates/latest", handlers.NewRates(store).Latest)
	}
}

// limitBody caps request bodies at maxBytes.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
