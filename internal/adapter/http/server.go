package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
	"github.com/couchcryptid/risk-grid-service/internal/tessellation"
)

// Tessellator runs tessellation requests.
type Tessellator interface {
	Tessellate(ctx context.Context, req tessellation.Request) (*tessellation.Response, error)
}

// ElevationSource answers point elevation lookups.
type ElevationSource interface {
	Elevation(ctx context.Context, lat, lon float64, zoom int) (float64, bool)
}

// ZoneReader looks up persisted zones.
type ZoneReader interface {
	// GetZone returns domain.ErrZoneNotFound for unknown cells.
	GetZone(ctx context.Context, cellID string) (domain.RiskZone, error)
}

// API holds the collaborators behind the /v1 routes. Elevation and Zones
// are optional.
type API struct {
	Tessellator Tessellator
	Elevation   ElevationSource
	Zones       ZoneReader

	// ElevationZoom is used when a request omits zoom.
	ElevationZoom int

	// RequestTimeout bounds one tessellation.
	RequestTimeout time.Duration
}

// Server exposes the tessellation API plus health, readiness, and metrics
// endpoints.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	api        API
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /v1 routes.
func NewServer(addr string, api API, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	if api.RequestTimeout <= 0 {
		api.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: api.RequestTimeout + 10*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		engine: engine,
		api:    api,
		logger: logger,
	}

	engine.GET("/healthz", gin.WrapF(sharedobs.LivenessHandler()))
	engine.GET("/readyz", gin.WrapF(sharedobs.ReadinessHandler(ready)))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	v1.POST("/tessellations", s.handleCreateTessellation)
	v1.GET("/tessellations", s.handleQueryTessellation)
	v1.GET("/elevation", s.handleElevation)
	v1.GET("/zones/:cell_id", s.handleGetZone)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Readiness combines several checkers; the first failure wins.
type Readiness []sharedobs.ReadinessChecker

// CheckReadiness implements sharedobs.ReadinessChecker.
func (r Readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if c == nil {
			continue
		}
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
