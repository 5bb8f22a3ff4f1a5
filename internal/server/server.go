// Package server exposes the search pipeline over HTTP: a single-page web
// front end, the JSON search API, CSV export, and operational endpoints.
package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gbif-nl-search/internal/common/logger"
	"gbif-nl-search/internal/common/observability"
	"gbif-nl-search/internal/executor"
	"gbif-nl-search/internal/pipeline"
	"gbif-nl-search/internal/schema"
)

// QueryPipeline prepares resolved search parameters from a free-text query.
type QueryPipeline interface {
	Run(ctx context.Context, query string, overrides pipeline.Overrides) (*schema.CandidateParameters, *schema.ResolvedParameters, error)
}

// Searcher fetches one page of occurrence results.
type Searcher interface {
	Search(ctx context.Context, params *schema.ResolvedParameters, offset int64) (*executor.SearchResult, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
}

// Server wires the pipeline and executor into an Echo application.
type Server struct {
	echo     *echo.Echo
	config   Config
	pipeline QueryPipeline
	searcher Searcher
	sessions *sessionRegistry
	logger   logger.Logger
	obs      *observability.Observability
}

func New(cfg Config, p QueryPipeline, s Searcher, log logger.Logger, obs *observability.Observability) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:     e,
		config:   cfg,
		pipeline: p,
		searcher: s,
		sessions: newSessionRegistry(),
		logger:   log,
		obs:      obs,
	}

	e.Use(middleware.Recover())
	e.Use(srv.requestMetrics)

	e.GET("/", srv.handleIndex)
	e.POST("/api/search", srv.handleSearch)
	e.POST("/api/page", srv.handlePage)
	e.POST("/api/export", srv.handleExport)
	e.GET("/healthz", srv.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return srv
}

// requestMetrics records the count and duration of every request.
func (s *Server) requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		if s.obs != nil {
			route := c.Path()
			status := c.Response().Status
			if httpErr, ok := err.(*echo.HTTPError); ok {
				status = httpErr.Code
			}
			s.obs.RecordRequest(c.Request().Context(), route, status)
			s.obs.RecordRequestDuration(c.Request().Context(), route, time.Since(start))
		}

		return err
	}
}

// Start blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.echo.Server.ReadHeaderTimeout = s.config.ReadHeaderTimeout
	s.logger.Info("http server starting", map[string]interface{}{
		"addr": s.config.Addr,
	})
	return s.echo.Start(s.config.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
