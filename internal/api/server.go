// Package api serves the data entries HTTP API.
//
// Routes:
//
//	POST /search   filter, sort and page current or historical entries
//	POST /entries  fetch entries by (address, key), in request order
//	GET  /health   store connectivity
//
// Every error response is an ErrorListResponse. Every request produces one
// access log line and updates the request metrics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/roach88/stateindex/internal/entry"
	"github.com/roach88/stateindex/internal/historical"
	"github.com/roach88/stateindex/internal/metrics"
	"github.com/roach88/stateindex/internal/queryir"
	"github.com/roach88/stateindex/internal/search"
)

// DefaultShutdownTimeout bounds the drain of in-flight requests.
const DefaultShutdownTimeout = 10 * time.Second

// Searcher runs queries. Implemented by *search.Service.
type Searcher interface {
	Search(ctx context.Context, req *queryir.SearchRequest, p historical.Params) (*search.Result, error)
	Get(ctx context.Context, pairs []entry.Pair, p historical.Params) ([]*entry.Entry, error)
}

// Pinger checks store connectivity. Implemented by *store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the HTTP surface.
type Config struct {
	// CORSOrigins lists allowed origins. Empty allows every origin.
	CORSOrigins []string
}

// Server is the HTTP API.
type Server struct {
	searcher Searcher
	pinger   Pinger
	logger   *zap.Logger
	metrics  *metrics.API
	handler  http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records request metrics to m.
func WithMetrics(m *metrics.API) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates the API server.
func New(searcher Searcher, pinger Pinger, cfg Config, opts ...Option) *Server {
	s := &Server{
		searcher: searcher,
		pinger:   pinger,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New().API
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery(), s.requestID, s.accessLog)

	router.POST("/search", s.handleSearch)
	router.POST("/entries", s.handleEntries)
	router.GET("/health", s.handleHealth)

	router.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusNotFound, singleton(http.StatusNotFound, MessageNotFound))
	})
	router.NoMethod(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, singleton(http.StatusMethodNotAllowed, MessageMethodNotAllowed))
	})

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{HeaderRequestID},
	}).Handler(router)

	return s
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves h on addr until ctx ends. See Serve.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, h, shutdownTimeout, logger)
}

// Serve serves h on ln until ctx ends, then drains in-flight requests for
// at most shutdownTimeout. A clean shutdown returns nil.
func Serve(ctx context.Context, ln net.Listener, h http.Handler, shutdownTimeout time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	logger.Info("http server shutting down", zap.String("addr", ln.Addr().String()))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
