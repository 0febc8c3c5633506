package api

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	mw "github.com/orthovision/orthovision/internal/api/middleware"
	"github.com/orthovision/orthovision/internal/artifact"
	"github.com/orthovision/orthovision/internal/cascade"
	"github.com/orthovision/orthovision/internal/logger"
	"github.com/orthovision/orthovision/internal/observability"
	"github.com/orthovision/orthovision/internal/telemetry"
)

// Inferer runs the cascade on one decoded image.
type Inferer interface {
	Infer(ctx context.Context, img image.Image) (*cascade.Outcome, error)
}

// Server is the HTTP facade. It holds no per-request state.
type Server struct {
	echo   *echo.Echo
	config *Config
	log    logger.Logger

	engine    Inferer
	artifacts *artifact.Set
	metrics   *observability.Metrics
	limiter   *rate.Limiter
	results   *cache.Cache
	version   string

	startTime time.Time
	wg        sync.WaitGroup
	addr      net.Addr
	mu        sync.Mutex
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithEngine sets the inference engine. Required.
func WithEngine(e Inferer) ServerOption {
	return func(s *Server) {
		s.engine = e
	}
}

// WithArtifacts sets the applied artifact set reported by the revision endpoints.
func WithArtifacts(set *artifact.Set) ServerOption {
	return func(s *Server) {
		s.artifacts = set
	}
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithVersion sets the build version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// New creates the HTTP server.
func New(config *Config, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		startTime: time.Now(),
		version:   "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		return nil, fmt.Errorf("invalid server configuration: inference engine is required")
	}
	if s.log == nil {
		s.log = GetLogger()
	}
	if config.RateLimit > 0 {
		s.limiter = rate.NewLimiter(config.RateLimit, config.RateBurst)
	}
	if config.ResultCacheTTL > 0 {
		s.results = cache.New(config.ResultCacheTTL, 2*config.ResultCacheTTL)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.HTTPErrorHandler = s.errorHandler
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("rate_limited", s.limiter != nil),
		logger.Bool("result_cache", s.results != nil))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.log.WithContext(c.Request().Context()).Error("panic recovered",
				logger.Error(err),
				logger.String("stack", string(stack)))
			telemetry.CaptureError(fmt.Errorf("panic: %w", err), "api")
			return err
		},
	}))

	s.echo.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithRequestID(req.Context(), id)))
		},
	}))

	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == s.config.MetricsPath && s.config.MetricsPath != ""
	}))

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/", s.root)
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/api/v1/revision", s.revision)

	var detectMW []echo.MiddlewareFunc
	if s.limiter != nil {
		var onReject func()
		if s.metrics != nil {
			onReject = s.metrics.HTTP.RecordRateLimited
		}
		detectMW = append(detectMW, mw.NewRateLimiter(s.limiter, onReject))
	}
	s.echo.POST("/detect", s.detect, detectMW...)

	if s.metrics != nil && s.config.MetricsPath != "" {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned; serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address(), err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.echo.Listener = ln

	s.wg.Go(func() {
		s.log.Info("HTTP server starting", logger.String("address", ln.Addr().String()))
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", logger.Error(err))
		}
	})
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown gracefully stops the server and waits for in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.wg.Wait()
	if s.results != nil {
		s.results.Flush()
	}
	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
