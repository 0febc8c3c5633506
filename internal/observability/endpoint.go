// Package observability provides Prometheus metrics functionality for monitoring OrthoVision.
// Sentry error telemetry is handled in the telemetry package.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/logger"
	metricspkg "github.com/orthovision/orthovision/internal/observability/metrics"
)

// Endpoint serves metrics on a dedicated listener.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	path          string
	metrics       *Metrics

	mu   sync.Mutex
	addr net.Addr
}

// NewEndpoint creates a metrics endpoint. It fails when metrics are disabled
// or no dedicated listener is configured.
func NewEndpoint(settings *conf.MetricsSettings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Enabled {
		return nil, fmt.Errorf("metrics not enabled in settings")
	}
	if settings.Listen == "" {
		return nil, fmt.Errorf("metrics listen address is empty")
	}
	path := settings.Path
	if path == "" {
		path = "/metrics"
	}

	return &Endpoint{
		listenAddress: settings.Listen,
		path:          path,
		metrics:       metrics,
	}, nil
}

// Start binds the listener and serves until ctx is done. Shutdown is graceful
// and wg is released once the server has stopped.
func (e *Endpoint) Start(ctx context.Context, wg *sync.WaitGroup) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux, e.path)

	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	e.mu.Lock()
	e.addr = ln.Addr()
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := e.server
	e.mu.Unlock()

	log := GetLogger()
	wg.Go(func() {
		log.Info("metrics endpoint starting", logger.String("address", ln.Addr().String()), logger.String("path", e.path))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() {
		<-ctx.Done()
		e.gracefulShutdown(server)
	})
	return nil
}

// Addr returns the bound address once Start succeeded.
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

func (e *Endpoint) gracefulShutdown(server *http.Server) {
	log := GetLogger()
	log.Info("stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("metrics server shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
