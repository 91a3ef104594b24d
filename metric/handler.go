package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/apicore/errors"
	"github.com/c360/apicore/health"
)

// Server exposes the registry over HTTP for Prometheus scraping
type Server struct {
	port     int
	path     string
	server   *http.Server
	registry *MetricsRegistry
	check    func() health.Status
	mu       sync.Mutex
}

// NewServer creates a new metrics server with the provided registry
func NewServer(port int, path string, registry *MetricsRegistry) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}

	return &Server{
		port:     port,
		path:     path,
		registry: registry,
	}
}

// SetHealthCheck makes /health report fn's status as JSON. An unhealthy
// status is served with 503; degraded still answers 200.
func (s *Server) SetHealthCheck(fn func() health.Status) {
	s.mu.Lock()
	s.check = fn
	s.mu.Unlock()
}

// Handler builds the HTTP handler serving the metrics path and /health.
func (s *Server) Handler() (http.Handler, error) {
	if s.registry == nil {
		return nil, errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Handler", "metrics registry not provided")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("/health", s.serveHealth)
	return mux, nil
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	check := s.check
	s.mu.Unlock()

	if check == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	status := check()
	w.Header().Set("Content-Type", "application/json")
	if status.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Start serves metrics until Stop is called. It blocks.
func (s *Server) Start() error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"), "Server", "Start", "start metrics server")
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on port %d", s.port))
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown metrics server")
	}
	return nil
}

// Address returns the scrape URL
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}
