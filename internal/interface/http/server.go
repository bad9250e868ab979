// Package http serves the worker's operational endpoints: Prometheus metrics
// and the liveness/readiness probes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Jose-Baigorria/tracking-carrera/internal/infrastructure/metrics"
	"github.com/Jose-Baigorria/tracking-carrera/pkg/logger"
)

// Config is the ops listener.
type Config struct {
	Host         string
	Port         int
	MetricsPath  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig listens on :9090 and serves /metrics.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         9090,
		MetricsPath:  "/metrics",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server exposes metrics and probes. It has no business endpoints.
type Server struct {
	cfg     Config
	health  *HealthChecker
	log     *logger.Logger
	srv     *http.Server
	running atomic.Bool
}

// NewServer wires the routes. With a nil health checker the probes always
// answer healthy.
func NewServer(cfg Config, health *HealthChecker, log *logger.Logger) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{cfg: cfg, health: health, log: log.Named("http")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.probe)
	mux.HandleFunc("GET /readyz", s.probe)
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
	mux.Handle("GET "+cfg.MetricsPath, metrics.Handler())

	s.srv = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.observe(mux),
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Handler is the router with logging and panic recovery applied.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) probe(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// observe logs each request at debug level, since probes are frequent, and
// turns a handler panic into a 500.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			if v := recover(); v != nil {
				s.log.Error("panic recovered",
					logger.PanicValue(v),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
				)
				writeJSON(sw, http.StatusInternalServerError, map[string]string{"error": "internal_server_error"})
			}
			s.log.Debug("http request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", sw.code),
				logger.Latency(time.Since(start)),
			)
		}()
		next.ServeHTTP(sw, r)
	})
}

// StartAsync listens in the background. The returned channel delivers at
// most one error and closes when the listener stops.
func (s *Server) StartAsync() <-chan error {
	s.running.Store(true)
	s.log.Info("starting ops server", logger.String("address", s.cfg.Address()))

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops server: %w", err)
		}
	}()
	return errCh
}

// Shutdown drains the listener. It is a no-op if the server never started.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.log.Info("shutting down ops server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) IsRunning() bool {
	return s.running.Load()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
