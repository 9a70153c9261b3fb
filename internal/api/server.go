// Package api exposes the REST control surface: job creation, inspection,
// event ingestion, termination, retained history, archived reports, and
// Prometheus metrics. Live progress itself is streamed by the stream
// package; this package covers everything before and after watching.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Config holds REST server settings.
type Config struct {
	// Host to bind. Empty binds all interfaces.
	Host string

	// Port to listen on (default: 8080).
	Port int

	// ReadTimeout is the max time to read a request (default: 30s).
	ReadTimeout time.Duration

	// WriteTimeout is the max time to write a response (default: 60s).
	WriteTimeout time.Duration
}

// DefaultConfig returns the REST configuration, honoring TRAINTRACK_API_*
// environment overrides.
func DefaultConfig() Config {
	return Config{
		Host:         os.Getenv("TRAINTRACK_API_HOST"),
		Port:         getEnvInt("TRAINTRACK_API_PORT", 8080),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Server is the REST control server.
type Server struct {
	config Config
	router *mux.Router
	server *http.Server
	log    *logrus.Entry
}

// NewServer creates the REST server and registers the handler's routes.
func NewServer(cfg Config, h *Handler, log *logrus.Entry) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}

	router := mux.NewRouter()
	h.RegisterRoutes(router)

	return &Server{
		config: cfg,
		router: router,
		log:    log,
	}
}

// Start begins listening. Blocks until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.loggingMiddleware(s.router),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.WithField("addr", addr).Info("REST API listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs every request with its latency.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"remote":  r.RemoteAddr,
			"elapsed": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("request handled")
	})
}
