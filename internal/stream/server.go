// internal/stream/server.go

// Package stream is the WebSocket broadcast surface: it upgrades observer
// connections, replays the current job state as the first frame, fans gated
// progress updates out through per-connection queues, and keeps connections
// honest with a heartbeat pulse and a liveness reaper.
package stream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/metrics"
)

// SnapshotSource is the server's view of the job store.
type SnapshotSource interface {
	GetSnapshot(id string) (job.Snapshot, error)
}

// Server is the WebSocket progress stream server
type Server struct {
	config   *Config
	source   SnapshotSource
	registry *Registry
	limiter  *RateLimiter
	log      *logrus.Entry
	met      *metrics.Set

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	running bool
	addr    string

	// stopLoops signals the heartbeat and reaper loops to stop
	stopLoops chan struct{}

	// Connection tracking for debugging
	totalConnections  int64
	failedConnections int64
}

// NewServer creates a new progress stream server
func NewServer(config *Config, source SnapshotSource, log *logrus.Entry, met *metrics.Set) *Server {
	s := &Server{
		config:    config,
		source:    source,
		registry:  NewRegistry(config.MaxConnections, log, met),
		limiter:   NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst),
		log:       log,
		met:       met,
		stopLoops: make(chan struct{}),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.checkOrigin(r)
		},
	}

	return s
}

// Registry returns the connection registry, which is also the broadcaster
// the store publishes through.
func (s *Server) Registry() *Registry {
	return s.registry
}

// checkOrigin validates the WebSocket origin header
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // CLI tools and same-origin requests carry no origin
	}
	if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if strings.Contains(origin, allowed) {
			return true
		}
	}
	s.log.WithField("origin", origin).Warn("rejecting origin: not in allowlist")
	return false
}

// Start starts the stream server
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"addr":            fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		"max_connections": s.config.MaxConnections,
		"heartbeat":       s.config.HeartbeatInterval,
		"liveness":        s.config.LivenessTimeout,
	}).Info("starting progress stream server")

	router := mux.NewRouter()
	router.HandleFunc("/ws/jobs/{id}", s.handleWebSocket)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}

	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()
	s.log.WithField("addr", s.addr).Info("stream server listening")

	go s.heartbeatLoop()
	go s.reaperLoop()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("stream server error")
		}
	}()

	return nil
}

// Stop gracefully stops the stream server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrServerNotRunning
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("stopping stream server...")

	close(s.stopLoops)
	s.limiter.Stop()

	count := s.registry.Count()
	s.registry.CloseAll()
	if count > 0 {
		s.log.Infof("closed %d active observer connection(s)", count)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Error("stream server shutdown error")
			return err
		}
	}

	s.log.WithFields(logrus.Fields{
		"total":  atomic.LoadInt64(&s.totalConnections),
		"failed": atomic.LoadInt64(&s.failedConnections),
	}).Info("stream server stopped")
	return nil
}

// writeJSONError writes a JSON-formatted error response
func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":"%s","status":%d}`, message, status)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","observers":%d}`, s.registry.Count())
}

// handleStats handles stats requests (for debugging)
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","observers":%d,"jobs_observed":%d,"total_connections":%d,"failed_connections":%d,"rate_limit_tracked_ips":%d}`,
		s.registry.Count(),
		s.registry.Topics(),
		atomic.LoadInt64(&s.totalConnections),
		atomic.LoadInt64(&s.failedConnections),
		s.limiter.Count())
}

// handleWebSocket upgrades an observer connection and runs its read loop
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	jobID := mux.Vars(r)["id"]

	atomic.AddInt64(&s.totalConnections, 1)

	if !s.limiter.Allow(ip) {
		s.log.WithField("ip", ip).Warn("rate limit exceeded")
		atomic.AddInt64(&s.failedConnections, 1)
		s.met.ConnRejected()
		writeJSONError(w, ErrRateLimited.Error(), http.StatusTooManyRequests)
		return
	}

	if s.registry.Count() >= s.config.MaxConnections {
		s.log.WithField("ip", ip).Warnf("max connections reached (%d)", s.config.MaxConnections)
		atomic.AddInt64(&s.failedConnections, 1)
		s.met.ConnRejected()
		writeJSONError(w, ErrMaxConnectionsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).WithField("ip", ip).Debug("websocket upgrade failed")
		atomic.AddInt64(&s.failedConnections, 1)
		s.met.ConnRejected()
		return // Upgrade already sent error response
	}

	// Unknown jobs answer on the socket: an error frame, then close.
	snap, err := s.source.GetSnapshot(jobID)
	if err != nil {
		s.log.WithFields(logrus.Fields{"job_id": jobID, "ip": ip}).Debug("subscribe to unknown job")
		atomic.AddInt64(&s.failedConnections, 1)
		s.met.ConnRejected()
		s.rejectSocket(ws, "Job not found")
		return
	}

	log := s.log.WithFields(logrus.Fields{"job_id": jobID, "ip": ip})
	conn := newConn(uuid.NewString(), jobID, ws, s.config.QueueSize, log, s.met, func(c *Conn) {
		s.registry.Remove(c)
	})

	if err := s.registry.Subscribe(conn, snap); err != nil {
		log.WithError(err).Warn("subscribe failed")
		atomic.AddInt64(&s.failedConnections, 1)
		s.met.ConnRejected()
		s.rejectSocket(ws, err.Error())
		return
	}

	log.WithField("observers", s.registry.Observers(jobID)).Info("observer subscribed")

	go conn.writePump()
	s.readLoop(conn)
	conn.Close()

	log.WithField("observers", s.registry.Observers(jobID)).Info("observer disconnected")
}

// rejectSocket sends an error frame on a just-upgraded socket and closes it.
func (s *Server) rejectSocket(ws *websocket.Conn, detail string) {
	if data, err := NewErrorFrame(detail).Marshal(); err == nil {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		ws.WriteMessage(websocket.TextMessage, data)
	}
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	ws.Close()
}

// readLoop consumes client messages until the connection dies. Any inbound
// message refreshes liveness; unknown message types are tolerated because
// the stream is one-way.
func (s *Server) readLoop(c *Conn) {
	c.ws.SetReadLimit(maxClientMessageSize)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("observer disconnected normally")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Debug("unexpected websocket close")
			} else {
				c.log.WithError(err).Debug("websocket read error")
			}
			return
		}

		c.touch()

		msg, err := UnmarshalClientMessage(data)
		if err != nil {
			c.log.Debug("ignoring malformed client message")
			continue
		}
		if err := msg.Validate(); err != nil {
			c.log.WithField("type", msg.Type).Debug("ignoring unknown client message")
			continue
		}

		switch msg.Type {
		case MessageTypeAcknowledge:
			// Liveness already refreshed above; nothing else to do.

		case MessageTypeClose:
			c.log.Debug("observer requested close")
			return
		}
	}
}

// heartbeatLoop pulses every connection on the configured interval.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			data, err := NewHeartbeat(now).Marshal()
			if err != nil {
				continue
			}
			s.registry.Heartbeat(data)
		case <-s.stopLoops:
			return
		}
	}
}

// reaperLoop periodically closes connections past the liveness timeout.
func (s *Server) reaperLoop() {
	interval := s.config.LivenessTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if reaped := s.registry.ReapIdle(s.config.LivenessTimeout); reaped > 0 {
				s.log.Infof("reaped %d stale observer connection(s)", reaped)
			}
		case <-s.stopLoops:
			return
		}
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check for X-Forwarded-For header (for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound listen address, useful when port 0 was configured
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// ObserverCount returns the number of active observer connections
func (s *Server) ObserverCount() int {
	return s.registry.Count()
}

// Stats returns the server connection statistics
func (s *Server) Stats() (total, failed, active int64) {
	return atomic.LoadInt64(&s.totalConnections),
		atomic.LoadInt64(&s.failedConnections),
		int64(s.registry.Count())
}
