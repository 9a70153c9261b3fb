// Package client implements the observer side of the progress stream: dial a
// job's WebSocket feed, classify incoming frames and hand them to callbacks.
// The watch command is built on it, and it doubles as a reference for the
// wire protocol.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/logging"
	"github.com/traintrack-ai/traintrack-cli/internal/stream"
)

// Observer errors
var (
	// ErrStreamRejected indicates the server refused the subscription,
	// usually because the job id is unknown
	ErrStreamRejected = errors.New("stream rejected")

	// ErrNotConnected indicates a write was attempted without a connection
	ErrNotConnected = errors.New("not connected")
)

// maxBackoff caps the reconnect delay between redial attempts.
const maxBackoff = 30 * time.Second

// Handlers receives classified frames. Nil callbacks are skipped.
type Handlers struct {
	// InitialState receives the complete job state once per connection,
	// always before the first update.
	InitialState func(job.Snapshot)

	// Update receives every gated progress frame, including the terminal
	// one.
	Update func(stream.Update)

	// Heartbeat receives the server's liveness pulse timestamp.
	Heartbeat func(time.Time)
}

// Config holds observer settings.
type Config struct {
	// BaseURL points at the stream server, e.g. "ws://127.0.0.1:8765".
	// http and https schemes are converted to their ws equivalents.
	BaseURL string

	// HandshakeTimeout bounds the dial (default: 10s).
	HandshakeTimeout time.Duration

	// AckInterval is how often the observer acknowledges the stream so it
	// stays inside the server's liveness window (default: 25s).
	AckInterval time.Duration

	// Reconnect enables redialing with exponential backoff after an
	// abnormal disconnect. The server resends the current state on every
	// new connection, so observers miss nothing that still matters.
	Reconnect bool

	// Log is the component logger. Nil discards.
	Log *logrus.Entry
}

// Observer watches one job's live progress feed.
type Observer struct {
	config Config

	mu   sync.Mutex
	conn *websocket.Conn

	done     chan struct{}
	stopOnce sync.Once

	backoff time.Duration
}

// New creates an observer.
func New(cfg Config) *Observer {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.AckInterval == 0 {
		cfg.AckInterval = 25 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = logging.Component(logging.Discard(), "observer")
	}
	return &Observer{
		config:  cfg,
		done:    make(chan struct{}),
		backoff: time.Second,
	}
}

// Watch streams the job's feed until the job finishes, the context ends, or
// the connection fails without reconnection. A normal server close, which is
// how the feed ends after the terminal frame, returns nil.
func (o *Observer) Watch(ctx context.Context, jobID string, h Handlers) error {
	for {
		err := o.watchOnce(ctx, jobID, h)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrStreamRejected):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case !o.config.Reconnect:
			return err
		}

		o.config.Log.WithError(err).WithField("retry_in", o.backoff.String()).Warn("stream disconnected, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.done:
			return nil
		case <-time.After(o.backoff):
		}
		o.backoff *= 2
		if o.backoff > maxBackoff {
			o.backoff = maxBackoff
		}
	}
}

// watchOnce runs a single dial-read-close cycle.
func (o *Observer) watchOnce(ctx context.Context, jobID string, h Handlers) error {
	wsURL, err := o.streamURL(jobID)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: o.config.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: status %d: %w", wsURL, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	o.mu.Lock()
	o.conn = conn
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.conn = nil
		o.mu.Unlock()
		conn.Close()
	}()

	o.backoff = time.Second
	o.config.Log.WithField("url", wsURL).Debug("stream connected")

	stop := make(chan struct{})
	defer close(stop)
	go o.keepalive(ctx, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.done:
				return nil
			default:
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if err := o.dispatch(data, h); err != nil {
			return err
		}
	}
}

// dispatch classifies one frame. Typed frames carry the initial state or the
// heartbeat pulse; progress updates have no type field and are recognized by
// their status; a bare error object is a subscription rejection.
func (o *Observer) dispatch(data []byte, h Handlers) error {
	var probe struct {
		Type   string `json:"type"`
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		o.config.Log.WithError(err).Debug("discarding unparseable frame")
		return nil
	}

	switch {
	case probe.Type == stream.MessageTypeInitialState:
		var frame stream.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Data == nil {
			o.config.Log.Debug("discarding malformed initial state")
			return nil
		}
		if h.InitialState != nil {
			h.InitialState(*frame.Data)
		}

	case probe.Type == stream.MessageTypeHeartbeat:
		var frame stream.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil
		}
		if h.Heartbeat != nil {
			if ts, err := time.Parse(time.RFC3339, frame.Time); err == nil {
				h.Heartbeat(ts)
			}
		}

	case probe.Type == "" && probe.Status != "":
		var u stream.Update
		if err := json.Unmarshal(data, &u); err != nil {
			o.config.Log.WithError(err).Debug("discarding malformed update")
			return nil
		}
		if h.Update != nil {
			h.Update(u)
		}

	case probe.Type == "" && probe.Error != "":
		return fmt.Errorf("%w: %s", ErrStreamRejected, probe.Error)

	default:
		o.config.Log.WithField("type", probe.Type).Debug("ignoring unknown frame type")
	}
	return nil
}

// keepalive acknowledges the stream on a timer and requests an orderly close
// when the watch ends.
func (o *Observer) keepalive(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(o.config.AckInterval)
	defer ticker.Stop()

	ack, _ := json.Marshal(stream.ClientMessage{Type: stream.MessageTypeAcknowledge})
	closeReq, _ := json.Marshal(stream.ClientMessage{Type: stream.MessageTypeClose})

	for {
		select {
		case <-stop:
			return
		case <-o.done:
			o.writeMessage(closeReq)
			return
		case <-ctx.Done():
			o.writeMessage(closeReq)
			return
		case <-ticker.C:
			if err := o.writeMessage(ack); err != nil {
				return
			}
		}
	}
}

// writeMessage sends one text frame, serialized against other writers.
func (o *Observer) writeMessage(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil {
		return ErrNotConnected
	}
	return o.conn.WriteMessage(websocket.TextMessage, data)
}

// IsConnected reports whether a dial is currently established.
func (o *Observer) IsConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn != nil
}

// Close ends the watch and releases the connection.
func (o *Observer) Close() error {
	o.stopOnce.Do(func() {
		close(o.done)
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn != nil {
		o.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err := o.conn.Close()
		o.conn = nil
		return err
	}
	return nil
}

// streamURL converts the base URL into the job's feed endpoint.
func (o *Observer) streamURL(jobID string) (string, error) {
	base := o.config.BaseURL
	if !strings.Contains(base, "://") {
		base = "ws://" + base
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/jobs/" + jobID
	return u.String(), nil
}
