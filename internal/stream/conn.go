// internal/stream/conn.go
package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/traintrack-ai/traintrack-cli/internal/metrics"
)

const (
	// writeWait is the deadline for a single outbound frame write
	writeWait = 10 * time.Second

	// maxClientMessageSize bounds inbound client messages
	maxClientMessageSize = 4096
)

// outbound is one frame queued for delivery to an observer.
type outbound struct {
	data []byte

	// heartbeat marks heartbeat pulses; a successful write refreshes the
	// connection's liveness clock.
	heartbeat bool

	// final marks the last frame of the stream (terminal snapshot or error
	// frame); the writer closes the connection after flushing it.
	final bool
}

// Conn is one observer subscription: a WebSocket plus its outbound queue.
// All writes go through the queue so a slow observer never blocks the
// broadcast path of other connections. When the queue is full the oldest
// frame is dropped; observers only care about the newest state.
type Conn struct {
	// ID is the unique connection identifier
	ID string

	// JobID is the job this connection observes
	JobID string

	ws   *websocket.Conn
	send chan outbound
	done chan struct{}

	mu         sync.RWMutex
	lastActive time.Time
	closed     bool

	// draining is set once a final frame is queued; nothing may be
	// enqueued behind it, so queue eviction can never discard it.
	draining bool

	closeOnce sync.Once
	onClose   func(*Conn)

	log *logrus.Entry
	met *metrics.Set
}

func newConn(id, jobID string, ws *websocket.Conn, queueSize int, log *logrus.Entry, met *metrics.Set, onClose func(*Conn)) *Conn {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Conn{
		ID:         id,
		JobID:      jobID,
		ws:         ws,
		send:       make(chan outbound, queueSize),
		done:       make(chan struct{}),
		lastActive: time.Now(),
		onClose:    onClose,
		log:        log,
		met:        met,
	}
}

// enqueue appends a frame to the outbound queue without ever blocking. On a
// full queue the oldest frame is evicted to make room for the newest.
func (c *Conn) enqueue(item outbound) error {
	c.mu.Lock()
	if c.closed || c.draining {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if item.final {
		c.draining = true
	}
	c.mu.Unlock()

	for {
		select {
		case c.send <- item:
			return nil
		case <-c.done:
			return ErrConnectionClosed
		default:
		}
		select {
		case <-c.send:
			c.met.Dropped()
		default:
		}
	}
}

// writePump drains the outbound queue onto the socket. It is the only
// goroutine that writes to the WebSocket. A failed write tears the
// connection down; the other observers of the job are unaffected.
func (c *Conn) writePump() {
	defer c.Close()

	for {
		select {
		case item := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, item.data); err != nil {
				c.log.WithError(err).Debug("write failed, dropping connection")
				return
			}
			if item.heartbeat {
				// A heartbeat the peer's transport accepted counts as
				// proof of life.
				c.touch()
				c.met.Heartbeat()
			}
			if item.final {
				c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
		case <-c.done:
			return
		}
	}
}

// touch refreshes the liveness clock
func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// LastActive returns the last activity timestamp
func (c *Conn) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

// Close tears the connection down once: it stops the writer, closes the
// socket and detaches the connection from its registry.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		c.ws.Close()

		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return nil
}
