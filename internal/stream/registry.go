// internal/stream/registry.go
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/metrics"
)

// topic groups the observers of one job.
type topic struct {
	mu    sync.Mutex
	conns map[string]*Conn

	// latest is the last snapshot broadcast for the job. Subscribers that
	// register while broadcasts are in flight take it as their initial
	// state, so the initial frame is never older than an update already
	// queued behind it.
	latest *job.Snapshot
}

// Registry tracks observer connections grouped by job id and fans gated
// snapshots out to them. It implements the store's Broadcaster.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]*topic

	maxConns int
	total    int64

	log *logrus.Entry
	met *metrics.Set
}

// NewRegistry creates an empty registry with a global connection cap.
func NewRegistry(maxConns int, log *logrus.Entry, met *metrics.Set) *Registry {
	return &Registry{
		topics:   make(map[string]*topic),
		maxConns: maxConns,
		log:      log,
		met:      met,
	}
}

func (r *Registry) getOrCreate(jobID string) *topic {
	r.mu.RLock()
	t, ok := r.topics[jobID]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok = r.topics[jobID]; ok {
		return t
	}
	t = &topic{conns: make(map[string]*Conn)}
	r.topics[jobID] = t
	return t
}

// Subscribe registers a connection for its job and queues the initial state
// frame. Registration and the initial frame happen under the topic lock, so
// every update broadcast afterwards is queued strictly behind it.
func (r *Registry) Subscribe(c *Conn, snap job.Snapshot) error {
	if atomic.AddInt64(&r.total, 1) > int64(r.maxConns) {
		atomic.AddInt64(&r.total, -1)
		return ErrMaxConnectionsReached
	}

	t := r.getOrCreate(c.JobID)

	t.mu.Lock()
	if t.latest != nil {
		snap = *t.latest
	}
	data, err := NewInitialState(snap).Marshal()
	if err != nil {
		t.mu.Unlock()
		atomic.AddInt64(&r.total, -1)
		return err
	}
	// A job that already ended still serves its terminal snapshot; the
	// final flag closes the connection right after it is flushed.
	if err := c.enqueue(outbound{data: data, final: snap.Terminal()}); err != nil {
		t.mu.Unlock()
		atomic.AddInt64(&r.total, -1)
		return err
	}
	t.conns[c.ID] = c
	t.mu.Unlock()

	r.met.ConnOpened()
	return nil
}

// Broadcast queues a gated snapshot for every observer of the job. A
// connection whose queue is gone is torn down; the rest keep streaming.
func (r *Registry) Broadcast(jobID string, snap job.Snapshot) {
	t := r.getOrCreate(jobID)

	data, err := NewUpdate(snap).Marshal()
	if err != nil {
		r.log.WithError(err).WithField("job_id", jobID).Error("failed to marshal update")
		return
	}
	final := snap.Terminal()

	t.mu.Lock()
	t.latest = &snap
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		if err := c.enqueue(outbound{data: data, final: final}); err != nil {
			c.Close()
		}
	}
}

// Remove detaches a connection from its topic. Safe to call more than once
// and after the topic itself is gone.
func (r *Registry) Remove(c *Conn) {
	r.mu.RLock()
	t := r.topics[c.JobID]
	r.mu.RUnlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	_, ok := t.conns[c.ID]
	if ok {
		delete(t.conns, c.ID)
	}
	t.mu.Unlock()

	if ok {
		atomic.AddInt64(&r.total, -1)
		r.met.ConnClosed()
	}
}

// Observers returns the number of connections subscribed to a job.
func (r *Registry) Observers(jobID string) int {
	r.mu.RLock()
	t := r.topics[jobID]
	r.mu.RUnlock()
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Count returns the number of connections across all jobs.
func (r *Registry) Count() int {
	return int(atomic.LoadInt64(&r.total))
}

// Topics returns the number of jobs with fan-out state.
func (r *Registry) Topics() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// Drop discards a job's fan-out state and closes its remaining observers.
// The store calls this when it evicts a terminal job.
func (r *Registry) Drop(jobID string) {
	r.mu.Lock()
	t := r.topics[jobID]
	delete(r.topics, jobID)
	r.mu.Unlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[string]*Conn)
	t.mu.Unlock()

	// Close outside the locks; onClose finds the topic gone and no-ops.
	for _, c := range conns {
		atomic.AddInt64(&r.total, -1)
		r.met.ConnClosed()
		c.Close()
	}
}

// Heartbeat queues a heartbeat frame for every connection and returns how
// many were reached.
func (r *Registry) Heartbeat(data []byte) int {
	r.mu.RLock()
	topics := make([]*topic, 0, len(r.topics))
	for _, t := range r.topics {
		topics = append(topics, t)
	}
	r.mu.RUnlock()

	count := 0
	for _, t := range topics {
		t.mu.Lock()
		conns := make([]*Conn, 0, len(t.conns))
		for _, c := range t.conns {
			conns = append(conns, c)
		}
		t.mu.Unlock()

		for _, c := range conns {
			if err := c.enqueue(outbound{data: data, heartbeat: true}); err == nil {
				count++
			}
		}
	}
	return count
}

// ReapIdle closes connections that have shown no activity for longer than
// the timeout and returns how many were reaped.
func (r *Registry) ReapIdle(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	r.mu.RLock()
	topics := make([]*topic, 0, len(r.topics))
	for _, t := range r.topics {
		topics = append(topics, t)
	}
	r.mu.RUnlock()

	var toClose []*Conn
	for _, t := range topics {
		t.mu.Lock()
		for id, c := range t.conns {
			if c.LastActive().Before(cutoff) {
				delete(t.conns, id)
				toClose = append(toClose, c)
			}
		}
		t.mu.Unlock()
	}

	for _, c := range toClose {
		atomic.AddInt64(&r.total, -1)
		r.met.ConnClosed()
		r.met.Reaped()
		c.log.Info("reaping stale observer")
		c.Close()
	}
	return len(toClose)
}

// CloseAll closes every connection and clears all fan-out state.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	topics := make([]*topic, 0, len(r.topics))
	for _, t := range r.topics {
		topics = append(topics, t)
	}
	r.topics = make(map[string]*topic)
	r.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		conns := make([]*Conn, 0, len(t.conns))
		for _, c := range t.conns {
			conns = append(conns, c)
		}
		t.conns = make(map[string]*Conn)
		t.mu.Unlock()

		for _, c := range conns {
			atomic.AddInt64(&r.total, -1)
			r.met.ConnClosed()
			c.Close()
		}
	}
}
