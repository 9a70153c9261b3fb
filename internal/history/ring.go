// Package history keeps a bounded, per-job ring of recent metric samples for
// charting and terminal reports. Capacity is fixed at construction; once full,
// every append evicts the oldest entry in O(1).
package history

import (
	"time"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

// DefaultCapacity is the per-job sample retention used when no capacity is
// configured.
const DefaultCapacity = 100

// Entry is one retained metric sample.
type Entry struct {
	// Seq is a monotonically increasing sequence number, assigned at
	// append time and never reused. The first entry of a ring is Seq 1.
	Seq int64 `json:"seq"`

	Metrics job.Metrics `json:"metrics"`

	Timestamp time.Time `json:"timestamp"`
}

// Ring is a fixed-capacity FIFO of entries. It is not safe for concurrent
// use; the store serializes access per job.
type Ring struct {
	entries []Entry
	head    int // index of the oldest entry
	size    int
	nextSeq int64
}

// NewRing creates a ring holding at most capacity entries. Capacities below 1
// fall back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{
		entries: make([]Entry, capacity),
		nextSeq: 1,
	}
}

// Append stores a sample, evicting the oldest entry when full, and returns
// the stored entry. The metric map is copied so later mutation by the caller
// cannot corrupt retained history.
func (r *Ring) Append(metrics job.Metrics, ts time.Time) Entry {
	copied := make(job.Metrics, len(metrics))
	for k, v := range metrics {
		copied[k] = v
	}

	e := Entry{Seq: r.nextSeq, Metrics: copied, Timestamp: ts}
	r.nextSeq++

	if r.size < len(r.entries) {
		r.entries[(r.head+r.size)%len(r.entries)] = e
		r.size++
		return e
	}

	// Full: overwrite the oldest slot and advance the head.
	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
	return e
}

// Entries returns the retained samples, oldest first.
func (r *Ring) Entries() []Entry {
	out := make([]Entry, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.entries[(r.head+i)%len(r.entries)]
	}
	return out
}

// Len returns the number of retained entries.
func (r *Ring) Len() int {
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.entries)
}
