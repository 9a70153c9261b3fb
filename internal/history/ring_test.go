package history

import (
	"testing"
	"time"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

func TestRingAppendAndOrder(t *testing.T) {
	r := NewRing(3)
	now := time.Now()

	for i := 1; i <= 3; i++ {
		r.Append(job.Metrics{"loss": float64(i)}, now)
	}

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	entries := r.Entries()
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Errorf("entry %d Seq = %d, want %d", i, e.Seq, i+1)
		}
		if e.Metrics["loss"] != float64(i+1) {
			t.Errorf("entry %d loss = %v, want %v", i, e.Metrics["loss"], i+1)
		}
	}
}

func TestRingEvictsOldestFirst(t *testing.T) {
	r := NewRing(100)
	now := time.Now()

	for i := 1; i <= 101; i++ {
		r.Append(job.Metrics{"loss": float64(i)}, now)
	}

	if r.Len() != 100 {
		t.Fatalf("Len() after 101 appends = %d, want 100", r.Len())
	}

	entries := r.Entries()
	if entries[0].Seq != 2 {
		t.Errorf("oldest retained Seq = %d, want 2 (first entry evicted)", entries[0].Seq)
	}
	if entries[len(entries)-1].Seq != 101 {
		t.Errorf("newest retained Seq = %d, want 101", entries[len(entries)-1].Seq)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq != entries[i-1].Seq+1 {
			t.Fatalf("entries not in insertion order at %d: %d after %d", i, entries[i].Seq, entries[i-1].Seq)
		}
	}
}

func TestRingNeverExceedsCapacity(t *testing.T) {
	r := NewRing(5)
	now := time.Now()

	for i := 0; i < 500; i++ {
		r.Append(job.Metrics{"loss": float64(i)}, now)
		if r.Len() > 5 {
			t.Fatalf("Len() = %d exceeds capacity 5", r.Len())
		}
	}
	if r.Cap() != 5 {
		t.Errorf("Cap() = %d, want 5", r.Cap())
	}
}

func TestRingCopiesMetrics(t *testing.T) {
	r := NewRing(2)
	m := job.Metrics{"loss": 1.0}
	r.Append(m, time.Now())

	m["loss"] = 2.0

	if got := r.Entries()[0].Metrics["loss"]; got != 1.0 {
		t.Errorf("retained metrics aliased caller map: loss = %v, want 1.0", got)
	}
}

func TestRingDefaultCapacity(t *testing.T) {
	if got := NewRing(0).Cap(); got != DefaultCapacity {
		t.Errorf("Cap() = %d, want %d", got, DefaultCapacity)
	}
}
