package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/logging"
	"github.com/traintrack-ai/traintrack-cli/internal/store"
	"github.com/traintrack-ai/traintrack-cli/internal/stream"
)

// Fixed ports keep the tests independent of each other.
const (
	portLifecycle = 18780
	portUnknown   = 18781
	portCancel    = 18782
	portHeartbeat = 18783
)

type harness struct {
	store *store.Store
	url   string
}

func startStream(t *testing.T, port int, heartbeat time.Duration) *harness {
	t.Helper()

	log := logging.Discard()
	st := store.New(store.DefaultConfig(), logging.Component(log, "store"), nil)
	t.Cleanup(st.Close)

	cfg := &stream.Config{
		Host:              "127.0.0.1",
		Port:              port,
		HeartbeatInterval: heartbeat,
		LivenessTimeout:   2 * heartbeat,
		MaxConnections:    16,
		QueueSize:         16,
		RateLimitRPS:      100,
		RateLimitBurst:    100,
	}
	srv := stream.NewServer(cfg, st, logging.Component(log, "stream"), nil)
	st.SetBroadcaster(srv.Registry())

	if err := srv.Start(); err != nil {
		t.Fatalf("stream start error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	time.Sleep(50 * time.Millisecond)

	return &harness{store: st, url: fmt.Sprintf("ws://127.0.0.1:%d", port)}
}

// recorder collects classified frames in arrival order.
type recorder struct {
	mu         sync.Mutex
	order      []string
	initial    []job.Snapshot
	updates    []stream.Update
	heartbeats int
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		InitialState: func(s job.Snapshot) {
			r.mu.Lock()
			r.order = append(r.order, "initial")
			r.initial = append(r.initial, s)
			r.mu.Unlock()
		},
		Update: func(u stream.Update) {
			r.mu.Lock()
			r.order = append(r.order, "update")
			r.updates = append(r.updates, u)
			r.mu.Unlock()
		},
		Heartbeat: func(time.Time) {
			r.mu.Lock()
			r.order = append(r.order, "heartbeat")
			r.heartbeats++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() (order []string, initial []job.Snapshot, updates []stream.Update, heartbeats int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...),
		append([]job.Snapshot(nil), r.initial...),
		append([]stream.Update(nil), r.updates...),
		r.heartbeats
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestObserverReceivesLifecycle(t *testing.T) {
	h := startStream(t, portLifecycle, time.Hour)

	snap, err := h.store.CreateJob(job.KindTraining, "watched", nil)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	rec := &recorder{}
	obs := New(Config{BaseURL: h.url})
	t.Cleanup(func() { obs.Close() })

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- obs.Watch(context.Background(), snap.ID, rec.handlers())
	}()

	// The initial state lands before the store emits anything else.
	waitFor(t, 3*time.Second, func() bool {
		order, _, _, _ := rec.snapshot()
		return len(order) > 0
	})

	if _, err := h.store.ApplyEvent(snap.ID, job.Event{
		Epoch: 1, TotalEpochs: 4,
		Metrics: job.Metrics{"loss": 0.5},
	}); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if _, err := h.store.ApplyEvent(snap.ID, job.Event{
		Epoch: 2,
		Metrics: job.Metrics{"loss": 0.3},
	}); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if _, err := h.store.Terminate(snap.ID, job.StatusCompleted, map[string]any{"model_path": "weights.pt"}, ""); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	select {
	case err := <-watchDone:
		if err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Watch() did not return after terminal frame")
	}

	order, initial, updates, _ := rec.snapshot()
	if len(order) == 0 || order[0] != "initial" {
		t.Fatalf("first frame = %v, want initial", order)
	}
	if len(initial) != 1 {
		t.Fatalf("initial count = %d, want 1", len(initial))
	}
	if initial[0].Status != job.StatusPending {
		t.Errorf("initial Status = %q, want pending", initial[0].Status)
	}
	if len(updates) != 3 {
		t.Fatalf("update count = %d, want 3 (two events plus terminal)", len(updates))
	}
	if updates[0].Progress.Percent != 25 {
		t.Errorf("first update Percent = %v, want 25", updates[0].Progress.Percent)
	}
	last := updates[len(updates)-1]
	if last.Status != job.StatusCompleted {
		t.Errorf("terminal Status = %q, want completed", last.Status)
	}
	if last.Result["model_path"] != "weights.pt" {
		t.Errorf("terminal Result = %v, want model_path", last.Result)
	}
}

func TestObserverUnknownJobRejected(t *testing.T) {
	h := startStream(t, portUnknown, time.Hour)

	obs := New(Config{BaseURL: h.url})
	t.Cleanup(func() { obs.Close() })

	err := obs.Watch(context.Background(), "no-such-job", Handlers{})
	if !errors.Is(err, ErrStreamRejected) {
		t.Fatalf("Watch() error = %v, want ErrStreamRejected", err)
	}
}

func TestObserverContextCancelReturnsPromptly(t *testing.T) {
	h := startStream(t, portCancel, time.Hour)

	snap, err := h.store.CreateJob(job.KindTraining, "hung", nil)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	obs := New(Config{BaseURL: h.url})
	t.Cleanup(func() { obs.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- obs.Watch(ctx, snap.ID, Handlers{})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-watchDone:
		// Depending on who notices first this surfaces as the context
		// error or as the server's orderly close.
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Watch() error = %v, want nil or context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}

func TestObserverHeartbeat(t *testing.T) {
	h := startStream(t, portHeartbeat, 100*time.Millisecond)

	snap, err := h.store.CreateJob(job.KindTraining, "pulsed", nil)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	rec := &recorder{}
	obs := New(Config{BaseURL: h.url, AckInterval: 50 * time.Millisecond})
	t.Cleanup(func() { obs.Close() })

	go obs.Watch(context.Background(), snap.ID, rec.handlers())

	waitFor(t, 3*time.Second, func() bool {
		_, _, _, beats := rec.snapshot()
		return beats >= 2
	})
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{"ws scheme", "ws://127.0.0.1:8765", "ws://127.0.0.1:8765/ws/jobs/j1"},
		{"http converted", "http://example.com", "ws://example.com/ws/jobs/j1"},
		{"https converted", "https://example.com", "wss://example.com/ws/jobs/j1"},
		{"bare host", "127.0.0.1:8765", "ws://127.0.0.1:8765/ws/jobs/j1"},
		{"trailing slash", "ws://example.com/", "ws://example.com/ws/jobs/j1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(Config{BaseURL: tt.base})
			got, err := o.streamURL("j1")
			if err != nil {
				t.Fatalf("streamURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("streamURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
