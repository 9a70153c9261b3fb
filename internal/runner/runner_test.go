package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/logging"
)

type termination struct {
	status job.Status
	result map[string]any
	detail string
}

// fakeSink records the event stream a driver emits.
type fakeSink struct {
	mu           sync.Mutex
	events       []job.Event
	terminations []termination

	// failAfter makes ApplyEvent error once this many events were accepted.
	failAfter int
}

func (f *fakeSink) ApplyEvent(id string, ev job.Event) (job.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.events) >= f.failAfter {
		return job.Snapshot{}, errors.New("sink exploded")
	}
	f.events = append(f.events, ev)
	return job.Snapshot{}, nil
}

func (f *fakeSink) Terminate(id string, status job.Status, result map[string]any, detail string) (job.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminations = append(f.terminations, termination{status, result, detail})
	return job.Snapshot{}, nil
}

func (f *fakeSink) snapshot() ([]job.Event, []termination) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]job.Event, len(f.events))
	copy(events, f.events)
	terms := make([]termination, len(f.terminations))
	copy(terms, f.terminations)
	return events, terms
}

func newTestRunner() (*Runner, *fakeSink) {
	sink := &fakeSink{}
	return New(sink, logging.Component(logging.Discard(), "runner")), sink
}

func TestRunTrainingEmitsEpochs(t *testing.T) {
	r, sink := newTestRunner()
	spec := &Spec{
		Name:          "train",
		Kind:          job.KindTraining,
		Epochs:        5,
		EpochDuration: Duration(time.Millisecond),
		Seed:          42,
	}

	if err := r.Start(context.Background(), "job-1", spec); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.Wait()

	events, terms := sink.snapshot()
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Epoch != i+1 || ev.TotalEpochs != 5 {
			t.Errorf("event %d: epoch %d/%d", i, ev.Epoch, ev.TotalEpochs)
		}
		for _, name := range []string{"loss", "accuracy", "map50"} {
			if _, ok := ev.Metrics[name]; !ok {
				t.Errorf("event %d missing metric %s", i, name)
			}
		}
		if i > 0 && events[i].Metrics["loss"] >= events[i-1].Metrics["loss"] {
			t.Errorf("loss should decay: epoch %d %v >= epoch %d %v",
				i+1, events[i].Metrics["loss"], i, events[i-1].Metrics["loss"])
		}
	}

	if len(terms) != 1 {
		t.Fatalf("expected 1 termination, got %d", len(terms))
	}
	if terms[0].status != job.StatusCompleted {
		t.Errorf("expected completed, got %s", terms[0].status)
	}
	if terms[0].result["model_path"] != "runs/job-1/weights/best.pt" {
		t.Errorf("unexpected result: %+v", terms[0].result)
	}
	if r.Running() != 0 {
		t.Errorf("expected no running drivers, got %d", r.Running())
	}
}

func TestRunSearchTrialLifecycle(t *testing.T) {
	r, sink := newTestRunner()
	spec := &Spec{
		Name:           "sweep",
		Kind:           job.KindHyperparamSearch,
		Trials:         3,
		EpochsPerTrial: 2,
		EpochDuration:  Duration(time.Millisecond),
		OptimizeMetric: "map50",
		ParamSpace: map[string][]any{
			"lr":         {0.1, 0.01, 0.001},
			"batch_size": {16, 32},
		},
		Seed: 7,
	}

	if err := r.Start(context.Background(), "job-2", spec); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.Wait()

	events, terms := sink.snapshot()

	// Per trial: one open, two epochs, one close.
	if len(events) != 3*4 {
		t.Fatalf("expected 12 events, got %d", len(events))
	}
	for trial := 0; trial < 3; trial++ {
		open := events[trial*4]
		if open.Trial != trial+1 || open.TotalTrials != 3 || open.TotalEpochs != 2 {
			t.Errorf("trial %d open event malformed: %+v", trial+1, open)
		}
		if open.TrialParams["lr"] == nil || open.TrialParams["batch_size"] == nil {
			t.Errorf("trial %d missing sampled params: %+v", trial+1, open.TrialParams)
		}
		for e := 1; e <= 2; e++ {
			ev := events[trial*4+e]
			if ev.Trial != trial+1 || ev.Epoch != e {
				t.Errorf("trial %d epoch event malformed: %+v", trial+1, ev)
			}
			if _, ok := ev.Metrics["map50"]; !ok {
				t.Errorf("trial %d epoch %d missing optimize metric", trial+1, e)
			}
		}
		closeEv := events[trial*4+3]
		if !closeEv.TrialDone || closeEv.Trial != trial+1 {
			t.Errorf("trial %d close event malformed: %+v", trial+1, closeEv)
		}
	}

	if len(terms) != 1 || terms[0].status != job.StatusCompleted {
		t.Fatalf("expected completed termination, got %+v", terms)
	}
	if terms[0].result["trials_completed"] != 3 {
		t.Errorf("unexpected result: %+v", terms[0].result)
	}
}

func TestStopCancelsDriver(t *testing.T) {
	r, sink := newTestRunner()
	spec := &Spec{
		Kind:          job.KindTraining,
		Epochs:        1000,
		EpochDuration: Duration(20 * time.Millisecond),
	}

	if err := r.Start(context.Background(), "job-3", spec); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := r.Stop("job-3"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	r.Wait()

	_, terms := sink.snapshot()
	if len(terms) != 1 {
		t.Fatalf("expected 1 termination, got %d", len(terms))
	}
	if terms[0].status != job.StatusFailed || terms[0].detail != "job canceled" {
		t.Errorf("expected failed/canceled, got %+v", terms[0])
	}

	if err := r.Stop("job-3"); err != ErrJobNotRunning {
		t.Errorf("expected ErrJobNotRunning, got %v", err)
	}
}

func TestStartTwiceRejected(t *testing.T) {
	r, _ := newTestRunner()
	spec := &Spec{
		Kind:          job.KindTraining,
		Epochs:        100,
		EpochDuration: Duration(10 * time.Millisecond),
	}

	if err := r.Start(context.Background(), "job-4", spec); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start(context.Background(), "job-4", spec); err != ErrJobAlreadyRunning {
		t.Errorf("expected ErrJobAlreadyRunning, got %v", err)
	}

	r.StopAll()
	r.Wait()
}

func TestSinkErrorAbortsDriver(t *testing.T) {
	r, sink := newTestRunner()
	sink.failAfter = 3
	spec := &Spec{
		Kind:          job.KindTraining,
		Epochs:        10,
		EpochDuration: Duration(time.Millisecond),
	}

	if err := r.Start(context.Background(), "job-5", spec); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.Wait()

	events, terms := sink.snapshot()
	if len(events) != 3 {
		t.Errorf("expected 3 accepted events, got %d", len(events))
	}
	if len(terms) != 1 || terms[0].status != job.StatusFailed || terms[0].detail != "sink exploded" {
		t.Errorf("expected failed termination with sink error, got %+v", terms)
	}
}

func TestLoadSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.yaml")
	manifest := `
name: yolo-sweep
kind: hyperparam_search
trials: 4
epochs_per_trial: 3
epoch_duration: 5ms
optimize_metric: map50
param_space:
  lr: [0.1, 0.01]
seed: 11
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	spec, err := LoadSpec(path)
	if err != nil {
		t.Fatalf("LoadSpec() error = %v", err)
	}
	if spec.Name != "yolo-sweep" || spec.Kind != job.KindHyperparamSearch {
		t.Errorf("unexpected spec: %+v", spec)
	}
	if spec.Trials != 4 || spec.EpochsPerTrial != 3 {
		t.Errorf("unexpected counts: %+v", spec)
	}
	if spec.EpochDuration.Std() != 5*time.Millisecond {
		t.Errorf("expected 5ms epoch duration, got %v", spec.EpochDuration.Std())
	}
	if len(spec.ParamSpace["lr"]) != 2 {
		t.Errorf("param space not parsed: %+v", spec.ParamSpace)
	}

	md := spec.JobMetadata()
	if md["optimize_metric"] != "map50" {
		t.Errorf("expected optimize metric in metadata, got %+v", md)
	}
}

func TestLoadSpecDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.yaml")
	if err := os.WriteFile(path, []byte("name: quick\n"), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	spec, err := LoadSpec(path)
	if err != nil {
		t.Fatalf("LoadSpec() error = %v", err)
	}
	if spec.Kind != job.KindTraining || spec.Epochs != 10 {
		t.Errorf("defaults not applied: %+v", spec)
	}
	if spec.EpochDuration.Std() != time.Second {
		t.Errorf("expected 1s default epoch duration, got %v", spec.EpochDuration.Std())
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr error
	}{
		{"training ok", Spec{Kind: job.KindTraining, Epochs: 1}, nil},
		{"search ok", Spec{Kind: job.KindHyperparamSearch, Trials: 1, EpochsPerTrial: 1}, nil},
		{"bad kind", Spec{Kind: job.Kind("sweep"), Epochs: 1}, ErrInvalidKind},
		{"no epochs", Spec{Kind: job.KindTraining}, ErrInvalidEpochs},
		{"no trials", Spec{Kind: job.KindHyperparamSearch, EpochsPerTrial: 1}, ErrInvalidTrials},
		{"no trial epochs", Spec{Kind: job.KindHyperparamSearch, Trials: 2}, ErrInvalidEpochs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.spec.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSampleParamsDeterministic(t *testing.T) {
	space := map[string][]any{
		"lr":       {0.1, 0.01, 0.001},
		"momentum": {0.8, 0.9},
	}

	a := sampleParams(space, newRNG(99))
	b := sampleParams(space, newRNG(99))

	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("expected both params sampled, got %v / %v", a, b)
	}
	for k := range a {
		if a[k] != b[k] {
			t.Errorf("same seed should sample same params: %v vs %v", a, b)
		}
	}
}
