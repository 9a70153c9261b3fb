// Package runner drives synthetic job executions: a training loop or a
// hyperparameter search that emits progress events into the job store at a
// configurable cadence, plus an optional host resource sampler. It stands in
// for a real training backend so the broadcast pipeline has something live
// to stream.
package runner

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

// Runner errors
var (
	// ErrJobAlreadyRunning indicates a driver is already attached to the job
	ErrJobAlreadyRunning = errors.New("job is already running")

	// ErrJobNotRunning indicates no driver is attached to the job
	ErrJobNotRunning = errors.New("job is not running")
)

// EventSink is the runner's view of the job store.
type EventSink interface {
	ApplyEvent(id string, ev job.Event) (job.Snapshot, error)
	Terminate(id string, status job.Status, result map[string]any, errDetail string) (job.Snapshot, error)
}

// Runner manages the driver goroutines of live jobs.
type Runner struct {
	sink EventSink
	log  *logrus.Entry

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a runner that reports into the given sink.
func New(sink EventSink, log *logrus.Entry) *Runner {
	return &Runner{
		sink:    sink,
		running: make(map[string]context.CancelFunc),
		log:     log,
	}
}

// Start launches the driver for a job in the background. The job must
// already exist in the store; the driver promotes it to running with its
// first event.
func (r *Runner) Start(ctx context.Context, jobID string, spec *Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.running[jobID]; ok {
		r.mu.Unlock()
		return ErrJobAlreadyRunning
	}
	jobCtx, cancel := context.WithCancel(ctx)
	r.running[jobID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.execute(jobCtx, jobID, spec)

	if spec.SampleResources {
		sampler := NewSampler(r.sink, spec.ResourceInterval.Std(), r.log)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			sampler.Run(jobCtx, jobID)
		}()
	}

	r.log.WithFields(logrus.Fields{"job_id": jobID, "kind": spec.Kind}).Info("runner started")
	return nil
}

// execute runs the driver to completion and settles the job's terminal state.
func (r *Runner) execute(ctx context.Context, jobID string, spec *Spec) {
	defer r.wg.Done()
	defer r.detach(jobID)

	var (
		result map[string]any
		err    error
	)
	switch spec.Kind {
	case job.KindHyperparamSearch:
		result, err = r.runSearch(ctx, jobID, spec)
	default:
		result, err = r.runTraining(ctx, jobID, spec)
	}

	var status job.Status
	var detail string
	switch {
	case err == nil:
		status = job.StatusCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status, detail = job.StatusFailed, "job canceled"
		result = nil
	default:
		status, detail = job.StatusFailed, err.Error()
		result = nil
	}

	// The job may have been terminated out from under the driver (API
	// terminate, eviction); a rejected settle is expected then.
	if _, terr := r.sink.Terminate(jobID, status, result, detail); terr != nil {
		r.log.WithError(terr).WithField("job_id", jobID).Debug("terminal settle skipped")
		return
	}
	r.log.WithFields(logrus.Fields{"job_id": jobID, "status": status}).Info("runner finished")
}

// Stop cancels the driver of one job.
func (r *Runner) Stop(jobID string) error {
	r.mu.Lock()
	cancel, ok := r.running[jobID]
	r.mu.Unlock()
	if !ok {
		return ErrJobNotRunning
	}
	cancel()
	return nil
}

// StopAll cancels every driver.
func (r *Runner) StopAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.running))
	for _, cancel := range r.running {
		cancels = append(cancels, cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Wait blocks until all drivers have settled.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Running returns the number of attached drivers.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

func (r *Runner) detach(jobID string) {
	r.mu.Lock()
	if cancel, ok := r.running[jobID]; ok {
		delete(r.running, jobID)
		cancel()
	}
	r.mu.Unlock()
}

// newRNG seeds the synthetic metric stream.
func newRNG(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// round4 trims synthetic metrics to four decimals so frames stay readable.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// tick sleeps one reporting interval or fails fast on cancellation.
func tick(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
