package job

import (
	"fmt"
	"time"
)

// Job is the single authoritative, mutable record for one tracked job. It is
// owned by the store, which serializes all mutations per job id; nothing
// outside the store may hold a *Job.
type Job struct {
	ID        string
	Kind      Kind
	Name      string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time

	Metrics  Metrics
	Progress Progress
	Error    string
	Result   map[string]any

	CurrentEpoch int
	TotalEpochs  int

	Trials         []Trial
	CurrentTrial   int
	TotalTrials    int
	BestTrial      int
	OptimizeMetric string

	Metadata map[string]any

	// atBoundary is true between a trial closing and the next epoch of the
	// following trial, so the progress unit reads "trial" exactly there.
	atBoundary bool
}

// New creates a pending job record.
func New(id string, kind Kind, name string, metadata map[string]any) *Job {
	now := time.Now().UTC()
	j := &Job{
		ID:             id,
		Kind:           kind,
		Name:           name,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		Metrics:        make(Metrics),
		Metadata:       cloneAny(metadata),
		OptimizeMetric: DefaultOptimizeMetric,
		atBoundary:     true,
	}
	if m, ok := metadata["optimize_metric"].(string); ok && m != "" {
		j.OptimizeMetric = m
	}
	j.Progress = j.computeProgress()
	return j
}

// Apply folds one runner event into the record and recomputes the aggregate
// progress. The caller must hold the job's lock and must have rejected
// terminal jobs already; Apply only validates explicit status transitions.
func (j *Job) Apply(ev Event, now time.Time) error {
	if ev.Status != "" {
		if err := ValidateTransition(j.Status, ev.Status); err != nil {
			return err
		}
		j.Status = ev.Status
	} else if j.Status == StatusPending && ev.carriesProgress() {
		// First progress report from the runner implies the job started.
		j.Status = StatusRunning
	}

	// Soft error detail lives for exactly one snapshot: every event
	// rewrites it, so an empty Error on the next event clears it.
	j.Error = ev.Error

	if ev.TotalEpochs > 0 {
		j.TotalEpochs = ev.TotalEpochs
	}
	if ev.TotalTrials > 0 {
		j.TotalTrials = ev.TotalTrials
	}

	if j.Kind == KindHyperparamSearch && ev.Trial > 0 {
		j.advanceTrial(ev)
	}

	if ev.Epoch > 0 {
		// Counters never move backwards within the active unit.
		if ev.Epoch > j.CurrentEpoch {
			j.CurrentEpoch = ev.Epoch
		}
		j.atBoundary = false
	}

	for k, v := range ev.Metrics {
		j.Metrics[k] = v
	}

	if ev.TrialDone && j.Kind == KindHyperparamSearch {
		j.closeTrial(ev)
	}

	j.UpdatedAt = now
	j.Progress = j.computeProgress()
	return nil
}

// Terminate moves the job to a terminal status with an optional result
// payload (completed) or error detail (failed).
func (j *Job) Terminate(status Status, result map[string]any, errDetail string, now time.Time) error {
	if !IsTerminal(status) {
		return fmt.Errorf("%w: %s is not a terminal status", ErrInvalidTransition, status)
	}
	if err := ValidateTransition(j.Status, status); err != nil {
		return err
	}
	j.Status = status
	j.Result = cloneAny(result)
	j.Error = errDetail
	j.UpdatedAt = now
	if status == StatusCompleted && j.Kind == KindTraining && j.TotalEpochs > 0 {
		j.CurrentEpoch = j.TotalEpochs
	}
	j.Progress = j.computeProgress()
	return nil
}

// advanceTrial opens a new trial when the event names an index beyond the
// known sequence. Trials are append-only; an already-known index just makes
// that trial current again.
func (j *Job) advanceTrial(ev Event) {
	if ev.Trial <= j.CurrentTrial {
		j.CurrentTrial = max(j.CurrentTrial, ev.Trial)
		return
	}
	for next := len(j.Trials) + 1; next <= ev.Trial; next++ {
		t := Trial{Index: next, Status: StatusRunning}
		if next == ev.Trial {
			t.Params = ev.TrialParams.clone()
		}
		j.Trials = append(j.Trials, t)
	}
	j.CurrentTrial = ev.Trial
	j.CurrentEpoch = 0
	j.atBoundary = true
}

// closeTrial marks the current trial complete, records its final metrics and
// reruns best-trial selection.
func (j *Job) closeTrial(ev Event) {
	if j.CurrentTrial == 0 || j.CurrentTrial > len(j.Trials) {
		return
	}
	t := &j.Trials[j.CurrentTrial-1]
	t.Status = StatusCompleted
	if len(ev.Metrics) > 0 {
		t.Metrics = ev.Metrics.clone()
	}
	j.atBoundary = true
	if best := SelectBest(j.Trials, j.OptimizeMetric); best != 0 {
		j.BestTrial = best
	}
}

// SelectBest returns the 1-based index of the completed trial with the
// highest value of the given metric, or 0 when no completed trial carries
// it. Ties keep the earliest trial: only a strictly better value replaces
// the current best.
func SelectBest(trials []Trial, metric string) int {
	best := 0
	bestVal := 0.0
	for i := range trials {
		t := &trials[i]
		if t.Status != StatusCompleted {
			continue
		}
		v, ok := t.Metrics[metric]
		if !ok {
			continue
		}
		if best == 0 || v > bestVal {
			best = t.Index
			bestVal = v
		}
	}
	return best
}

// bestTrialRef returns the best trial by index, or nil.
func (j *Job) bestTrialRef() *Trial {
	if j.BestTrial == 0 || j.BestTrial > len(j.Trials) {
		return nil
	}
	return &j.Trials[j.BestTrial-1]
}

// Snapshot returns a deep, immutable copy of the record.
func (j *Job) Snapshot() Snapshot {
	s := Snapshot{
		ID:             j.ID,
		Kind:           j.Kind,
		Name:           j.Name,
		Status:         j.Status,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		Metrics:        j.Metrics.clone(),
		Progress:       j.Progress,
		Error:          j.Error,
		Result:         cloneAny(j.Result),
		CurrentEpoch:   j.CurrentEpoch,
		TotalEpochs:    j.TotalEpochs,
		CurrentTrial:   j.CurrentTrial,
		TotalTrials:    j.TotalTrials,
		BestTrial:      j.BestTrial,
		OptimizeMetric: j.OptimizeMetric,
		Metadata:       cloneAny(j.Metadata),
	}
	if len(j.Trials) > 0 {
		s.Trials = make([]Trial, len(j.Trials))
		for i := range j.Trials {
			s.Trials[i] = j.Trials[i].clone()
		}
	}
	if best := j.bestTrialRef(); best != nil {
		s.BestParams = best.Params.clone()
		s.BestMetrics = best.Metrics.clone()
	}
	return s
}

func (ev Event) carriesProgress() bool {
	return ev.Epoch > 0 || ev.Trial > 0 || len(ev.Metrics) > 0
}
