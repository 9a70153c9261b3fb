// Package job defines the domain model for tracked jobs: training runs and
// hyperparameter searches, their state machine, progress aggregation, and the
// change gate that decides which snapshots are worth broadcasting.
//
// The mutable Job record is owned exclusively by the store package; everything
// observers and collaborators see is an immutable Snapshot taken under the
// store's per-job lock.
package job

import "time"

// Kind identifies what sort of work a job performs.
type Kind string

const (
	// KindTraining is a single model training run (one epoch loop).
	KindTraining Kind = "training"

	// KindHyperparamSearch is a search over parameter configurations,
	// each trial running its own nested epoch loop.
	KindHyperparamSearch Kind = "hyperparam_search"
)

// Status is the lifecycle state of a job or of one trial.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Progress unit kinds reported to observers.
const (
	// UnitEpoch is used for training jobs.
	UnitEpoch = "epoch"

	// UnitEpochInTrial is used for searches while a trial is mid-flight.
	UnitEpochInTrial = "epoch_in_trial"

	// UnitTrial is used for searches at trial boundaries.
	UnitTrial = "trial"
)

// DefaultOptimizeMetric is the metric used for best-trial selection when a
// search does not name one.
const DefaultOptimizeMetric = "map50"

// Metrics maps a metric name to its latest numeric value.
type Metrics map[string]float64

// Params maps a hyperparameter name to its configured value.
type Params map[string]any

// Progress is the aggregated completion figure for a job.
type Progress struct {
	// Current is the index within the current unit (epoch or epoch-in-trial).
	Current int `json:"current"`

	// Total is the number of units the current counter runs to.
	Total int `json:"total"`

	// Percent is the overall completion in [0,100].
	Percent float64 `json:"percent"`

	// Unit is one of UnitEpoch, UnitEpochInTrial, UnitTrial.
	Unit string `json:"unit"`
}

// Trial is one parameter configuration inside a hyperparameter search.
// Trials are append-only and ordered by Index (1-based).
type Trial struct {
	Index   int     `json:"index"`
	Params  Params  `json:"params,omitempty"`
	Metrics Metrics `json:"metrics,omitempty"`
	Status  Status  `json:"status"`
}

// Event is one raw progress report from the job runner. Zero-valued fields
// are "no change"; counters are 1-based.
type Event struct {
	// Status optionally signals a state transition. Empty keeps the
	// current status (a progress event on a pending job still promotes it
	// to running).
	Status Status `json:"status,omitempty"`

	// Metrics are merged into the job's latest metric map.
	Metrics Metrics `json:"metrics,omitempty"`

	// Epoch is the current epoch; for searches it counts within the
	// active trial.
	Epoch       int `json:"epoch,omitempty"`
	TotalEpochs int `json:"total_epochs,omitempty"`

	// Trial marks the active trial of a search. A Trial index beyond the
	// known sequence starts a new trial with TrialParams.
	Trial       int    `json:"trial,omitempty"`
	TotalTrials int    `json:"total_trials,omitempty"`
	TrialParams Params `json:"trial_params,omitempty"`

	// TrialDone marks the active trial complete; Metrics then carry its
	// final values and best-trial selection reruns.
	TrialDone bool `json:"trial_done,omitempty"`

	// Error is a soft, non-fatal error detail. The job stays running and
	// the detail is visible for exactly one snapshot.
	Error string `json:"error,omitempty"`
}

// Snapshot is an immutable point-in-time copy of a job's state. All maps and
// slices are deep-copied, so a Snapshot never aliases live job state.
type Snapshot struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Metrics  Metrics  `json:"metrics,omitempty"`
	Progress Progress `json:"progress"`

	// Error carries a soft error detail while running, or the terminal
	// failure reason once failed.
	Error string `json:"error,omitempty"`

	// Result is the final payload set at termination.
	Result map[string]any `json:"result,omitempty"`

	CurrentEpoch int `json:"current_epoch,omitempty"`
	TotalEpochs  int `json:"total_epochs,omitempty"`

	// Search state. BestTrial is the 1-based index of the best completed
	// trial, 0 while none has completed.
	Trials         []Trial `json:"trials,omitempty"`
	CurrentTrial   int     `json:"current_trial,omitempty"`
	TotalTrials    int     `json:"total_trials,omitempty"`
	BestTrial      int     `json:"best_trial,omitempty"`
	BestParams     Params  `json:"best_params,omitempty"`
	BestMetrics    Metrics `json:"best_metrics,omitempty"`
	OptimizeMetric string  `json:"optimize_metric,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// CurrentTrialInfo describes the active trial of a search snapshot for the
// wire protocol's current_trial_info object. Nil for training jobs or when
// no trial has started.
func (s *Snapshot) CurrentTrialInfo() *Trial {
	if s.Kind != KindHyperparamSearch || s.CurrentTrial == 0 {
		return nil
	}
	for i := range s.Trials {
		if s.Trials[i].Index == s.CurrentTrial {
			t := s.Trials[i].clone()
			return &t
		}
	}
	return nil
}

// Terminal reports whether the snapshot's status is a terminal one.
func (s *Snapshot) Terminal() bool {
	return IsTerminal(s.Status)
}

func (m Metrics) clone() Metrics {
	if m == nil {
		return nil
	}
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (p Params) clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (t Trial) clone() Trial {
	t.Params = t.Params.clone()
	t.Metrics = t.Metrics.clone()
	return t
}

func cloneAny(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
