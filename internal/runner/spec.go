// internal/runner/spec.go
package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

// Spec errors
var (
	// ErrInvalidKind indicates the manifest names an unsupported job kind
	ErrInvalidKind = errors.New("spec kind must be training or hyperparam_search")

	// ErrInvalidEpochs indicates the epoch count is too low
	ErrInvalidEpochs = errors.New("epochs must be at least 1")

	// ErrInvalidTrials indicates the trial count is too low for a search
	ErrInvalidTrials = errors.New("trials must be at least 1")
)

// Duration wraps time.Duration so manifests can say "500ms" or "2s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a Go duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON parses a Go duration string, so REST bodies use the same
// "500ms" form as YAML manifests.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the duration as a Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Spec is a job manifest: what to run and how fast to report.
type Spec struct {
	// Name labels the job for humans.
	Name string `yaml:"name" json:"name"`

	// Kind selects the driver: training or hyperparam_search.
	Kind job.Kind `yaml:"kind" json:"kind"`

	// Epochs is the epoch count for a training run.
	Epochs int `yaml:"epochs" json:"epochs"`

	// EpochDuration is how long one epoch takes to simulate.
	EpochDuration Duration `yaml:"epoch_duration" json:"epoch_duration"`

	// Trials is the trial count for a hyperparameter search.
	Trials int `yaml:"trials,omitempty" json:"trials,omitempty"`

	// EpochsPerTrial is the nested epoch count of each trial.
	EpochsPerTrial int `yaml:"epochs_per_trial,omitempty" json:"epochs_per_trial,omitempty"`

	// OptimizeMetric names the metric best-trial selection maximizes.
	OptimizeMetric string `yaml:"optimize_metric,omitempty" json:"optimize_metric,omitempty"`

	// ParamSpace lists candidate values per hyperparameter; each trial
	// samples one value per key.
	ParamSpace map[string][]any `yaml:"param_space,omitempty" json:"param_space,omitempty"`

	// Seed makes the synthetic metric stream reproducible. Zero seeds
	// from the clock.
	Seed int64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	// SampleResources attaches a host resource sampler to the job.
	SampleResources bool `yaml:"sample_resources,omitempty" json:"sample_resources,omitempty"`

	// ResourceInterval is how often the sampler reports.
	ResourceInterval Duration `yaml:"resource_interval,omitempty" json:"resource_interval,omitempty"`

	// Metadata is attached verbatim to the created job.
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// LoadSpec reads and validates a YAML job manifest.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec: %w", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse spec: %w", err)
	}
	spec.ApplyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ApplyDefaults fills the optional knobs.
func (s *Spec) ApplyDefaults() {
	if s.Kind == "" {
		s.Kind = job.KindTraining
	}
	if s.Name == "" {
		s.Name = string(s.Kind)
	}
	if s.Epochs == 0 {
		s.Epochs = 10
	}
	if s.EpochDuration == 0 {
		s.EpochDuration = Duration(time.Second)
	}
	if s.Kind == job.KindHyperparamSearch {
		if s.Trials == 0 {
			s.Trials = 5
		}
		if s.EpochsPerTrial == 0 {
			s.EpochsPerTrial = s.Epochs
		}
		if s.OptimizeMetric == "" {
			s.OptimizeMetric = job.DefaultOptimizeMetric
		}
	}
	if s.ResourceInterval == 0 {
		s.ResourceInterval = Duration(5 * time.Second)
	}
}

// Validate checks that the manifest is runnable.
func (s *Spec) Validate() error {
	switch s.Kind {
	case job.KindTraining:
		if s.Epochs < 1 {
			return ErrInvalidEpochs
		}
	case job.KindHyperparamSearch:
		if s.Trials < 1 {
			return ErrInvalidTrials
		}
		if s.EpochsPerTrial < 1 {
			return ErrInvalidEpochs
		}
	default:
		return ErrInvalidKind
	}
	return nil
}

// JobMetadata returns the metadata to attach to the created job, including
// the optimize metric for searches.
func (s *Spec) JobMetadata() map[string]any {
	md := make(map[string]any, len(s.Metadata)+1)
	for k, v := range s.Metadata {
		md[k] = v
	}
	if s.Kind == job.KindHyperparamSearch && s.OptimizeMetric != "" {
		md["optimize_metric"] = s.OptimizeMetric
	}
	return md
}
