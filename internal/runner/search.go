// internal/runner/search.go
package runner

import (
	"context"
	"math/rand"
	"sort"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

// runSearch simulates a hyperparameter search: for each trial it samples a
// configuration from the param space, runs a nested epoch loop, then closes
// the trial with its final metrics so best-trial selection reruns.
func (r *Runner) runSearch(ctx context.Context, jobID string, spec *Spec) (map[string]any, error) {
	rng := newRNG(spec.Seed)
	metric := spec.OptimizeMetric
	if metric == "" {
		metric = job.DefaultOptimizeMetric
	}

	for trial := 1; trial <= spec.Trials; trial++ {
		params := sampleParams(spec.ParamSpace, rng)

		open := job.Event{
			Trial:       trial,
			TotalTrials: spec.Trials,
			TotalEpochs: spec.EpochsPerTrial,
			TrialParams: params,
		}
		if _, err := r.sink.ApplyEvent(jobID, open); err != nil {
			return nil, err
		}

		// Each configuration has its own ceiling; some trials are
		// simply better than others.
		ceiling := 0.45 + rng.Float64()*0.5
		score := 0.15 + rng.Float64()*0.1
		loss := 1.5 + rng.Float64()*0.5

		for epoch := 1; epoch <= spec.EpochsPerTrial; epoch++ {
			if err := tick(ctx, spec.EpochDuration.Std()); err != nil {
				return nil, err
			}

			score += (ceiling - score) * (0.2 + rng.Float64()*0.2)
			loss *= 0.85 + rng.Float64()*0.05

			ev := job.Event{
				Trial: trial,
				Epoch: epoch,
				Metrics: job.Metrics{
					metric: round4(score),
					"loss": round4(loss),
				},
			}
			if _, err := r.sink.ApplyEvent(jobID, ev); err != nil {
				return nil, err
			}
		}

		closeEv := job.Event{
			Trial:     trial,
			TrialDone: true,
			Metrics: job.Metrics{
				metric: round4(score),
				"loss": round4(loss),
			},
		}
		if _, err := r.sink.ApplyEvent(jobID, closeEv); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"trials_completed": spec.Trials,
		"optimize_metric":  metric,
	}, nil
}

// sampleParams picks one candidate value per hyperparameter. Keys are
// visited in sorted order so a fixed seed yields a fixed configuration.
func sampleParams(space map[string][]any, rng *rand.Rand) job.Params {
	if len(space) == 0 {
		return nil
	}
	keys := make([]string, 0, len(space))
	for k := range space {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make(job.Params, len(keys))
	for _, k := range keys {
		candidates := space[k]
		if len(candidates) == 0 {
			continue
		}
		params[k] = candidates[rng.Intn(len(candidates))]
	}
	return params
}
