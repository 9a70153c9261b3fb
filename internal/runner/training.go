// internal/runner/training.go
package runner

import (
	"context"
	"fmt"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

// runTraining simulates a single training run: loss decays, accuracy and
// mAP@50 climb, one event per epoch.
func (r *Runner) runTraining(ctx context.Context, jobID string, spec *Spec) (map[string]any, error) {
	rng := newRNG(spec.Seed)

	loss := 1.8 + rng.Float64()*0.6
	accuracy := 0.25 + rng.Float64()*0.1
	map50 := 0.20 + rng.Float64()*0.1

	for epoch := 1; epoch <= spec.Epochs; epoch++ {
		if err := tick(ctx, spec.EpochDuration.Std()); err != nil {
			return nil, err
		}

		loss *= 0.82 + rng.Float64()*0.08
		accuracy += (0.97 - accuracy) * (0.15 + rng.Float64()*0.15)
		map50 += (0.92 - map50) * (0.12 + rng.Float64()*0.12)

		ev := job.Event{
			Epoch:       epoch,
			TotalEpochs: spec.Epochs,
			Metrics: job.Metrics{
				"loss":     round4(loss),
				"accuracy": round4(accuracy),
				"map50":    round4(map50),
			},
		}
		if _, err := r.sink.ApplyEvent(jobID, ev); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"epochs":     spec.Epochs,
		"final_loss": round4(loss),
		"map50":      round4(map50),
		"model_path": fmt.Sprintf("runs/%s/weights/best.pt", jobID),
	}, nil
}
