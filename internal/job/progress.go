package job

// TrainingPercent computes completion for a plain training run.
func TrainingPercent(epoch, totalEpochs int) float64 {
	if totalEpochs <= 0 {
		return 0
	}
	return clampPercent(100 * float64(epoch) / float64(totalEpochs))
}

// SearchPercent folds the nested trial/epoch counters of a hyperparameter
// search into one overall figure:
//
//	100 * ((trial-1) + epoch/totalEpochs) / totalTrials
//
// With monotone counters the value never decreases: closing trial N lands on
// exactly the same percent as opening trial N+1.
func SearchPercent(trial, totalTrials, epoch, totalEpochs int) float64 {
	if totalTrials <= 0 {
		return 0
	}
	if trial <= 0 {
		trial = 1
	}
	within := 0.0
	if totalEpochs > 0 {
		within = float64(epoch) / float64(totalEpochs)
		if within > 1 {
			within = 1
		}
	}
	return clampPercent(100 * (float64(trial-1) + within) / float64(totalTrials))
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// computeProgress recomputes the aggregate progress from the record's
// counters. Recomputed inside every mutation so the change gate always
// compares fully aggregated snapshots, never raw counters.
func (j *Job) computeProgress() Progress {
	switch j.Kind {
	case KindHyperparamSearch:
		p := Progress{
			Current: j.CurrentEpoch,
			Total:   j.TotalEpochs,
			Unit:    UnitEpochInTrial,
			Percent: SearchPercent(j.CurrentTrial, j.TotalTrials, j.CurrentEpoch, j.TotalEpochs),
		}
		if j.atBoundary {
			p.Unit = UnitTrial
			p.Current = j.CurrentTrial
			p.Total = j.TotalTrials
		}
		if j.Status == StatusCompleted {
			p.Percent = 100
		}
		return p
	default:
		p := Progress{
			Current: j.CurrentEpoch,
			Total:   j.TotalEpochs,
			Unit:    UnitEpoch,
			Percent: TrainingPercent(j.CurrentEpoch, j.TotalEpochs),
		}
		if j.Status == StatusCompleted {
			p.Percent = 100
		}
		return p
	}
}
