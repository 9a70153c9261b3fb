package job

import (
	"math"
	"strings"
)

// Change gate thresholds. Primary and secondary quality metrics share one
// epsilon; resource utilization metrics move in whole percentage points and
// get a much coarser one.
const (
	MetricEpsilon   = 0.001
	ResourceEpsilon = 5.0
)

// IsResourceMetric classifies a metric name as resource utilization
// (cpu_percent, memory_percent, gpu_percent, ...).
func IsResourceMetric(name string) bool {
	return strings.HasSuffix(name, "_percent")
}

// ShouldPropagate decides whether next differs significantly from the last
// snapshot broadcast for the same job. It is a pure function of its two
// arguments, applied once per event per job: every observer of a job sees
// the same update cadence.
//
// Propagate when the status changed, the progress unit kind changed, or any
// metric moved by more than its class threshold. A nil prev (nothing
// broadcast yet) always propagates.
func ShouldPropagate(prev *Snapshot, next Snapshot) bool {
	if prev == nil {
		return true
	}
	if prev.Status != next.Status {
		return true
	}
	if prev.Progress.Unit != next.Progress.Unit {
		return true
	}
	return metricsChanged(prev.Metrics, next.Metrics)
}

func metricsChanged(prev, next Metrics) bool {
	for name, nv := range next {
		pv, ok := prev[name]
		if !ok {
			return true
		}
		if math.Abs(nv-pv) > threshold(name) {
			return true
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			return true
		}
	}
	return false
}

func threshold(name string) float64 {
	if IsResourceMetric(name) {
		return ResourceEpsilon
	}
	return MetricEpsilon
}
