// internal/runner/sampler.go
package runner

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

// Sampler folds host resource usage into a job's metric stream. Resource
// metrics use the _percent suffix, so the change gate holds them to the
// coarser five-point threshold instead of the metric epsilon.
type Sampler struct {
	sink     EventSink
	interval time.Duration
	log      *logrus.Entry
}

// NewSampler creates a resource sampler.
func NewSampler(sink EventSink, interval time.Duration, log *logrus.Entry) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sampler{
		sink:     sink,
		interval: interval,
		log:      log,
	}
}

// Run reports until the context is canceled or the job stops accepting
// events (it terminated or was evicted).
func (s *Sampler) Run(ctx context.Context, jobID string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics := s.sample()
			if len(metrics) == 0 {
				continue
			}
			if _, err := s.sink.ApplyEvent(jobID, job.Event{Metrics: metrics}); err != nil {
				s.log.WithError(err).WithField("job_id", jobID).Debug("resource sampler detaching")
				return
			}
		}
	}
}

// sample reads host CPU and memory usage.
func (s *Sampler) sample() job.Metrics {
	metrics := make(job.Metrics, 2)

	if percentages, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percentages) > 0 {
		metrics["cpu_percent"] = round4(percentages[0])
	}
	if v, err := mem.VirtualMemory(); err == nil {
		metrics["memory_percent"] = round4(v.UsedPercent)
	}
	return metrics
}
