// internal/ui/watch.go
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

const barWidth = 24

// WatchRenderer draws the live state of one job on a single terminal line,
// redrawn for every snapshot received from the progress stream. Terminal
// snapshots get a final multi-line summary instead.
type WatchRenderer struct {
	mu     sync.Mutex
	writer io.Writer
	start  time.Time
}

// NewWatchRenderer creates a renderer writing to stdout.
func NewWatchRenderer() *WatchRenderer {
	return &WatchRenderer{writer: os.Stdout, start: time.Now()}
}

// SetWriter sets the output writer
func (r *WatchRenderer) SetWriter(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writer = w
}

// Render redraws the live line for a snapshot. Terminal snapshots should go
// to Finish instead.
func (r *WatchRenderer) Render(snap job.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clearLine(r.writer)
	if snap.Status == job.StatusPending {
		fmt.Fprintf(r.writer, "%s %s %s", color.YellowString("◌"), snap.Name,
			color.HiBlackString("waiting for first progress..."))
		return
	}

	line := fmt.Sprintf("%s %s %s %s%s",
		color.CyanString("▸"),
		snap.Name,
		renderBar(snap.Progress.Percent),
		fmt.Sprintf("%3.0f%%", snap.Progress.Percent),
		counters(snap),
	)
	if m := metricsSummary(snap.Metrics, 3); m != "" {
		line += color.HiBlackString(" %s", m)
	}
	if snap.Error != "" {
		line += color.YellowString(" ⚠ %s", snap.Error)
	}
	fmt.Fprint(r.writer, line)
}

// Finish clears the live line and prints the terminal outcome.
func (r *WatchRenderer) Finish(snap job.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clearLine(r.writer)
	elapsed := formatDuration(time.Since(r.start))

	switch snap.Status {
	case job.StatusCompleted:
		fmt.Fprintf(r.writer, "%s %s completed in %s\n", color.GreenString("✓"), snap.Name, elapsed)
	case job.StatusFailed:
		reason := snap.Error
		if reason == "" {
			reason = "unknown error"
		}
		fmt.Fprintf(r.writer, "%s %s failed after %s: %s\n", color.RedString("✗"), snap.Name, elapsed, reason)
	default:
		fmt.Fprintf(r.writer, "%s %s is %s\n", color.YellowString("⚠"), snap.Name, snap.Status)
	}

	if m := metricsSummary(snap.Metrics, 6); m != "" {
		fmt.Fprintf(r.writer, "  final metrics: %s\n", m)
	}
	if snap.BestTrial > 0 {
		fmt.Fprintf(r.writer, "  best trial:    #%d %s\n", snap.BestTrial, paramsSummary(snap.BestParams))
		if m := metricsSummary(snap.BestMetrics, 6); m != "" {
			fmt.Fprintf(r.writer, "  best metrics:  %s\n", m)
		}
	}
	if len(snap.Result) > 0 {
		keys := make([]string, 0, len(snap.Result))
		for k := range snap.Result {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(r.writer, "  %s: %v\n", k, snap.Result[k])
		}
	}
}

// counters renders the epoch/trial position of a running snapshot.
func counters(snap job.Snapshot) string {
	if snap.Kind == job.KindHyperparamSearch && snap.TotalTrials > 0 {
		s := fmt.Sprintf(" trial %d/%d", snap.CurrentTrial, snap.TotalTrials)
		if snap.Progress.Unit == job.UnitEpochInTrial && snap.Progress.Total > 0 {
			s += fmt.Sprintf(" epoch %d/%d", snap.Progress.Current, snap.Progress.Total)
		}
		return s
	}
	if snap.TotalEpochs > 0 {
		return fmt.Sprintf(" epoch %d/%d", snap.CurrentEpoch, snap.TotalEpochs)
	}
	return ""
}

func renderBar(percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(barWidth))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	return color.HiBlackString("[%s]", bar)
}

// metricsSummary renders at most max metrics, alphabetical.
func metricsSummary(m job.Metrics, max int) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > max {
		keys = keys[:max]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.4g", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func paramsSummary(p job.Params) string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return "(" + strings.Join(parts, " ") + ")"
}
