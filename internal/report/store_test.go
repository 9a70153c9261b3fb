package report

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/traintrack-ai/traintrack-cli/internal/history"
	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "reports.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func completedSnap(id string, finished time.Time) job.Snapshot {
	return job.Snapshot{
		ID:        id,
		Kind:      job.KindTraining,
		Name:      "yolo-finetune",
		Status:    job.StatusCompleted,
		CreatedAt: finished.Add(-10 * time.Minute),
		UpdatedAt: finished,
		Metrics:   job.Metrics{"loss": 0.12, "map50": 0.91},
		Progress:  job.Progress{Percent: 100, Unit: "epoch"},
		Result:    map[string]any{"model_path": "runs/" + id + "/weights/best.pt"},
	}
}

func TestArchiveAndGet(t *testing.T) {
	s := openTestStore(t)

	finished := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := completedSnap("job-1", finished)
	entries := []history.Entry{
		{Seq: 1, Metrics: job.Metrics{"loss": 0.5}, Timestamp: finished.Add(-2 * time.Minute)},
		{Seq: 2, Metrics: job.Metrics{"loss": 0.12}, Timestamp: finished},
	}

	if err := s.Archive(snap, entries); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	r, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if r.JobID != "job-1" {
		t.Errorf("JobID = %q, want %q", r.JobID, "job-1")
	}
	if r.Kind != job.KindTraining {
		t.Errorf("Kind = %q, want %q", r.Kind, job.KindTraining)
	}
	if r.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want %q", r.Status, job.StatusCompleted)
	}
	if !r.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", r.FinishedAt, finished)
	}
	if r.Snapshot.Progress.Percent != 100 {
		t.Errorf("Snapshot.Progress.Percent = %v, want 100", r.Snapshot.Progress.Percent)
	}
	if got, ok := r.Snapshot.Result["model_path"].(string); !ok || got == "" {
		t.Errorf("Snapshot.Result[model_path] = %v, want non-empty string", r.Snapshot.Result["model_path"])
	}
	if len(r.History) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(r.History))
	}
	if r.History[0].Seq != 1 || r.History[1].Seq != 2 {
		t.Errorf("history seqs = %d,%d, want 1,2", r.History[0].Seq, r.History[1].Seq)
	}
	if r.History[1].Metrics["loss"] != 0.12 {
		t.Errorf("History[1].Metrics[loss] = %v, want 0.12", r.History[1].Metrics["loss"])
	}
}

func TestArchiveDuplicateIgnored(t *testing.T) {
	s := openTestStore(t)

	finished := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	first := completedSnap("job-1", finished)
	if err := s.Archive(first, nil); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	// A second archive for the same job must not overwrite the first.
	second := first
	second.Status = job.StatusFailed
	if err := s.Archive(second, nil); err != nil {
		t.Fatalf("Archive() duplicate error = %v", err)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	r, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if r.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want original %q", r.Status, job.StatusCompleted)
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Get("nope"); err != ErrReportNotFound {
		t.Errorf("Get() error = %v, want ErrReportNotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		snap := completedSnap(id, base.Add(time.Duration(i)*time.Minute))
		if err := s.Archive(snap, nil); err != nil {
			t.Fatalf("Archive(%s) error = %v", id, err)
		}
	}

	reports, err := s.List(2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("len(reports) = %d, want 2", len(reports))
	}
	if reports[0].JobID != "job-c" || reports[1].JobID != "job-b" {
		t.Errorf("order = %s,%s, want job-c,job-b", reports[0].JobID, reports[1].JobID)
	}
}

func TestFailedJobErrorPersisted(t *testing.T) {
	s := openTestStore(t)

	finished := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := completedSnap("job-err", finished)
	snap.Status = job.StatusFailed
	snap.Error = "CUDA out of memory"
	snap.Result = nil

	if err := s.Archive(snap, nil); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	r, err := s.Get("job-err")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if r.Error != "CUDA out of memory" {
		t.Errorf("Error = %q, want %q", r.Error, "CUDA out of memory")
	}
	if r.Status != job.StatusFailed {
		t.Errorf("Status = %q, want failed", r.Status)
	}
}
