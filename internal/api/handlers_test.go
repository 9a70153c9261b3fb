package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/logging"
	"github.com/traintrack-ai/traintrack-cli/internal/metrics"
	"github.com/traintrack-ai/traintrack-cli/internal/report"
	"github.com/traintrack-ai/traintrack-cli/internal/runner"
	"github.com/traintrack-ai/traintrack-cli/internal/store"
)

type env struct {
	handler *Handler
	router  *mux.Router
	store   *store.Store
	runner  *runner.Runner
}

func newEnv(t *testing.T) *env {
	t.Helper()

	log := logging.Discard()
	st := store.New(store.DefaultConfig(), logging.Component(log, "store"), nil)
	t.Cleanup(st.Close)
	run := runner.New(st, logging.Component(log, "runner"))

	h := NewHandler(context.Background(), st, run, logging.Component(log, "api"))
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	return &env{handler: h, router: r, store: st, runner: run}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) createExternal(t *testing.T, name string) job.Snapshot {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"name":     name,
		"kind":     "training",
		"epochs":   4,
		"external": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var snap job.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCreateJobRunsToCompletion(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/jobs", map[string]any{
		"name":           "demo-train",
		"kind":           "training",
		"epochs":         3,
		"epoch_duration": "5ms",
		"seed":           7,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var snap job.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.ID == "" {
		t.Fatal("snapshot has empty id")
	}
	if snap.Kind != job.KindTraining {
		t.Errorf("Kind = %q, want training", snap.Kind)
	}

	waitFor(t, 3*time.Second, func() bool {
		got, err := e.store.GetSnapshot(snap.ID)
		return err == nil && got.Status == job.StatusCompleted
	})

	got, err := e.store.GetSnapshot(snap.ID)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if got.Progress.Percent != 100 {
		t.Errorf("Progress.Percent = %v, want 100", got.Progress.Percent)
	}
	if got.Result["model_path"] == nil {
		t.Error("Result missing model_path")
	}
}

func TestCreateJobExternalHasNoDriver(t *testing.T) {
	e := newEnv(t)

	snap := e.createExternal(t, "external-train")
	if snap.Status != job.StatusPending {
		t.Errorf("Status = %q, want pending", snap.Status)
	}
	if n := e.runner.Running(); n != 0 {
		t.Errorf("Running() = %d, want 0", n)
	}
}

func TestCreateJobInvalidKind(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/jobs", map[string]any{"kind": "sweep"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateJobMalformedBody(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/jobs", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/jobs/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestPostEventUpdatesJob(t *testing.T) {
	e := newEnv(t)
	snap := e.createExternal(t, "fed-externally")

	w := e.do(t, http.MethodPost, "/api/jobs/"+snap.ID+"/events", map[string]any{
		"epoch":        1,
		"total_epochs": 4,
		"metrics":      map[string]float64{"loss": 0.5},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var got job.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.Status != job.StatusRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.Progress.Percent != 25 {
		t.Errorf("Progress.Percent = %v, want 25", got.Progress.Percent)
	}
}

func TestPostEventAfterTerminateConflicts(t *testing.T) {
	e := newEnv(t)
	snap := e.createExternal(t, "short-lived")

	if w := e.do(t, http.MethodPost, "/api/jobs/"+snap.ID+"/terminate", nil); w.Code != http.StatusOK {
		t.Fatalf("terminate status = %d", w.Code)
	}

	w := e.do(t, http.MethodPost, "/api/jobs/"+snap.ID+"/events", map[string]any{
		"metrics": map[string]float64{"loss": 0.1},
	})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestTerminateDefaultsToFailed(t *testing.T) {
	e := newEnv(t)
	snap := e.createExternal(t, "doomed")

	w := e.do(t, http.MethodPost, "/api/jobs/"+snap.ID+"/terminate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var got job.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.Status != job.StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.Error != "terminated by operator" {
		t.Errorf("Error = %q, want terminated by operator", got.Error)
	}

	// Terminal is sticky.
	if w := e.do(t, http.MethodPost, "/api/jobs/"+snap.ID+"/terminate", nil); w.Code != http.StatusConflict {
		t.Errorf("second terminate status = %d, want 409", w.Code)
	}
}

func TestTerminateCompletedWithResult(t *testing.T) {
	e := newEnv(t)
	snap := e.createExternal(t, "finished-externally")

	w := e.do(t, http.MethodPost, "/api/jobs/"+snap.ID+"/terminate", map[string]any{
		"status": "completed",
		"result": map[string]any{"model_path": "weights.pt"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var got job.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Result["model_path"] != "weights.pt" {
		t.Errorf("Result[model_path] = %v, want weights.pt", got.Result["model_path"])
	}
	if got.Progress.Percent != 100 {
		t.Errorf("Progress.Percent = %v, want 100", got.Progress.Percent)
	}
}

func TestTerminateRejectsNonTerminalStatus(t *testing.T) {
	e := newEnv(t)
	snap := e.createExternal(t, "paused-attempt")

	w := e.do(t, http.MethodPost, "/api/jobs/"+snap.ID+"/terminate", map[string]any{"status": "paused"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestTerminateUnknownJob(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/jobs/nope/terminate", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	e := newEnv(t)
	snap := e.createExternal(t, "history")

	for _, loss := range []float64{0.5, 0.3} {
		w := e.do(t, http.MethodPost, "/api/jobs/"+snap.ID+"/events", map[string]any{
			"metrics": map[string]float64{"loss": loss},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("event status = %d", w.Code)
		}
	}

	w := e.do(t, http.MethodGet, "/api/jobs/"+snap.ID+"/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		JobID   string `json:"job_id"`
		Count   int    `json:"count"`
		Entries []struct {
			Seq     uint64             `json:"seq"`
			Metrics map[string]float64 `json:"metrics"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("Count = %d, want 2", resp.Count)
	}
	if resp.Entries[1].Metrics["loss"] != 0.3 {
		t.Errorf("last history loss = %v, want 0.3", resp.Entries[1].Metrics["loss"])
	}
}

func TestListJobs(t *testing.T) {
	e := newEnv(t)
	e.createExternal(t, "one")
	e.createExternal(t, "two")

	w := e.do(t, http.MethodGet, "/api/jobs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Count int            `json:"count"`
		Jobs  []job.Snapshot `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Jobs) != 2 {
		t.Errorf("count = %d, jobs = %d, want 2", resp.Count, len(resp.Jobs))
	}
}

func TestReportEndpoints(t *testing.T) {
	e := newEnv(t)

	rep, err := report.Open(filepath.Join(t.TempDir(), "reports.db"))
	if err != nil {
		t.Fatalf("report.Open() error = %v", err)
	}
	t.Cleanup(func() { rep.Close() })
	e.store.SetArchiver(rep)
	e.handler.SetReports(rep)

	snap := e.createExternal(t, "archived")
	w := e.do(t, http.MethodPost, "/api/jobs/"+snap.ID+"/terminate", map[string]any{
		"status": "completed",
		"result": map[string]any{"model_path": "weights.pt"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("terminate status = %d", w.Code)
	}

	w = e.do(t, http.MethodGet, "/api/reports/"+snap.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("report status = %d, body %s", w.Code, w.Body.String())
	}
	var got report.Report
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Errorf("report Status = %q, want completed", got.Status)
	}

	w = e.do(t, http.MethodGet, "/api/reports", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("report count = %d, want 1", list.Count)
	}

	if w := e.do(t, http.MethodGet, "/api/reports/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing report status = %d, want 404", w.Code)
	}
}

func TestReportsDisabled(t *testing.T) {
	e := newEnv(t)

	if w := e.do(t, http.MethodGet, "/api/reports", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)
	e.createExternal(t, "alive")

	w := e.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["jobs"] != float64(1) {
		t.Errorf("jobs = %v, want 1", resp["jobs"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)

	// Disabled until a registry is attached.
	if w := e.do(t, http.MethodGet, "/metrics", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	e.handler.SetMetrics(metrics.NewSet())
	w := e.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "traintrack_ws_connections_total") {
		t.Error("exposition output missing traintrack_ws_connections_total")
	}
}

func TestNewServerDefaults(t *testing.T) {
	h := NewHandler(context.Background(), nil, nil, logging.Component(logging.Discard(), "api"))
	s := NewServer(Config{}, h, logging.Component(logging.Discard(), "api"))

	if s.config.Port != 8080 {
		t.Errorf("default Port = %d, want 8080", s.config.Port)
	}
	if s.config.ReadTimeout != 30*time.Second {
		t.Errorf("default ReadTimeout = %v", s.config.ReadTimeout)
	}
}
