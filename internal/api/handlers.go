// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/metrics"
	"github.com/traintrack-ai/traintrack-cli/internal/report"
	"github.com/traintrack-ai/traintrack-cli/internal/runner"
	"github.com/traintrack-ai/traintrack-cli/internal/store"
)

// Streamer reports live streaming state for the health endpoint.
type Streamer interface {
	ObserverCount() int
	Addr() string
}

// CreateJobRequest is the POST /api/jobs body: a job manifest plus control
// over whether the built-in runner drives it.
type CreateJobRequest struct {
	runner.Spec

	// External marks a job fed by an outside trainer through the events
	// endpoint. No driver is attached.
	External bool `json:"external,omitempty"`
}

// TerminateRequest is the POST /api/jobs/{id}/terminate body. All fields are
// optional; an empty body fails the job with a generic reason.
type TerminateRequest struct {
	Status string         `json:"status,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Handler serves the REST routes against the job store and its collaborators.
type Handler struct {
	baseCtx context.Context
	store   *store.Store
	runner  *runner.Runner
	reports *report.Store
	stream  Streamer
	met     *metrics.Set
	log     *logrus.Entry
	started time.Time
}

// NewHandler creates a handler over the job store. The context bounds the
// lifetime of drivers started through the create endpoint. runner may be nil
// when the deployment only ingests external events.
func NewHandler(ctx context.Context, st *store.Store, run *runner.Runner, log *logrus.Entry) *Handler {
	return &Handler{
		baseCtx: ctx,
		store:   st,
		runner:  run,
		log:     log,
		started: time.Now(),
	}
}

// SetReports attaches the terminal report archive.
func (h *Handler) SetReports(r *report.Store) {
	h.reports = r
}

// SetStreamer attaches the live stream server for health reporting.
func (h *Handler) SetStreamer(s Streamer) {
	h.stream = s
}

// SetMetrics attaches the Prometheus registry behind /metrics.
func (h *Handler) SetMetrics(m *metrics.Set) {
	h.met = m
}

// RegisterRoutes registers all REST routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/jobs", h.CreateJob).Methods("POST")
	r.HandleFunc("/api/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/api/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/api/jobs/{id}/events", h.PostEvent).Methods("POST")
	r.HandleFunc("/api/jobs/{id}/terminate", h.TerminateJob).Methods("POST")
	r.HandleFunc("/api/jobs/{id}/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/api/reports", h.ListReports).Methods("GET")
	r.HandleFunc("/api/reports/{id}", h.GetReport).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/metrics", h.Metrics).Methods("GET")
}

// CreateJob creates a job and, unless the manifest marks it external,
// attaches a synthetic driver.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := h.store.CreateJob(req.Kind, req.Name, req.JobMetadata())
	if err != nil {
		if errors.Is(err, store.ErrInvalidKind) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.WithError(err).Error("job creation failed")
		http.Error(w, "Failed to create job", http.StatusInternalServerError)
		return
	}

	if !req.External && h.runner != nil {
		if err := h.runner.Start(h.baseCtx, snap.ID, &req.Spec); err != nil {
			h.log.WithError(err).WithField("job_id", snap.ID).Error("driver start failed")
			http.Error(w, "Failed to start job", http.StatusInternalServerError)
			return
		}
	}

	h.log.WithFields(logrus.Fields{"job_id": snap.ID, "kind": snap.Kind}).Info("job created")
	writeJSON(w, http.StatusCreated, snap)
}

// ListJobs returns every live job, oldest first.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.store.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob returns the current snapshot of one job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snap, err := h.store.GetSnapshot(id)
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PostEvent ingests one progress event from an external trainer.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var ev job.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := h.store.ApplyEvent(id, ev)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			http.Error(w, "Job not found", http.StatusNotFound)
		case errors.Is(err, store.ErrInvalidState):
			http.Error(w, "Job already terminated", http.StatusConflict)
		default:
			h.log.WithError(err).WithField("job_id", id).Error("event apply failed")
			http.Error(w, "Failed to apply event", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// TerminateJob forces a job into a terminal state and detaches its driver.
func (h *Handler) TerminateJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req TerminateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		req.Status = string(job.StatusFailed)
		if req.Error == "" {
			req.Error = "terminated by operator"
		}
	}
	status := job.Status(req.Status)
	if status != job.StatusCompleted && status != job.StatusFailed {
		http.Error(w, "status must be completed or failed", http.StatusBadRequest)
		return
	}

	snap, err := h.store.Terminate(id, status, req.Result, req.Error)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			http.Error(w, "Job not found", http.StatusNotFound)
		case errors.Is(err, store.ErrInvalidState):
			http.Error(w, "Job already terminated", http.StatusConflict)
		default:
			h.log.WithError(err).WithField("job_id", id).Error("terminate failed")
			http.Error(w, "Failed to terminate job", http.StatusInternalServerError)
		}
		return
	}

	// The driver settles against a terminal job and detaches quietly.
	if h.runner != nil {
		if err := h.runner.Stop(id); err != nil && err != runner.ErrJobNotRunning {
			h.log.WithError(err).WithField("job_id", id).Warn("driver stop failed")
		}
	}

	h.log.WithFields(logrus.Fields{"job_id": id, "status": status}).Info("job terminated")
	writeJSON(w, http.StatusOK, snap)
}

// GetHistory returns the retained metric history of a live job.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entries, err := h.store.History(id)
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  id,
		"entries": entries,
		"count":   len(entries),
	})
}

// ListReports returns archived terminal reports, newest first.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		http.Error(w, "Report archive disabled", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	reports, err := h.reports.List(limit)
	if err != nil {
		h.log.WithError(err).Error("report listing failed")
		http.Error(w, "Failed to list reports", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   len(reports),
	})
}

// GetReport returns the archived terminal report of a finished job.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		http.Error(w, "Report archive disabled", http.StatusServiceUnavailable)
		return
	}
	id := mux.Vars(r)["id"]

	rep, err := h.reports.Get(id)
	if err != nil {
		if errors.Is(err, report.ErrReportNotFound) {
			http.Error(w, "Report not found", http.StatusNotFound)
			return
		}
		h.log.WithError(err).WithField("job_id", id).Error("report lookup failed")
		http.Error(w, "Failed to get report", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Health returns liveness and basic counters.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"jobs":   h.store.Count(),
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if h.runner != nil {
		resp["drivers"] = h.runner.Running()
	}
	if h.stream != nil {
		resp["observers"] = h.stream.ObserverCount()
		resp["stream_addr"] = h.stream.Addr()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Metrics serves the Prometheus registry.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.met == nil {
		http.Error(w, "Metrics disabled", http.StatusNotFound)
		return
	}
	h.met.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
