// Package store owns the authoritative record of every live job. All
// mutations of one job are serialized behind its entry lock; observers and
// collaborators only ever see immutable snapshots.
//
// Each successful mutation runs the broadcast pipeline: fold the event,
// recompute aggregate progress, gate against the last snapshot sent, and on
// approval append a history sample and hand the snapshot to the hub.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/traintrack-ai/traintrack-cli/internal/history"
	"github.com/traintrack-ai/traintrack-cli/internal/job"
	"github.com/traintrack-ai/traintrack-cli/internal/metrics"
)

// Store errors
var (
	// ErrJobNotFound indicates the job id is unknown (or already evicted)
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidState indicates an event or terminate call reached a job
	// that is already in a terminal state
	ErrInvalidState = errors.New("job is in a terminal state")

	// ErrInvalidKind indicates an unsupported job kind on creation
	ErrInvalidKind = errors.New("invalid job kind")
)

// Broadcaster is the store's view of the connection hub. Broadcast must be
// non-blocking apart from per-connection queue appends; the store invokes it
// without holding any record lock.
type Broadcaster interface {
	Broadcast(jobID string, snap job.Snapshot)
	Observers(jobID string) int
	Drop(jobID string)
}

// Archiver persists the terminal report of a finished job.
type Archiver interface {
	Archive(snap job.Snapshot, entries []history.Entry) error
}

// Config tunes retention and eviction.
type Config struct {
	// HistoryCapacity is the per-job metric sample retention.
	HistoryCapacity int

	// EvictAfter is how long a terminal job is kept for late subscribers
	// before the janitor may remove it (observers must also have drained).
	EvictAfter time.Duration

	// JanitorInterval is how often eviction candidates are checked.
	JanitorInterval time.Duration
}

// DefaultConfig returns the standard retention settings.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: history.DefaultCapacity,
		EvictAfter:      15 * time.Minute,
		JanitorInterval: 30 * time.Second,
	}
}

// entry pairs a job record with its pipeline state. mu serializes all
// mutation and snapshotting; sendMu is acquired before mu is released so
// gated snapshots reach the hub in the exact order the gate approved them,
// without holding the record lock during fan-out.
type entry struct {
	mu     sync.Mutex
	sendMu sync.Mutex

	job        *job.Job
	lastSent   *job.Snapshot
	history    *history.Ring
	terminalAt time.Time
}

// Store is the job state store.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*entry

	hub      Broadcaster
	archiver Archiver

	cfg Config
	log *logrus.Entry
	met *metrics.Set

	stopJanitor chan struct{}
	stopOnce    sync.Once
}

// New creates a store and starts its eviction janitor.
func New(cfg Config, log *logrus.Entry, met *metrics.Set) *Store {
	if cfg.HistoryCapacity < 1 {
		cfg.HistoryCapacity = history.DefaultCapacity
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = 15 * time.Minute
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = 30 * time.Second
	}
	s := &Store{
		jobs:        make(map[string]*entry),
		cfg:         cfg,
		log:         log,
		met:         met,
		stopJanitor: make(chan struct{}),
	}
	go s.janitorLoop()
	return s
}

// SetBroadcaster wires the connection hub. The hub is constructed after the
// store (it reads snapshots from it), so this is a post-construction step.
func (s *Store) SetBroadcaster(b Broadcaster) {
	s.hub = b
}

// SetArchiver wires the terminal report archiver.
func (s *Store) SetArchiver(a Archiver) {
	s.archiver = a
}

// CreateJob registers a new pending job and returns its initial snapshot.
func (s *Store) CreateJob(kind job.Kind, name string, metadata map[string]any) (job.Snapshot, error) {
	switch kind {
	case job.KindTraining, job.KindHyperparamSearch:
	default:
		return job.Snapshot{}, ErrInvalidKind
	}

	id := uuid.New().String()
	j := job.New(id, kind, name, metadata)
	e := &entry{
		job:     j,
		history: history.NewRing(s.cfg.HistoryCapacity),
	}

	s.mu.Lock()
	s.jobs[id] = e
	s.mu.Unlock()

	s.met.JobCreated(string(kind))
	s.log.WithFields(logrus.Fields{"job_id": id, "kind": kind, "name": name}).Info("job created")
	return j.Snapshot(), nil
}

// ApplyEvent ingests one runner event, atomically updates the job record and
// returns the resulting snapshot. Events on terminal jobs are rejected with
// ErrInvalidState.
func (s *Store) ApplyEvent(id string, ev job.Event) (job.Snapshot, error) {
	e, ok := s.lookup(id)
	if !ok {
		return job.Snapshot{}, ErrJobNotFound
	}

	e.mu.Lock()
	if job.IsTerminal(e.job.Status) {
		e.mu.Unlock()
		return job.Snapshot{}, ErrInvalidState
	}
	if err := e.job.Apply(ev, time.Now().UTC()); err != nil {
		e.mu.Unlock()
		return job.Snapshot{}, err
	}
	snap, entries := s.finishMutation(e)

	s.met.EventApplied()
	if entries != nil {
		s.archive(snap, entries)
	}
	return snap, nil
}

// Terminate moves the job to a terminal status, broadcasts the final
// snapshot and archives the report. Terminating an already-terminal job
// returns ErrInvalidState.
func (s *Store) Terminate(id string, status job.Status, result map[string]any, errDetail string) (job.Snapshot, error) {
	e, ok := s.lookup(id)
	if !ok {
		return job.Snapshot{}, ErrJobNotFound
	}

	e.mu.Lock()
	if job.IsTerminal(e.job.Status) {
		e.mu.Unlock()
		return job.Snapshot{}, ErrInvalidState
	}
	if err := e.job.Terminate(status, result, errDetail, time.Now().UTC()); err != nil {
		e.mu.Unlock()
		return job.Snapshot{}, err
	}
	snap, entries := s.finishMutation(e)

	s.met.JobTerminated(string(status))
	s.log.WithFields(logrus.Fields{"job_id": id, "status": status}).Info("job terminated")
	if entries != nil {
		s.archive(snap, entries)
	}
	return snap, nil
}

// finishMutation completes the pipeline for a mutated entry: snapshot, gate,
// history, ordered hand-off to the hub. Called with e.mu held; returns with
// all locks released. The non-nil history slice signals that the job just
// turned terminal and should be archived.
func (s *Store) finishMutation(e *entry) (job.Snapshot, []history.Entry) {
	snap := e.job.Snapshot()

	propagate := job.ShouldPropagate(e.lastSent, snap)
	var entries []history.Entry
	if propagate {
		e.lastSent = &snap
		e.history.Append(snap.Metrics, snap.UpdatedAt)
	}
	if snap.Terminal() && e.terminalAt.IsZero() {
		e.terminalAt = time.Now().UTC()
		entries = e.history.Entries()
	}

	if !propagate {
		e.mu.Unlock()
		s.met.UpdateSuppressed()
		return snap, entries
	}

	// sendMu is taken before the record lock is released so concurrent
	// ApplyEvent pipelines cannot reorder their hub hand-offs.
	e.sendMu.Lock()
	e.mu.Unlock()
	if s.hub != nil {
		s.hub.Broadcast(snap.ID, snap)
	}
	e.sendMu.Unlock()

	s.met.Broadcast()
	return snap, entries
}

// archive hands the terminal report to the archiver, outside all locks.
func (s *Store) archive(snap job.Snapshot, entries []history.Entry) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.Archive(snap, entries); err != nil {
		s.log.WithError(err).WithField("job_id", snap.ID).Warn("failed to archive job report")
	}
}

// GetSnapshot returns the current immutable snapshot of a job. Terminal jobs
// keep serving their final snapshot until evicted.
func (s *Store) GetSnapshot(id string) (job.Snapshot, error) {
	e, ok := s.lookup(id)
	if !ok {
		return job.Snapshot{}, ErrJobNotFound
	}
	e.mu.Lock()
	snap := e.job.Snapshot()
	e.mu.Unlock()
	return snap, nil
}

// History returns the retained metric samples of a job, oldest first.
func (s *Store) History(id string) ([]history.Entry, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	e.mu.Lock()
	entries := e.history.Entries()
	e.mu.Unlock()
	return entries, nil
}

// List returns snapshots of all live jobs, oldest first.
func (s *Store) List() []job.Snapshot {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	snaps := make([]job.Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		snaps = append(snaps, e.job.Snapshot())
		e.mu.Unlock()
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// Count returns the number of live jobs.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	return e, ok
}

// janitorLoop evicts terminal jobs once their observers have drained and the
// retention window has passed.
func (s *Store) janitorLoop() {
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.evictExpired(); n > 0 {
				s.log.Infof("evicted %d terminal job(s)", n)
			}
		case <-s.stopJanitor:
			return
		}
	}
}

// evictExpired removes terminal jobs past the retention window with no
// remaining observers. Returns the number of jobs evicted.
func (s *Store) evictExpired() int {
	cutoff := time.Now().UTC().Add(-s.cfg.EvictAfter)

	s.mu.RLock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	evicted := 0
	for _, id := range ids {
		e, ok := s.lookup(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		expired := !e.terminalAt.IsZero() && e.terminalAt.Before(cutoff)
		e.mu.Unlock()
		if !expired {
			continue
		}
		if s.hub != nil && s.hub.Observers(id) > 0 {
			continue
		}

		s.mu.Lock()
		delete(s.jobs, id)
		s.mu.Unlock()
		if s.hub != nil {
			s.hub.Drop(id)
		}
		s.log.WithField("job_id", id).Debug("job evicted")
		evicted++
	}
	return evicted
}

// Close stops the eviction janitor. Job records remain readable.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stopJanitor)
	})
}
