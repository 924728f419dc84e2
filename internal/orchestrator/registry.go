// internal/orchestrator/registry.go
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/driftnet-cli/internal/config"
)

// RunStatus is the registry-visible lifecycle of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunStopped   RunStatus = "stopped"
	RunFailed    RunStatus = "error"
)

type runRecord struct {
	id           string
	status       RunStatus
	target       config.Target
	sessionCount int
	startedAt    time.Time
	results      []SessionResult
	cancel       context.CancelFunc
}

// Snapshot is a point-in-time copy of a run's registry state, safe to hand
// to API handlers.
type Snapshot struct {
	RunID        string          `json:"runId"`
	Status       RunStatus       `json:"status"`
	Target       string          `json:"target"`
	StartedAt    time.Time       `json:"startTime"`
	SessionCount int             `json:"sessionCount"`
	Results      []SessionResult `json:"results"`
}

// Registry is the process-wide run cache. It is never a source of truth:
// completed runs are evicted after the retention window and a cache miss
// simply means the run expired.
type Registry struct {
	mu        sync.Mutex
	runs      map[string]*runRecord
	retention time.Duration
}

func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		runs:      make(map[string]*runRecord),
		retention: retention,
	}
}

func (r *Registry) register(id string, target config.Target, sessionCount int, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = &runRecord{
		id:           id,
		status:       RunRunning,
		target:       target,
		sessionCount: sessionCount,
		startedAt:    time.Now(),
		cancel:       cancel,
	}
}

// append records one finished session. Sessions complete concurrently, so
// this is the single synchronized write path.
func (r *Registry) append(id string, res SessionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.runs[id]; ok {
		rec.results = append(rec.results, res)
	}
}

// finish marks a run's terminal status and schedules its eviction. A run
// already stopped keeps that status.
func (r *Registry) finish(id string, status RunStatus) {
	r.mu.Lock()
	if rec, ok := r.runs[id]; ok && rec.status == RunRunning {
		rec.status = status
	}
	r.mu.Unlock()

	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		delete(r.runs, id)
		r.mu.Unlock()
	})
}

// Stop cancels a running run. Reports whether the run was known.
func (r *Registry) Stop(id string) bool {
	r.mu.Lock()
	rec, ok := r.runs[id]
	if ok && rec.status == RunRunning {
		rec.status = RunStopped
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if rec.cancel != nil {
		rec.cancel()
	}
	return true
}

// Get returns a snapshot of one run, or false after eviction.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[id]
	if !ok {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// Snapshots returns all cached runs.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.runs))
	for _, rec := range r.runs {
		out = append(out, rec.snapshot())
	}
	return out
}

// ActiveCount returns the number of runs still executing.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.runs {
		if rec.status == RunRunning {
			n++
		}
	}
	return n
}

func (rec *runRecord) snapshot() Snapshot {
	results := make([]SessionResult, len(rec.results))
	copy(results, rec.results)
	return Snapshot{
		RunID:        rec.id,
		Status:       rec.status,
		Target:       string(rec.target),
		StartedAt:    rec.startedAt,
		SessionCount: rec.sessionCount,
		Results:      results,
	}
}
