// Package job groups the hooks produced by one bypass invocation into
// a single revocable unit.
package job

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gand3lf/unpin/internal/domain"
	"github.com/gand3lf/unpin/internal/engine"
	"github.com/gand3lf/unpin/internal/infra"
)

// ErrJobSealed reports an attempt to record a hook after the job's
// invocation completed.
var ErrJobSealed = errors.New("job membership is sealed")

// Job is a named collection of hooks created by one invocation. It is
// append-only during construction and membership-immutable after Seal,
// except for Teardown, which empties it. Only hooks whose installation
// succeeded are ever recorded.
type Job struct {
	id        int64
	guid      uuid.UUID
	label     string
	createdAt time.Time

	mu           sync.Mutex
	sealed       bool
	hooks        []*engine.Hook
	replacements []domain.Address
}

// ID returns the numeric job identifier.
func (j *Job) ID() int64 { return j.id }

// GUID returns the globally unique job identifier.
func (j *Job) GUID() uuid.UUID { return j.guid }

// Label returns the human-readable job label.
func (j *Job) Label() string { return j.label }

// CreatedAt returns the job creation time.
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// RecordObservation appends an observation hook to the job.
func (j *Job) RecordObservation(h *engine.Hook) error {
	return j.record(h)
}

// RecordReplacement appends a replacement hook to the job, tracking
// the replaced address.
func (j *Job) RecordReplacement(addr domain.Address, h *engine.Hook) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.sealed {
		return fmt.Errorf("job %d: %w", j.id, ErrJobSealed)
	}
	j.hooks = append(j.hooks, h)
	j.replacements = append(j.replacements, addr)
	return nil
}

func (j *Job) record(h *engine.Hook) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.sealed {
		return fmt.Errorf("job %d: %w", j.id, ErrJobSealed)
	}
	j.hooks = append(j.hooks, h)
	return nil
}

// Seal freezes job membership. Called once when the invocation that
// created the job completes.
func (j *Job) Seal() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sealed = true
}

// HookCount returns the number of currently installed hooks.
func (j *Job) HookCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.hooks)
}

// Replacements returns the addresses carrying replacement hooks.
func (j *Job) Replacements() []domain.Address {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]domain.Address, len(j.replacements))
	copy(out, j.replacements)
	return out
}

// Teardown removes every hook in reverse install order and empties the
// job. Safe to call while other threads are mid-call inside a hooked
// function: each removal blocks until in-flight calls drain.
func (j *Job) Teardown() error {
	j.mu.Lock()
	hooks := j.hooks
	j.hooks = nil
	j.replacements = nil
	j.mu.Unlock()

	var err error
	for i := len(hooks) - 1; i >= 0; i-- {
		err = multierr.Append(err, hooks[i].Remove())
	}
	return err
}

// Manager is the lifecycle manager: it hands out jobs and exposes bulk
// teardown.
type Manager struct {
	log *infra.Sink

	mu   sync.Mutex
	seq  int64
	jobs map[int64]*Job
}

// NewManager creates a job manager.
func NewManager(log *infra.Sink) *Manager {
	return &Manager{
		log:  log,
		jobs: make(map[int64]*Job),
	}
}

// Create registers a fresh, empty job under the next numeric
// identifier.
func (m *Manager) Create(label string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	j := &Job{
		id:        m.seq,
		guid:      uuid.New(),
		label:     label,
		createdAt: time.Now(),
	}
	m.jobs[j.id] = j
	m.log.Verbose("job created",
		zap.Int64("id", j.id),
		zap.String("guid", j.guid.String()),
		zap.String("label", label))
	return j
}

// Get returns a job by numeric identifier.
func (m *Manager) Get(id int64) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	return j, ok
}

// List returns all live jobs ordered by identifier.
func (m *Manager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].id < out[b].id })
	return out
}

// Teardown removes a job's hooks and drops it from the manager.
func (m *Manager) Teardown(id int64) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	delete(m.jobs, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("job %d not found", id)
	}
	err := j.Teardown()
	m.log.Log("job torn down",
		zap.Int64("id", id),
		zap.String("label", j.label))
	return err
}
