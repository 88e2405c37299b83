// Package blocker tracks human-in-the-loop questions that suspend a worker
// until answered. The asking and answering surfaces are external; this
// package owns the blocker lifecycle and tells the coordinator when a worker
// should be held or released.
package blocker

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status enumerates blocker lifecycle states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
)

// Kind distinguishes blockers that halt the worker immediately from ones the
// worker can set aside while continuing other work.
type Kind string

const (
	KindSync  Kind = "sync"
	KindAsync Kind = "async"
)

// Blocker is one open question keyed to a worker and task.
type Blocker struct {
	ID        string
	ProjectID int64
	WorkerID  string
	TaskID    int64
	Kind      Kind
	Question  string
	Answer    string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registry holds blockers for one process. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	blockers map[string]Blocker
	nextID   int
	clock    func() time.Time
}

// Option customizes registry construction.
type Option func(*Registry)

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRegistry creates an empty blocker registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		blockers: make(map[string]Blocker),
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Create opens a new pending blocker and returns it.
func (r *Registry) Create(projectID int64, workerID string, taskID int64, kind Kind, question string) Blocker {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := r.clock()
	b := Blocker{
		ID:        fmt.Sprintf("blocker-%03d", r.nextID),
		ProjectID: projectID,
		WorkerID:  workerID,
		TaskID:    taskID,
		Kind:      kind,
		Question:  question,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.blockers[b.ID] = b
	return b
}

// Resolve records an answer and closes the blocker.
func (r *Registry) Resolve(id, answer string) (Blocker, error) {
	return r.transition(id, StatusResolved, answer)
}

// Expire closes a blocker that timed out unanswered.
func (r *Registry) Expire(id string) (Blocker, error) {
	return r.transition(id, StatusExpired, "")
}

func (r *Registry) transition(id string, status Status, answer string) (Blocker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blockers[id]
	if !ok {
		return Blocker{}, fmt.Errorf("blocker: %s not found", id)
	}
	if b.Status != StatusPending {
		return Blocker{}, fmt.Errorf("blocker: %s already %s", id, b.Status)
	}
	b.Status = status
	b.Answer = answer
	b.UpdatedAt = r.clock()
	r.blockers[id] = b
	return b, nil
}

// PendingFor returns the open blockers for a worker, oldest first. A worker
// with at least one pending blocker must be reported as blocked.
func (r *Registry) PendingFor(workerID string) []Blocker {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Blocker
	for _, b := range r.blockers {
		if b.WorkerID == workerID && b.Status == StatusPending {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CountByStatus tallies blockers per lifecycle state.
func (r *Registry) CountByStatus() map[Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Status]int, 3)
	for _, b := range r.blockers {
		counts[b.Status]++
	}
	return counts
}
