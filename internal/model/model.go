// Package model holds the canonical entity types shared by the authoritative
// coordinator and every observer: workers, tasks, the bounded activity feed,
// and per-project progress summaries. Both sides speak in these types; the
// observer additionally tracks a last-write timestamp per entity so duplicate
// or reordered deliveries resolve deterministically.
package model

import (
	"fmt"
	"math"
	"strings"
)

// WorkerType identifies a worker's specialization.
type WorkerType string

const (
	WorkerBackend  WorkerType = "backend"
	WorkerFrontend WorkerType = "frontend"
	WorkerTest     WorkerType = "test"
	WorkerReview   WorkerType = "review"
)

// DefaultWorkerType is the coercion target for unrecognized specializations
// arriving over the wire. Dropping the worker entirely would hide it from
// observers, which is worse than showing it with a generic specialization.
const DefaultWorkerType = WorkerBackend

// DefaultProvider is assumed when a worker event omits its provider label.
const DefaultProvider = "anthropic"

// ParseWorkerType normalizes a wire specialization string. Unrecognized values
// coerce to DefaultWorkerType; the second return reports whether the input was
// one of the known types.
func ParseWorkerType(raw string) (WorkerType, bool) {
	switch WorkerType(strings.ToLower(strings.TrimSpace(raw))) {
	case WorkerBackend:
		return WorkerBackend, true
	case WorkerFrontend:
		return WorkerFrontend, true
	case WorkerTest:
		return WorkerTest, true
	case WorkerReview:
		return WorkerReview, true
	}
	return DefaultWorkerType, false
}

// WorkerStatus enumerates worker lifecycle states.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerWorking WorkerStatus = "working"
	WorkerBlocked WorkerStatus = "blocked"
)

// TaskStatus enumerates task lifecycle states. Failed is terminal and only
// reached when the retry budget is exhausted.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskRef is the lightweight task reference a working worker carries.
type TaskRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Worker is one autonomous agent in a project's pool.
//
// UpdatedAt is epoch milliseconds and monotonic per worker on the
// authoritative side. On observers it may be NaN when the originating event
// carried an unparseable timestamp; NaN loses every last-write comparison, so
// such updates can never clobber good state.
type Worker struct {
	ID             string       `json:"id"`
	Type           WorkerType   `json:"type"`
	Status         WorkerStatus `json:"status"`
	Provider       string       `json:"provider"`
	Autonomy       string       `json:"autonomy,omitempty"`
	CurrentTask    *TaskRef     `json:"current_task,omitempty"`
	Blocker        string       `json:"blocker,omitempty"`
	TokensUsed     int64        `json:"tokens_used"`
	TasksCompleted int          `json:"tasks_completed"`
	UpdatedAt      float64      `json:"updated_at"`
}

// Clone returns a deep copy so reductions never alias prior snapshots.
func (w Worker) Clone() Worker {
	if w.CurrentTask != nil {
		ref := *w.CurrentTask
		w.CurrentTask = &ref
	}
	return w
}

// Validate enforces the worker invariants: an idle worker holds no task
// reference and a working worker holds one.
func (w Worker) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return fmt.Errorf("model: worker missing id")
	}
	switch w.Status {
	case WorkerIdle:
		if w.CurrentTask != nil {
			return fmt.Errorf("model: idle worker %s holds task %d", w.ID, w.CurrentTask.ID)
		}
	case WorkerWorking:
		if w.CurrentTask == nil {
			return fmt.Errorf("model: working worker %s has no current task", w.ID)
		}
	case WorkerBlocked:
	default:
		return fmt.Errorf("model: worker %s has unknown status %q", w.ID, w.Status)
	}
	return nil
}

// Task is one unit of work inside a project's dependency graph.
type Task struct {
	ID         int64      `json:"id"`
	ProjectID  int64      `json:"project_id"`
	Title      string     `json:"title"`
	Status     TaskStatus `json:"status"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	BlockedBy  []int64    `json:"blocked_by,omitempty"`
	Progress   *int       `json:"progress,omitempty"`
	UpdatedAt  float64    `json:"updated_at"`
}

// Clone returns a deep copy including the blocking set and progress pointer.
func (t Task) Clone() Task {
	if len(t.BlockedBy) > 0 {
		blocked := make([]int64, len(t.BlockedBy))
		copy(blocked, t.BlockedBy)
		t.BlockedBy = blocked
	}
	if t.Progress != nil {
		pct := *t.Progress
		t.Progress = &pct
	}
	return t
}

// Validate enforces the task invariants: blocked iff the blocking set is
// non-empty, and in-progress implies an assigned worker.
func (t Task) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("model: task missing id")
	}
	if t.Status == TaskBlocked && len(t.BlockedBy) == 0 {
		return fmt.Errorf("model: task %d blocked without blockers", t.ID)
	}
	if t.Status != TaskBlocked && len(t.BlockedBy) > 0 {
		return fmt.Errorf("model: task %d has blockers but status %s", t.ID, t.Status)
	}
	if t.Status == TaskInProgress && strings.TrimSpace(t.AssignedTo) == "" {
		return fmt.Errorf("model: task %d in progress without a worker", t.ID)
	}
	return nil
}

// SystemActor is the activity attribution used when no worker originated the
// transition.
const SystemActor = "system"

// ActivityLimit bounds the activity feed; the oldest entry is evicted first.
const ActivityLimit = 50

// ActivityItem is one append-only entry in a project's activity feed.
type ActivityItem struct {
	Timestamp float64 `json:"timestamp"`
	Category  string  `json:"category"`
	Worker    string  `json:"worker"`
	Message   string  `json:"message"`
}

// AppendActivity appends item and evicts from the front so the result never
// exceeds ActivityLimit. The input slice is not mutated.
func AppendActivity(items []ActivityItem, item ActivityItem) []ActivityItem {
	out := make([]ActivityItem, 0, len(items)+1)
	out = append(out, items...)
	out = append(out, item)
	if len(out) > ActivityLimit {
		out = out[len(out)-ActivityLimit:]
	}
	return out
}

// Progress summarizes task completion for one project. It is always replaced
// wholesale, never merged field by field.
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	UpdatedAt float64 `json:"updated_at"`
}

// ComputeProgress derives a fresh summary from the current task set. Failed
// tasks count toward the total but never toward completion.
func ComputeProgress(tasks []Task) Progress {
	p := Progress{Total: len(tasks)}
	for _, t := range tasks {
		if t.Status == TaskCompleted {
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Percent = math.Round(float64(p.Completed)/float64(p.Total)*1000) / 10
	}
	return p
}
