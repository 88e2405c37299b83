package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/crucible/internal/model"
)

// Sink receives every encoded event. The bridge router and the durable
// journal both implement it; Emit must not block the coordinator.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// Encoder serializes authoritative mutations into events and fans them out to
// the configured sinks. One mutation, one event; callers that change a worker
// and a task together call two encode methods inside the same assignment pass
// so neither is observable without the other.
type Encoder struct {
	projectID int64
	sinks     []Sink
	clock     func() time.Time
	newID     func() string
}

// EncoderOption customizes encoder construction.
type EncoderOption func(*Encoder)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) EncoderOption {
	return func(e *Encoder) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDSource overrides event id generation.
func WithIDSource(newID func() string) EncoderOption {
	return func(e *Encoder) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// NewEncoder builds an encoder for one project.
func NewEncoder(projectID int64, sinks []Sink, opts ...EncoderOption) *Encoder {
	enc := &Encoder{
		projectID: projectID,
		sinks:     sinks,
		clock:     func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(enc)
		}
	}
	return enc
}

func (e *Encoder) emit(kind Type, fields map[string]any) {
	evt := Event{
		ID:        e.newID(),
		Type:      kind,
		ProjectID: e.projectID,
		Timestamp: float64(e.clock().UnixMilli()),
		Fields:    fields,
	}
	for _, sink := range e.sinks {
		sink.Emit(evt)
	}
}

// WorkerCreated announces a new pool member.
func (e *Encoder) WorkerCreated(w model.Worker) {
	e.emit(TypeWorkerCreated, map[string]any{
		"worker_id":       w.ID,
		"worker_type":     string(w.Type),
		"provider":        w.Provider,
		"tasks_completed": w.TasksCompleted,
	})
}

// WorkerStatusChanged reports a worker lifecycle transition. The current task
// reference rides along when present so observers can pair worker and task.
func (e *Encoder) WorkerStatusChanged(w model.Worker) {
	fields := map[string]any{
		"worker_id":   w.ID,
		"status":      string(w.Status),
		"tokens_used": w.TokensUsed,
	}
	if w.CurrentTask != nil {
		fields["current_task"] = map[string]any{
			"id":    w.CurrentTask.ID,
			"title": w.CurrentTask.Title,
		}
	}
	if w.Blocker != "" {
		fields["blocker"] = w.Blocker
	}
	e.emit(TypeWorkerStatusChanged, fields)
}

// WorkerRetired reports removal of an idle worker from the pool.
func (e *Encoder) WorkerRetired(workerID string) {
	e.emit(TypeWorkerRetired, map[string]any{"worker_id": workerID})
}

// TaskAssigned reports a task handed to a worker.
func (e *Encoder) TaskAssigned(t model.Task, workerID string) {
	e.emit(TypeTaskAssigned, map[string]any{
		"task_id":   t.ID,
		"worker_id": workerID,
		"title":     t.Title,
	})
}

// TaskStatusChanged reports a task lifecycle transition.
func (e *Encoder) TaskStatusChanged(t model.Task) {
	fields := map[string]any{
		"task_id": t.ID,
		"status":  string(t.Status),
	}
	if t.AssignedTo != "" {
		fields["worker_id"] = t.AssignedTo
	}
	if t.Progress != nil {
		fields["progress"] = *t.Progress
	}
	e.emit(TypeTaskStatusChanged, fields)
}

// TaskBlocked reports a task entering the blocked state with its blockers.
func (e *Encoder) TaskBlocked(t model.Task) {
	e.emit(TypeTaskBlocked, map[string]any{
		"task_id":    t.ID,
		"blocked_by": t.BlockedBy,
	})
}

// TaskUnblocked reports a task leaving the blocked state.
func (e *Encoder) TaskUnblocked(t model.Task) {
	e.emit(TypeTaskUnblocked, map[string]any{"task_id": t.ID})
}

// Activity reports one activity feed entry.
func (e *Encoder) Activity(item model.ActivityItem) {
	e.emit(TypeActivityUpdate, map[string]any{
		"activity_type": item.Category,
		"worker":        item.Worker,
		"message":       item.Message,
	})
}

// Progress reports a recomputed project progress summary.
func (e *Encoder) Progress(p model.Progress) {
	e.emit(TypeProgressUpdate, map[string]any{
		"completed_tasks": p.Completed,
		"total_tasks":     p.Total,
		"percentage":      p.Percent,
	})
}
