package pool

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/crucible/internal/blocker"
	"github.com/kingrea/crucible/internal/event"
	"github.com/kingrea/crucible/internal/gates"
	"github.com/kingrea/crucible/internal/model"
	"github.com/kingrea/crucible/internal/resolver"
	"github.com/kingrea/crucible/internal/store"
)

const (
	// DefaultCapacity bounds concurrently active workers per project.
	DefaultCapacity = 10
	// DefaultRetireAfter is the idle window before a worker is retired.
	DefaultRetireAfter = 10 * time.Minute
	// DefaultRetryBudget is how many failures a task absorbs before it is
	// marked failed and its worker freed for good.
	DefaultRetryBudget = 3
)

// Assignment records one task handed to one worker during a dispatch pass.
type Assignment struct {
	TaskID   int64
	WorkerID string
	Created  bool
}

// Coordinator drives assignment for a single project. Exactly one pass runs
// at a time per coordinator; distinct projects get distinct coordinators and
// proceed independently.
type Coordinator struct {
	projectID int64
	store     *store.Memory
	encoder   *event.Encoder
	log       *zap.Logger

	capacity    int
	retireAfter time.Duration
	retryBudget int
	clock       func() time.Time

	mu         sync.Mutex // held for the duration of a pass
	nextNumber map[model.WorkerType]int
	failures   map[int64]int
	idleSince  map[string]time.Time
	blockers   *blocker.Registry
}

// Option customizes coordinator construction.
type Option func(*Coordinator)

// WithCapacity overrides the active-worker ceiling.
func WithCapacity(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithRetireAfter overrides the idle retirement window.
func WithRetireAfter(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retireAfter = d
		}
	}
}

// WithRetryBudget overrides the per-task failure budget.
func WithRetryBudget(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.retryBudget = n
		}
	}
}

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New wires a coordinator to the authoritative store and event encoder.
func New(projectID int64, st *store.Memory, enc *event.Encoder, log *zap.Logger, opts ...Option) (*Coordinator, error) {
	if st == nil {
		return nil, fmt.Errorf("pool: store is required")
	}
	if enc == nil {
		return nil, fmt.Errorf("pool: event encoder is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		projectID:   projectID,
		store:       st,
		encoder:     enc,
		log:         log,
		capacity:    DefaultCapacity,
		retireAfter: DefaultRetireAfter,
		retryBudget: DefaultRetryBudget,
		clock:       func() time.Time { return time.Now().UTC() },
		nextNumber:  make(map[model.WorkerType]int),
		failures:    make(map[int64]int),
		idleSince:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.blockers = blocker.NewRegistry(blocker.WithClock(c.clock))
	return c, nil
}

func (c *Coordinator) lock()   { c.mu.Lock() }
func (c *Coordinator) unlock() { c.mu.Unlock() }

// AddTask ingests a task from the planning collaborator. The task's BlockedBy
// set is reduced to its outstanding (incomplete) blockers; a task with any
// outstanding blocker enters blocked, everything else enters pending.
func (c *Coordinator) AddTask(t model.Task) {
	c.lock()
	defer c.unlock()
	t.ProjectID = c.projectID
	t.UpdatedAt = c.nowMillis()
	outstanding := t.BlockedBy[:0:0]
	for _, dep := range t.BlockedBy {
		existing, err := c.store.Task(c.projectID, dep)
		if err == nil && existing.Status == model.TaskCompleted {
			continue
		}
		outstanding = append(outstanding, dep)
	}
	t.BlockedBy = outstanding
	if len(t.BlockedBy) > 0 {
		t.Status = model.TaskBlocked
	} else if t.Status == "" || t.Status == model.TaskBlocked {
		t.Status = model.TaskPending
	}
	c.store.PutTask(c.projectID, t)
	if t.Status == model.TaskBlocked {
		c.encoder.TaskBlocked(t)
	}
	c.refreshProgress()
}

// Dispatch runs one assignment pass: resolve ready tasks, hand each to an
// idle worker of the matching specialization or create one under the capacity
// ceiling, and leave the rest pending. Worker and task updates for one
// assignment are emitted back to back within the pass, so observers never see
// a half-assigned pair.
func (c *Coordinator) Dispatch() []Assignment {
	c.lock()
	defer c.unlock()
	return c.dispatchLocked()
}

func (c *Coordinator) dispatchLocked() []Assignment {
	c.retireIdleLocked()
	graph := resolver.Build(c.store.Tasks(c.projectID))
	for _, diag := range graph.Diagnostics() {
		c.log.Warn("dependency graph integrity problem",
			zap.String("kind", string(diag.Kind)),
			zap.Int64s("tasks", diag.TaskIDs),
			zap.String("detail", diag.Detail),
		)
	}
	var assignments []Assignment
	for _, taskID := range graph.Ready() {
		task, err := c.store.Task(c.projectID, taskID)
		if err != nil || task.Status != model.TaskPending {
			continue
		}
		want := classifyTask(task.Title)
		worker, created, ok := c.acquireWorker(want)
		if !ok {
			// Capacity exhausted for this specialization; the task stays
			// pending and is re-evaluated on the next pass.
			continue
		}
		c.assign(task, worker, created)
		assignments = append(assignments, Assignment{TaskID: task.ID, WorkerID: worker.ID, Created: created})
	}
	return assignments
}

// acquireWorker returns an idle worker of the wanted type, creating one when
// none exists and the pool has headroom.
func (c *Coordinator) acquireWorker(want model.WorkerType) (model.Worker, bool, bool) {
	workers := c.store.Workers(c.projectID)
	for _, w := range workers {
		if w.Type == want && w.Status == model.WorkerIdle {
			return w, false, true
		}
	}
	if len(workers) >= c.capacity {
		return model.Worker{}, false, false
	}
	c.nextNumber[want]++
	w := model.Worker{
		ID:        fmt.Sprintf("%s-worker-%03d", want, c.nextNumber[want]),
		Type:      want,
		Status:    model.WorkerIdle,
		Provider:  model.DefaultProvider,
		UpdatedAt: c.nowMillis(),
	}
	c.store.PutWorker(c.projectID, w)
	c.encoder.WorkerCreated(w)
	return w, true, true
}

func (c *Coordinator) assign(task model.Task, worker model.Worker, created bool) {
	now := c.nowMillis()
	task.Status = model.TaskInProgress
	task.AssignedTo = worker.ID
	task.UpdatedAt = now
	worker.Status = model.WorkerWorking
	worker.CurrentTask = &model.TaskRef{ID: task.ID, Title: task.Title}
	worker.Blocker = ""
	worker.UpdatedAt = now
	delete(c.idleSince, worker.ID)
	c.store.PutTask(c.projectID, task)
	c.store.PutWorker(c.projectID, worker)
	c.encoder.TaskAssigned(task, worker.ID)
	c.encoder.WorkerStatusChanged(worker)
	c.encoder.TaskStatusChanged(task)
	c.recordActivity("task_assigned", worker.ID, fmt.Sprintf("task %d (%s) assigned to %s", task.ID, task.Title, worker.ID))
	c.log.Info("assigned task",
		zap.Int64("task", task.ID),
		zap.String("worker", worker.ID),
		zap.Bool("created", created),
	)
}

// Complete records the quality gate verdict for a task's work. A passing
// verdict completes the task and frees its worker; a failing one burns one
// unit of retry budget via the failure path.
func (c *Coordinator) Complete(taskID int64, verdict gates.Result) error {
	if !verdict.Passed() {
		return c.Fail(taskID, verdict.Summary())
	}
	c.lock()
	defer c.unlock()
	task, err := c.store.Task(c.projectID, taskID)
	if err != nil {
		return fmt.Errorf("pool: complete task %d: %w", taskID, err)
	}
	now := c.nowMillis()
	task.Status = model.TaskCompleted
	task.UpdatedAt = now
	c.store.PutTask(c.projectID, task)
	c.encoder.TaskStatusChanged(task)
	c.releaseWorker(task.AssignedTo, true)
	c.recordActivity("task_completed", task.AssignedTo, fmt.Sprintf("task %d completed (%s)", task.ID, verdict.Summary()))
	delete(c.failures, taskID)
	c.unblockDependents(taskID)
	c.refreshProgress()
	c.dispatchLocked()
	return nil
}

// Fail records a failed attempt. Within the retry budget the task returns to
// pending for reassignment; beyond it the task is marked failed for good.
// Either way the worker is freed.
func (c *Coordinator) Fail(taskID int64, reason string) error {
	c.lock()
	defer c.unlock()
	task, err := c.store.Task(c.projectID, taskID)
	if err != nil {
		return fmt.Errorf("pool: fail task %d: %w", taskID, err)
	}
	c.failures[taskID]++
	now := c.nowMillis()
	workerID := task.AssignedTo
	if c.failures[taskID] >= c.retryBudget {
		task.Status = model.TaskFailed
		c.recordActivity("task_failed", workerID, fmt.Sprintf("task %d failed after %d attempts: %s", taskID, c.failures[taskID], reason))
	} else {
		task.Status = model.TaskPending
		task.AssignedTo = ""
		c.recordActivity("task_retry", workerID, fmt.Sprintf("task %d attempt %d failed: %s", taskID, c.failures[taskID], reason))
	}
	task.UpdatedAt = now
	c.store.PutTask(c.projectID, task)
	c.encoder.TaskStatusChanged(task)
	c.releaseWorker(workerID, false)
	c.refreshProgress()
	c.dispatchLocked()
	return nil
}

// releaseWorker returns a worker to idle and stamps the retirement clock.
func (c *Coordinator) releaseWorker(workerID string, completed bool) {
	if workerID == "" {
		return
	}
	worker, err := c.store.Worker(c.projectID, workerID)
	if err != nil {
		return
	}
	worker.Status = model.WorkerIdle
	worker.CurrentTask = nil
	worker.Blocker = ""
	if completed {
		worker.TasksCompleted++
	}
	worker.UpdatedAt = c.nowMillis()
	c.store.PutWorker(c.projectID, worker)
	c.idleSince[worker.ID] = c.clock()
	c.encoder.WorkerStatusChanged(worker)
}

// unblockDependents strips the completed id from every blocked task's
// outstanding set; tasks whose set empties return to pending.
func (c *Coordinator) unblockDependents(completedID int64) {
	for _, task := range c.store.Tasks(c.projectID) {
		if task.Status != model.TaskBlocked {
			continue
		}
		remaining := task.BlockedBy[:0:0]
		for _, dep := range task.BlockedBy {
			if dep != completedID {
				remaining = append(remaining, dep)
			}
		}
		if len(remaining) == len(task.BlockedBy) {
			continue
		}
		task.BlockedBy = remaining
		task.UpdatedAt = c.nowMillis()
		if len(task.BlockedBy) == 0 {
			task.Status = model.TaskPending
			c.store.PutTask(c.projectID, task)
			c.encoder.TaskUnblocked(task)
			c.recordActivity("task_unblocked", model.SystemActor, fmt.Sprintf("task %d unblocked", task.ID))
		} else {
			c.store.PutTask(c.projectID, task)
		}
	}
}

// RaiseBlocker opens a question a worker cannot proceed without. A sync
// blocker suspends the worker immediately; an async one is tracked but lets
// the worker keep going.
func (c *Coordinator) RaiseBlocker(workerID string, taskID int64, kind blocker.Kind, question string) (blocker.Blocker, error) {
	c.lock()
	defer c.unlock()
	b := c.blockers.Create(c.projectID, workerID, taskID, kind, question)
	if kind == blocker.KindSync {
		if err := c.holdLocked(workerID, question); err != nil {
			return b, err
		}
	}
	return b, nil
}

// ResolveBlocker records the answer to a blocker. The worker resumes once no
// pending sync blockers remain against it.
func (c *Coordinator) ResolveBlocker(id, answer string) error {
	c.lock()
	defer c.unlock()
	b, err := c.blockers.Resolve(id, answer)
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	return c.maybeReleaseLocked(b)
}

// ExpireBlocker closes a blocker that timed out unanswered and resumes the
// worker on the same terms as a resolution.
func (c *Coordinator) ExpireBlocker(id string) error {
	c.lock()
	defer c.unlock()
	b, err := c.blockers.Expire(id)
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	return c.maybeReleaseLocked(b)
}

func (c *Coordinator) maybeReleaseLocked(b blocker.Blocker) error {
	if b.Kind != blocker.KindSync {
		return nil
	}
	if len(c.blockers.PendingFor(b.WorkerID)) > 0 {
		return nil
	}
	return c.releaseHoldLocked(b.WorkerID)
}

// PendingBlockers returns a worker's open questions, oldest first.
func (c *Coordinator) PendingBlockers(workerID string) []blocker.Blocker {
	return c.blockers.PendingFor(workerID)
}

// HoldWorker marks a worker blocked on an unresolved human question.
func (c *Coordinator) HoldWorker(workerID, question string) error {
	c.lock()
	defer c.unlock()
	return c.holdLocked(workerID, question)
}

func (c *Coordinator) holdLocked(workerID, question string) error {
	worker, err := c.store.Worker(c.projectID, workerID)
	if err != nil {
		return fmt.Errorf("pool: hold worker %s: %w", workerID, err)
	}
	worker.Status = model.WorkerBlocked
	worker.Blocker = question
	worker.UpdatedAt = c.nowMillis()
	c.store.PutWorker(c.projectID, worker)
	c.encoder.WorkerStatusChanged(worker)
	c.recordActivity("blocker_created", workerID, fmt.Sprintf("%s blocked: %s", workerID, question))
	return nil
}

// ReleaseWorkerHold returns a blocked worker to work (or idle when it holds
// no task) after its blocker resolves or expires.
func (c *Coordinator) ReleaseWorkerHold(workerID string) error {
	c.lock()
	defer c.unlock()
	return c.releaseHoldLocked(workerID)
}

func (c *Coordinator) releaseHoldLocked(workerID string) error {
	worker, err := c.store.Worker(c.projectID, workerID)
	if err != nil {
		return fmt.Errorf("pool: release worker %s: %w", workerID, err)
	}
	worker.Blocker = ""
	if worker.CurrentTask != nil {
		worker.Status = model.WorkerWorking
	} else {
		worker.Status = model.WorkerIdle
		c.idleSince[worker.ID] = c.clock()
	}
	worker.UpdatedAt = c.nowMillis()
	c.store.PutWorker(c.projectID, worker)
	c.encoder.WorkerStatusChanged(worker)
	c.recordActivity("blocker_resolved", workerID, fmt.Sprintf("%s resumed", workerID))
	c.dispatchLocked()
	return nil
}

// ReportUsage accumulates a worker's resource usage counter.
func (c *Coordinator) ReportUsage(workerID string, tokens int64) {
	c.lock()
	defer c.unlock()
	worker, err := c.store.Worker(c.projectID, workerID)
	if err != nil {
		return
	}
	worker.TokensUsed += tokens
	worker.UpdatedAt = c.nowMillis()
	c.store.PutWorker(c.projectID, worker)
	c.encoder.WorkerStatusChanged(worker)
}

// retireIdleLocked removes workers idle past the retirement window.
func (c *Coordinator) retireIdleLocked() {
	now := c.clock()
	for _, w := range c.store.Workers(c.projectID) {
		if w.Status != model.WorkerIdle {
			continue
		}
		since, ok := c.idleSince[w.ID]
		if !ok {
			c.idleSince[w.ID] = now
			continue
		}
		if now.Sub(since) < c.retireAfter {
			continue
		}
		c.store.RemoveWorker(c.projectID, w.ID)
		delete(c.idleSince, w.ID)
		c.encoder.WorkerRetired(w.ID)
		c.recordActivity("worker_retired", model.SystemActor, fmt.Sprintf("%s retired after %d tasks", w.ID, w.TasksCompleted))
		c.log.Info("retired idle worker", zap.String("worker", w.ID))
	}
}

func (c *Coordinator) refreshProgress() {
	p := model.ComputeProgress(c.store.Tasks(c.projectID))
	p.UpdatedAt = c.nowMillis()
	c.store.SetProgress(c.projectID, p)
	c.encoder.Progress(p)
}

func (c *Coordinator) recordActivity(category, actor, message string) {
	item := model.ActivityItem{
		Timestamp: c.nowMillis(),
		Category:  category,
		Worker:    actor,
		Message:   message,
	}
	c.store.AppendActivity(c.projectID, item)
	c.encoder.Activity(item)
}

func (c *Coordinator) nowMillis() float64 {
	return float64(c.clock().UnixMilli())
}
