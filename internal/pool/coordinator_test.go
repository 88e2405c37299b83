package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/kingrea/crucible/internal/blocker"
	"github.com/kingrea/crucible/internal/event"
	"github.com/kingrea/crucible/internal/gates"
	"github.com/kingrea/crucible/internal/model"
	"github.com/kingrea/crucible/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Emit(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(kind event.Type) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *store.Memory, *recorder, *fakeClock) {
	t.Helper()
	rec := &recorder{}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	st := store.NewMemory()
	enc := event.NewEncoder(1, []event.Sink{rec}, event.WithClock(clock.Now))
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	coord, err := New(1, st, enc, nil, opts...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return coord, st, rec, clock
}

func passing(taskID int64) gates.Result {
	return gates.Result{TaskID: taskID}
}

func TestDispatchCreatesWorkerAndAssigns(t *testing.T) {
	coord, st, rec, _ := newTestCoordinator(t)
	coord.AddTask(model.Task{ID: 1, Title: "Implement API handler"})

	assignments := coord.Dispatch()
	if len(assignments) != 1 {
		t.Fatalf("expected one assignment, got %d", len(assignments))
	}
	if assignments[0].WorkerID != "backend-worker-001" {
		t.Fatalf("unexpected worker id %s", assignments[0].WorkerID)
	}
	if !assignments[0].Created {
		t.Fatal("expected a freshly created worker")
	}

	task, err := st.Task(1, 1)
	if err != nil {
		t.Fatalf("task lookup: %v", err)
	}
	if task.Status != model.TaskInProgress || task.AssignedTo != "backend-worker-001" {
		t.Fatalf("unexpected task state: %+v", task)
	}
	worker, err := st.Worker(1, "backend-worker-001")
	if err != nil {
		t.Fatalf("worker lookup: %v", err)
	}
	if worker.Status != model.WorkerWorking || worker.CurrentTask == nil || worker.CurrentTask.ID != 1 {
		t.Fatalf("unexpected worker state: %+v", worker)
	}
	if got := rec.ofType(event.TypeWorkerCreated); len(got) != 1 {
		t.Fatalf("expected one worker_created event, got %d", len(got))
	}
}

func TestAssignmentEmitsWorkerAndTaskBackToBack(t *testing.T) {
	coord, _, rec, _ := newTestCoordinator(t)
	coord.AddTask(model.Task{ID: 1, Title: "Implement API handler"})
	coord.Dispatch()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assignedAt := -1
	for i, e := range rec.events {
		if e.Type == event.TypeTaskAssigned {
			assignedAt = i
			break
		}
	}
	if assignedAt < 0 {
		t.Fatal("no task_assigned event emitted")
	}
	if assignedAt+2 >= len(rec.events) {
		t.Fatal("assignment events truncated")
	}
	if rec.events[assignedAt+1].Type != event.TypeWorkerStatusChanged {
		t.Fatalf("expected worker_status_changed right after task_assigned, got %s", rec.events[assignedAt+1].Type)
	}
	if rec.events[assignedAt+2].Type != event.TypeTaskStatusChanged {
		t.Fatalf("expected task_status_changed after worker update, got %s", rec.events[assignedAt+2].Type)
	}
}

func TestIdleWorkerIsReusedBeforeCreating(t *testing.T) {
	coord, _, rec, _ := newTestCoordinator(t)
	coord.AddTask(model.Task{ID: 1, Title: "Implement API handler"})
	coord.Dispatch()
	if err := coord.Complete(1, passing(1)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	coord.AddTask(model.Task{ID: 2, Title: "Implement persistence layer"})
	assignments := coord.Dispatch()
	if len(assignments) != 1 {
		t.Fatalf("expected one assignment, got %d", len(assignments))
	}
	if assignments[0].Created {
		t.Fatal("expected idle worker reuse, not creation")
	}
	if assignments[0].WorkerID != "backend-worker-001" {
		t.Fatalf("expected reuse of backend-worker-001, got %s", assignments[0].WorkerID)
	}
	if got := rec.ofType(event.TypeWorkerCreated); len(got) != 1 {
		t.Fatalf("expected a single worker_created in total, got %d", len(got))
	}
}

func TestCapacityExhaustedLeavesTaskPending(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t, WithCapacity(1))
	coord.AddTask(model.Task{ID: 1, Title: "Implement API handler"})
	coord.AddTask(model.Task{ID: 2, Title: "Implement job queue"})

	assignments := coord.Dispatch()
	if len(assignments) != 1 {
		t.Fatalf("expected one assignment under capacity 1, got %d", len(assignments))
	}
	task, err := st.Task(1, 2)
	if err != nil {
		t.Fatalf("task lookup: %v", err)
	}
	if task.Status != model.TaskPending || task.AssignedTo != "" {
		t.Fatalf("expected task 2 to stay pending and unassigned, got %+v", task)
	}
}

func TestCompleteUnblocksDependentsAndRedispatches(t *testing.T) {
	coord, st, rec, _ := newTestCoordinator(t)
	coord.AddTask(model.Task{ID: 1, Title: "Implement data model"})
	coord.AddTask(model.Task{ID: 2, Title: "Implement handlers", BlockedBy: []int64{1}})
	coord.Dispatch()

	blocked, err := st.Task(1, 2)
	if err != nil {
		t.Fatalf("task lookup: %v", err)
	}
	if blocked.Status != model.TaskBlocked {
		t.Fatalf("expected task 2 blocked, got %s", blocked.Status)
	}

	if err := coord.Complete(1, passing(1)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	after, err := st.Task(1, 2)
	if err != nil {
		t.Fatalf("task lookup: %v", err)
	}
	if after.Status != model.TaskInProgress {
		t.Fatalf("expected task 2 auto-assigned after unblock, got %s", after.Status)
	}
	if len(after.BlockedBy) != 0 {
		t.Fatalf("expected empty blocking set, got %v", after.BlockedBy)
	}
	if got := rec.ofType(event.TypeTaskUnblocked); len(got) != 1 {
		t.Fatalf("expected one task_unblocked event, got %d", len(got))
	}
}

func TestAddTaskDropsAlreadyCompletedBlockers(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	coord.AddTask(model.Task{ID: 1, Title: "Implement data model"})
	coord.Dispatch()
	if err := coord.Complete(1, passing(1)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	coord.AddTask(model.Task{ID: 2, Title: "Implement handlers", BlockedBy: []int64{1}})
	task, err := st.Task(1, 2)
	if err != nil {
		t.Fatalf("task lookup: %v", err)
	}
	if task.Status == model.TaskBlocked {
		t.Fatal("task blocked on an already completed dependency")
	}
	if len(task.BlockedBy) != 0 {
		t.Fatalf("expected outstanding set to be empty, got %v", task.BlockedBy)
	}
}

func TestRetryBudgetExhaustionFailsTask(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t, WithRetryBudget(3), WithCapacity(1))
	coord.AddTask(model.Task{ID: 1, Title: "Implement flaky integration"})

	for attempt := 1; attempt <= 3; attempt++ {
		assignments := coord.Dispatch()
		if attempt < 4 && len(assignments) == 0 {
			// Fail redispatches internally, so later attempts may already be
			// assigned by the time Dispatch runs.
			task, err := st.Task(1, 1)
			if err != nil {
				t.Fatalf("task lookup: %v", err)
			}
			if task.Status != model.TaskInProgress {
				t.Fatalf("attempt %d: task not in progress: %s", attempt, task.Status)
			}
		}
		if err := coord.Fail(1, "compile error"); err != nil {
			t.Fatalf("Fail attempt %d: %v", attempt, err)
		}
	}

	task, err := st.Task(1, 1)
	if err != nil {
		t.Fatalf("task lookup: %v", err)
	}
	if task.Status != model.TaskFailed {
		t.Fatalf("expected task failed after budget exhaustion, got %s", task.Status)
	}
	worker, err := st.Worker(1, "backend-worker-001")
	if err != nil {
		t.Fatalf("worker lookup: %v", err)
	}
	if worker.Status != model.WorkerIdle {
		t.Fatalf("expected worker freed, got %s", worker.Status)
	}
}

func TestFailWithinBudgetReturnsTaskToPending(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t, WithRetryBudget(3))
	coord.AddTask(model.Task{ID: 1, Title: "Implement flaky integration"})
	coord.Dispatch()
	if err := coord.Fail(1, "compile error"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	// Fail redispatches, so the task should already be reassigned.
	task, err := st.Task(1, 1)
	if err != nil {
		t.Fatalf("task lookup: %v", err)
	}
	if task.Status != model.TaskInProgress {
		t.Fatalf("expected retry assignment, got %s", task.Status)
	}
}

func TestIdleWorkersRetireAfterWindow(t *testing.T) {
	coord, st, rec, clock := newTestCoordinator(t, WithRetireAfter(10*time.Minute))
	coord.AddTask(model.Task{ID: 1, Title: "Implement API handler"})
	coord.Dispatch()
	if err := coord.Complete(1, passing(1)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	clock.Advance(11 * time.Minute)
	coord.Dispatch()

	if _, err := st.Worker(1, "backend-worker-001"); err == nil {
		t.Fatal("expected idle worker to be retired")
	}
	if got := rec.ofType(event.TypeWorkerRetired); len(got) != 1 {
		t.Fatalf("expected one worker_retired event, got %d", len(got))
	}
}

func TestIdleWorkersSurviveWithinWindow(t *testing.T) {
	coord, st, _, clock := newTestCoordinator(t, WithRetireAfter(10*time.Minute))
	coord.AddTask(model.Task{ID: 1, Title: "Implement API handler"})
	coord.Dispatch()
	if err := coord.Complete(1, passing(1)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	clock.Advance(5 * time.Minute)
	coord.Dispatch()

	if _, err := st.Worker(1, "backend-worker-001"); err != nil {
		t.Fatalf("worker retired too early: %v", err)
	}
}

func TestHoldAndReleaseWorker(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	coord.AddTask(model.Task{ID: 1, Title: "Implement API handler"})
	coord.Dispatch()

	if err := coord.HoldWorker("backend-worker-001", "need schema decision"); err != nil {
		t.Fatalf("HoldWorker: %v", err)
	}
	worker, _ := st.Worker(1, "backend-worker-001")
	if worker.Status != model.WorkerBlocked || worker.Blocker == "" {
		t.Fatalf("expected blocked worker with blocker text, got %+v", worker)
	}

	if err := coord.ReleaseWorkerHold("backend-worker-001"); err != nil {
		t.Fatalf("ReleaseWorkerHold: %v", err)
	}
	worker, _ = st.Worker(1, "backend-worker-001")
	if worker.Status != model.WorkerWorking {
		t.Fatalf("expected worker back to working, got %s", worker.Status)
	}
}

func TestSyncBlockerSuspendsWorkerUntilAllResolved(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	coord.AddTask(model.Task{ID: 1, Title: "Implement API handler"})
	coord.Dispatch()

	first, err := coord.RaiseBlocker("backend-worker-001", 1, blocker.KindSync, "which schema version?")
	if err != nil {
		t.Fatalf("RaiseBlocker: %v", err)
	}
	second, err := coord.RaiseBlocker("backend-worker-001", 1, blocker.KindSync, "which auth flow?")
	if err != nil {
		t.Fatalf("RaiseBlocker: %v", err)
	}
	worker, _ := st.Worker(1, "backend-worker-001")
	if worker.Status != model.WorkerBlocked {
		t.Fatalf("expected blocked worker, got %s", worker.Status)
	}
	if got := coord.PendingBlockers("backend-worker-001"); len(got) != 2 || got[0].ID != first.ID {
		t.Fatalf("unexpected pending blockers: %v", got)
	}

	if err := coord.ResolveBlocker(first.ID, "v2"); err != nil {
		t.Fatalf("ResolveBlocker: %v", err)
	}
	worker, _ = st.Worker(1, "backend-worker-001")
	if worker.Status != model.WorkerBlocked {
		t.Fatalf("worker released with a blocker still pending: %s", worker.Status)
	}

	if err := coord.ExpireBlocker(second.ID); err != nil {
		t.Fatalf("ExpireBlocker: %v", err)
	}
	worker, _ = st.Worker(1, "backend-worker-001")
	if worker.Status != model.WorkerWorking {
		t.Fatalf("expected worker resumed, got %s", worker.Status)
	}
	if err := coord.ResolveBlocker(second.ID, "again"); err == nil {
		t.Fatal("expected an error resolving a closed blocker")
	}
}

func TestAsyncBlockerDoesNotSuspendWorker(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	coord.AddTask(model.Task{ID: 1, Title: "Implement API handler"})
	coord.Dispatch()

	if _, err := coord.RaiseBlocker("backend-worker-001", 1, blocker.KindAsync, "naming preference?"); err != nil {
		t.Fatalf("RaiseBlocker: %v", err)
	}
	worker, _ := st.Worker(1, "backend-worker-001")
	if worker.Status != model.WorkerWorking {
		t.Fatalf("async blocker suspended the worker: %s", worker.Status)
	}
	if got := coord.PendingBlockers("backend-worker-001"); len(got) != 1 {
		t.Fatalf("expected one pending blocker, got %d", len(got))
	}
}

func TestProgressRefreshesOnCompletion(t *testing.T) {
	coord, st, _, _ := newTestCoordinator(t)
	coord.AddTask(model.Task{ID: 1, Title: "Implement API handler"})
	coord.AddTask(model.Task{ID: 2, Title: "Implement job queue"})
	coord.Dispatch()
	if err := coord.Complete(1, passing(1)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	p := st.Progress(1)
	if p.Completed != 1 || p.Total != 2 || p.Percent != 50 {
		t.Fatalf("unexpected progress: %+v", p)
	}
}

func TestClassifyTask(t *testing.T) {
	cases := map[string]model.WorkerType{
		"Write unit tests for resolver": model.WorkerTest,
		"Build settings page layout":    model.WorkerFrontend,
		"Review error handling":         model.WorkerReview,
		"Implement journal compaction":  model.WorkerBackend,
	}
	for title, want := range cases {
		if got := classifyTask(title); got != want {
			t.Fatalf("classifyTask(%q) = %s, want %s", title, got, want)
		}
	}
}
