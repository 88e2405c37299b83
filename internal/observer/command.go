package observer

import "github.com/kingrea/crucible/internal/model"

// Command is one typed state transition produced by the mapper. Every
// command carries the origin timestamp (epoch milliseconds; possibly NaN for
// an unparseable wire timestamp) used by the reducer's last-write-wins rule.
type Command interface {
	commandTimestamp() float64
}

type stamped struct {
	Timestamp float64
}

func (s stamped) commandTimestamp() float64 { return s.Timestamp }

// UpsertWorker creates a worker or refreshes one that already exists;
// re-creation updates in place so worker ids stay unique.
type UpsertWorker struct {
	stamped
	ProjectID      int64
	WorkerID       string
	Type           model.WorkerType
	Provider       string
	TasksCompleted int
}

// SetWorkerStatus transitions a worker's lifecycle state. TokensUsed carries
// the worker's cumulative usage counter; zero means the event did not report
// it.
type SetWorkerStatus struct {
	stamped
	ProjectID   int64
	WorkerID    string
	Status      model.WorkerStatus
	CurrentTask *model.TaskRef
	Blocker     string
	TokensUsed  int64
}

// RetireWorker removes a worker from the snapshot.
type RetireWorker struct {
	stamped
	ProjectID int64
	WorkerID  string
}

// AssignTask binds a task to a worker. The reducer applies the task's worker
// reference and the worker's current-task reference in one indivisible
// reduction.
type AssignTask struct {
	stamped
	ProjectID int64
	TaskID    int64
	WorkerID  string
	Title     string
}

// SetTaskStatus transitions a task's lifecycle state.
type SetTaskStatus struct {
	stamped
	ProjectID int64
	TaskID    int64
	Status    model.TaskStatus
	WorkerID  string
	Progress  *int
}

// SetTaskBlocked marks a task blocked by the given outstanding ids.
type SetTaskBlocked struct {
	stamped
	ProjectID int64
	TaskID    int64
	BlockedBy []int64
}

// SetTaskUnblocked returns a blocked task to pending.
type SetTaskUnblocked struct {
	stamped
	ProjectID int64
	TaskID    int64
}

// AppendActivity appends one activity feed entry.
type AppendActivity struct {
	stamped
	ProjectID int64
	Category  string
	Worker    string
	Message   string
}

// SetProgress replaces the project progress summary outright.
type SetProgress struct {
	stamped
	ProjectID int64
	Completed int
	Total     int
	Percent   float64
}

// RecordCommit appends a version-control commit reported by the git
// collaborator.
type RecordCommit struct {
	stamped
	ProjectID int64
	TaskID    int64
	Hash      string
	Message   string
}

// RecordBranch appends a version-control branch reported by the git
// collaborator.
type RecordBranch struct {
	stamped
	ProjectID int64
	BranchID  int64
	Name      string
	TaskID    int64
}
