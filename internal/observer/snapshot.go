package observer

import "github.com/kingrea/crucible/internal/model"

// VCSLimit bounds the retained commit and branch records.
const VCSLimit = 50

// CommitRecord is a version-control commit surfaced in the dashboard.
type CommitRecord struct {
	TaskID    int64
	Hash      string
	Message   string
	Timestamp float64
}

// BranchRecord is a version-control branch surfaced in the dashboard.
type BranchRecord struct {
	BranchID  int64
	Name      string
	TaskID    int64
	Timestamp float64
}

// Snapshot is one observer's local copy of project state. Reductions return
// a new snapshot and never mutate the receiver, so a reader holding an old
// snapshot always sees internally consistent state.
type Snapshot struct {
	Workers      map[string]model.Worker
	Tasks        map[int64]model.Task
	Activity     []model.ActivityItem
	Progress     map[int64]model.Progress
	Commits      []CommitRecord
	Branches     []BranchRecord
	LastSyncedAt float64
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{
		Workers:  make(map[string]model.Worker),
		Tasks:    make(map[int64]model.Task),
		Progress: make(map[int64]model.Progress),
	}
}

func (s Snapshot) cloneWorkers() map[string]model.Worker {
	out := make(map[string]model.Worker, len(s.Workers)+1)
	for id, w := range s.Workers {
		out[id] = w
	}
	return out
}

func (s Snapshot) cloneTasks() map[int64]model.Task {
	out := make(map[int64]model.Task, len(s.Tasks)+1)
	for id, t := range s.Tasks {
		out[id] = t
	}
	return out
}

func (s Snapshot) cloneProgress() map[int64]model.Progress {
	out := make(map[int64]model.Progress, len(s.Progress)+1)
	for id, p := range s.Progress {
		out[id] = p
	}
	return out
}
