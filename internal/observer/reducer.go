package observer

import (
	"math"

	"github.com/kingrea/crucible/internal/model"
)

// Reduce applies one command to a snapshot and returns the next snapshot.
//
// The correctness rule is last-write-wins per entity: a command touches an
// entity's fields only when its timestamp is at least the entity's stored
// timestamp; a stale command's field writes are discarded while its
// independent effects (activity entries, VCS records) still apply. Because
// the comparison uses the command's origin timestamp, applying any pair of
// commands for the same entity in either arrival order converges on the one
// with the greater timestamp, and re-applying a duplicate is a no-op.
func Reduce(s Snapshot, cmd Command) Snapshot {
	switch c := cmd.(type) {
	case UpsertWorker:
		return reduceUpsertWorker(s, c)
	case SetWorkerStatus:
		return reduceWorkerStatus(s, c)
	case RetireWorker:
		return reduceRetireWorker(s, c)
	case AssignTask:
		return reduceAssignTask(s, c)
	case SetTaskStatus:
		return reduceTaskStatus(s, c)
	case SetTaskBlocked:
		return reduceTaskBlocked(s, c)
	case SetTaskUnblocked:
		return reduceTaskUnblocked(s, c)
	case AppendActivity:
		return reduceActivity(s, c)
	case SetProgress:
		return reduceProgress(s, c)
	case RecordCommit:
		return reduceCommit(s, c)
	case RecordBranch:
		return reduceBranch(s, c)
	}
	return s
}

// fresher reports whether a command stamped ts may write over an entity
// stamped stored. A NaN command timestamp loses every comparison, including
// against an absent entity (stored zero), so a garbled event can neither
// overwrite good state nor create an entity carrying a NaN stamp.
func fresher(ts, stored float64) bool {
	if math.IsNaN(ts) {
		return false
	}
	return ts >= stored || math.IsNaN(stored)
}

func reduceUpsertWorker(s Snapshot, c UpsertWorker) Snapshot {
	existing, exists := s.Workers[c.WorkerID]
	if !fresher(c.Timestamp, existing.UpdatedAt) {
		return s
	}
	w := existing.Clone()
	if !exists {
		w.ID = c.WorkerID
		w.Status = model.WorkerIdle
	}
	// Re-creation of a known id updates in place; the pool never holds two
	// workers with the same id.
	w.Type = c.Type
	w.Provider = c.Provider
	if c.TasksCompleted > 0 {
		w.TasksCompleted = c.TasksCompleted
	}
	w.UpdatedAt = c.Timestamp
	next := s
	next.Workers = s.cloneWorkers()
	next.Workers[c.WorkerID] = w
	return next
}

func reduceWorkerStatus(s Snapshot, c SetWorkerStatus) Snapshot {
	existing, exists := s.Workers[c.WorkerID]
	if !fresher(c.Timestamp, existing.UpdatedAt) {
		return s
	}
	w := existing.Clone()
	if !exists {
		w.ID = c.WorkerID
		w.Type = model.DefaultWorkerType
		w.Provider = model.DefaultProvider
	}
	w.Status = c.Status
	w.Blocker = c.Blocker
	if c.TokensUsed > 0 {
		w.TokensUsed = c.TokensUsed
	}
	switch {
	case c.CurrentTask != nil:
		ref := *c.CurrentTask
		w.CurrentTask = &ref
	case c.Status == model.WorkerIdle:
		w.CurrentTask = nil
	}
	w.UpdatedAt = c.Timestamp
	next := s
	next.Workers = s.cloneWorkers()
	next.Workers[c.WorkerID] = w
	return next
}

func reduceRetireWorker(s Snapshot, c RetireWorker) Snapshot {
	existing, exists := s.Workers[c.WorkerID]
	if !exists || !fresher(c.Timestamp, existing.UpdatedAt) {
		return s
	}
	next := s
	next.Workers = s.cloneWorkers()
	delete(next.Workers, c.WorkerID)
	return next
}

// reduceAssignTask updates the task's worker reference and the worker's
// current-task reference in one reduction. The gate is the task's stored
// timestamp: a stale assignment touches neither entity, so observers never
// see a half-assigned pair.
func reduceAssignTask(s Snapshot, c AssignTask) Snapshot {
	existingTask := s.Tasks[c.TaskID]
	if !fresher(c.Timestamp, existingTask.UpdatedAt) {
		return s
	}
	task := existingTask.Clone()
	task.ID = c.TaskID
	task.ProjectID = c.ProjectID
	if c.Title != "" {
		task.Title = c.Title
	}
	task.Status = model.TaskInProgress
	task.AssignedTo = c.WorkerID
	task.BlockedBy = nil
	task.UpdatedAt = c.Timestamp

	worker, workerExists := s.Workers[c.WorkerID]
	w := worker.Clone()
	if !workerExists {
		w.ID = c.WorkerID
		w.Type = model.DefaultWorkerType
		w.Provider = model.DefaultProvider
	}
	w.Status = model.WorkerWorking
	w.CurrentTask = &model.TaskRef{ID: task.ID, Title: task.Title}
	w.UpdatedAt = c.Timestamp

	next := s
	next.Tasks = s.cloneTasks()
	next.Tasks[c.TaskID] = task
	next.Workers = s.cloneWorkers()
	next.Workers[c.WorkerID] = w
	return next
}

func reduceTaskStatus(s Snapshot, c SetTaskStatus) Snapshot {
	existing := s.Tasks[c.TaskID]
	if !fresher(c.Timestamp, existing.UpdatedAt) {
		return s
	}
	task := existing.Clone()
	task.ID = c.TaskID
	if c.ProjectID != 0 {
		task.ProjectID = c.ProjectID
	}
	task.Status = c.Status
	switch {
	case c.WorkerID != "":
		task.AssignedTo = c.WorkerID
	case c.Status == model.TaskPending:
		// A task returned to pending was released by its worker.
		task.AssignedTo = ""
	}
	if c.Progress != nil {
		pct := *c.Progress
		task.Progress = &pct
	}
	if c.Status != model.TaskBlocked {
		task.BlockedBy = nil
	}
	task.UpdatedAt = c.Timestamp

	next := s
	next.Tasks = s.cloneTasks()
	next.Tasks[c.TaskID] = task

	// Completion frees the owning worker in the same reduction so the pair
	// never disagrees, mirroring the authoritative transition.
	if c.Status == model.TaskCompleted && task.AssignedTo != "" {
		if w, ok := s.Workers[task.AssignedTo]; ok && w.CurrentTask != nil && w.CurrentTask.ID == c.TaskID {
			if fresher(c.Timestamp, w.UpdatedAt) {
				freed := w.Clone()
				freed.Status = model.WorkerIdle
				freed.CurrentTask = nil
				freed.TasksCompleted++
				freed.UpdatedAt = c.Timestamp
				next.Workers = s.cloneWorkers()
				next.Workers[freed.ID] = freed
			}
		}
	}
	return next
}

func reduceTaskBlocked(s Snapshot, c SetTaskBlocked) Snapshot {
	existing := s.Tasks[c.TaskID]
	if !fresher(c.Timestamp, existing.UpdatedAt) {
		return s
	}
	task := existing.Clone()
	task.ID = c.TaskID
	if c.ProjectID != 0 {
		task.ProjectID = c.ProjectID
	}
	task.Status = model.TaskBlocked
	task.BlockedBy = append([]int64(nil), c.BlockedBy...)
	task.UpdatedAt = c.Timestamp
	next := s
	next.Tasks = s.cloneTasks()
	next.Tasks[c.TaskID] = task
	return next
}

func reduceTaskUnblocked(s Snapshot, c SetTaskUnblocked) Snapshot {
	existing := s.Tasks[c.TaskID]
	if !fresher(c.Timestamp, existing.UpdatedAt) {
		return s
	}
	task := existing.Clone()
	task.ID = c.TaskID
	task.Status = model.TaskPending
	task.BlockedBy = nil
	task.UpdatedAt = c.Timestamp
	next := s
	next.Tasks = s.cloneTasks()
	next.Tasks[c.TaskID] = task
	return next
}

// reduceActivity is append-only: duplicates and stale timestamps still
// append, and the feed stays bounded with the oldest entries evicted first.
func reduceActivity(s Snapshot, c AppendActivity) Snapshot {
	next := s
	next.Activity = model.AppendActivity(s.Activity, model.ActivityItem{
		Timestamp: c.Timestamp,
		Category:  c.Category,
		Worker:    c.Worker,
		Message:   c.Message,
	})
	return next
}

func reduceProgress(s Snapshot, c SetProgress) Snapshot {
	existing := s.Progress[c.ProjectID]
	if !fresher(c.Timestamp, existing.UpdatedAt) {
		return s
	}
	next := s
	next.Progress = s.cloneProgress()
	next.Progress[c.ProjectID] = model.Progress{
		Completed: c.Completed,
		Total:     c.Total,
		Percent:   c.Percent,
		UpdatedAt: c.Timestamp,
	}
	return next
}

func reduceCommit(s Snapshot, c RecordCommit) Snapshot {
	next := s
	commits := make([]CommitRecord, 0, len(s.Commits)+1)
	commits = append(commits, s.Commits...)
	commits = append(commits, CommitRecord{
		TaskID:    c.TaskID,
		Hash:      c.Hash,
		Message:   c.Message,
		Timestamp: c.Timestamp,
	})
	if len(commits) > VCSLimit {
		commits = commits[len(commits)-VCSLimit:]
	}
	next.Commits = commits
	return next
}

func reduceBranch(s Snapshot, c RecordBranch) Snapshot {
	next := s
	branches := make([]BranchRecord, 0, len(s.Branches)+1)
	branches = append(branches, s.Branches...)
	branches = append(branches, BranchRecord{
		BranchID:  c.BranchID,
		Name:      c.Name,
		TaskID:    c.TaskID,
		Timestamp: c.Timestamp,
	})
	if len(branches) > VCSLimit {
		branches = branches[len(branches)-VCSLimit:]
	}
	next.Branches = branches
	return next
}
