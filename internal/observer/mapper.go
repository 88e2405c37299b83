package observer

import (
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/crucible/internal/model"
)

// Mapper turns untrusted wire events into typed commands. It is a pure
// function over its input: malformed, incomplete, or unrecognized events map
// to no command, never to a panic or a partial application. Unknown payload
// fields are ignored; coercion rules follow the wire contract exactly.
type Mapper struct {
	log *zap.Logger
}

// NewMapper builds a mapper. The logger only ever writes debug-level drop
// diagnostics, which production configurations silence.
func NewMapper(log *zap.Logger) *Mapper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mapper{log: log}
}

// Map validates raw and returns its command. ok is false when the event must
// be dropped.
func (m *Mapper) Map(raw map[string]any) (Command, bool) {
	if raw == nil {
		return nil, false
	}
	kind, _ := stringField(raw, "type")
	project := intField(raw, "project_id", 0)
	ts := timestampField(raw)
	base := stamped{Timestamp: ts}

	switch kind {
	case "worker_created":
		id, okID := stringField(raw, "worker_id")
		rawType, okType := stringField(raw, "worker_type")
		if !okID || !okType {
			return m.drop(kind, "missing worker id or type")
		}
		workerType, known := model.ParseWorkerType(rawType)
		if !known {
			m.log.Debug("coerced unknown worker type", zap.String("worker_type", rawType))
		}
		provider, ok := stringField(raw, "provider")
		if !ok {
			provider = model.DefaultProvider
		}
		return UpsertWorker{
			stamped:        base,
			ProjectID:      project,
			WorkerID:       id,
			Type:           workerType,
			Provider:       provider,
			TasksCompleted: intAt(raw, "tasks_completed"),
		}, true

	case "worker_status_changed":
		id, okID := stringField(raw, "worker_id")
		status, okStatus := workerStatusField(raw)
		if !okID || !okStatus {
			return m.drop(kind, "missing worker id or status")
		}
		cmd := SetWorkerStatus{
			stamped:    base,
			ProjectID:  project,
			WorkerID:   id,
			Status:     status,
			TokensUsed: intField(raw, "tokens_used", 0),
		}
		if blocker, ok := stringField(raw, "blocker"); ok {
			cmd.Blocker = blocker
		}
		if ref, ok := taskRefField(raw, "current_task"); ok {
			cmd.CurrentTask = ref
		}
		return cmd, true

	case "worker_retired":
		id, ok := stringField(raw, "worker_id")
		if !ok {
			return m.drop(kind, "missing worker id")
		}
		return RetireWorker{stamped: base, ProjectID: project, WorkerID: id}, true

	case "task_assigned":
		taskID := intField(raw, "task_id", 0)
		workerID, okWorker := stringField(raw, "worker_id")
		if taskID == 0 || !okWorker || project == 0 {
			return m.drop(kind, "missing task, worker, or project id")
		}
		title, _ := stringField(raw, "title")
		return AssignTask{
			stamped:   base,
			ProjectID: project,
			TaskID:    taskID,
			WorkerID:  workerID,
			Title:     title,
		}, true

	case "task_status_changed":
		taskID := intField(raw, "task_id", 0)
		status, okStatus := taskStatusField(raw)
		if taskID == 0 || !okStatus {
			return m.drop(kind, "missing task id or status")
		}
		cmd := SetTaskStatus{
			stamped:   base,
			ProjectID: project,
			TaskID:    taskID,
			Status:    status,
		}
		if workerID, ok := stringField(raw, "worker_id"); ok {
			cmd.WorkerID = workerID
		}
		if pct, ok := optionalIntField(raw, "progress"); ok {
			cmd.Progress = &pct
		}
		return cmd, true

	case "task_blocked":
		taskID := intField(raw, "task_id", 0)
		if taskID == 0 {
			return m.drop(kind, "missing task id")
		}
		return SetTaskBlocked{
			stamped:   base,
			ProjectID: project,
			TaskID:    taskID,
			BlockedBy: intListField(raw, "blocked_by"),
		}, true

	case "task_unblocked":
		taskID := intField(raw, "task_id", 0)
		if taskID == 0 {
			return m.drop(kind, "missing task id")
		}
		return SetTaskUnblocked{stamped: base, ProjectID: project, TaskID: taskID}, true

	case "activity_update":
		message, ok := stringField(raw, "message")
		if !ok {
			return m.drop(kind, "missing message")
		}
		category, ok := stringField(raw, "activity_type")
		if !ok {
			category = "info"
		}
		worker, ok := stringField(raw, "worker")
		if !ok {
			worker = model.SystemActor
		}
		return AppendActivity{
			stamped:   base,
			ProjectID: project,
			Category:  category,
			Worker:    worker,
			Message:   message,
		}, true

	case "progress_update":
		return SetProgress{
			stamped:   base,
			ProjectID: project,
			Completed: intAt(raw, "completed_tasks"),
			Total:     intAt(raw, "total_tasks"),
			Percent:   floatField(raw, "percentage"),
		}, true

	case "commit_created":
		hash, okHash := stringField(raw, "commit_hash")
		message, okMsg := stringField(raw, "commit_message")
		if !okHash || !okMsg {
			// A commit record without both hash and message is meaningless.
			return m.drop(kind, "missing commit hash or message")
		}
		return RecordCommit{
			stamped:   base,
			ProjectID: project,
			TaskID:    intField(raw, "task_id", 0),
			Hash:      hash,
			Message:   message,
		}, true

	case "branch_created":
		branch, ok := raw["branch"].(map[string]any)
		if !ok {
			return m.drop(kind, "missing branch record")
		}
		branchID := intField(branch, "id", 0)
		name, okName := stringField(branch, "name")
		if branchID == 0 || !okName {
			return m.drop(kind, "branch record missing id or name")
		}
		return RecordBranch{
			stamped:   base,
			ProjectID: project,
			BranchID:  branchID,
			Name:      name,
			TaskID:    intField(raw, "task_id", 0),
		}, true
	}
	return m.drop(kind, "unrecognized event type")
}

func (m *Mapper) drop(kind, reason string) (Command, bool) {
	m.log.Debug("dropped event", zap.String("type", kind), zap.String("reason", reason))
	return nil, false
}

// stringField fetches a non-empty string value.
func stringField(raw map[string]any, key string) (string, bool) {
	value, ok := raw[key].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// intField fetches an integer, accepting JSON numbers and numeric strings.
func intField(raw map[string]any, key string, fallback int64) int64 {
	switch v := raw[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// intAt coerces a numeric counter, defaulting to 0 when unparseable.
func intAt(raw map[string]any, key string) int {
	return int(intField(raw, key, 0))
}

func optionalIntField(raw map[string]any, key string) (int, bool) {
	if _, present := raw[key]; !present {
		return 0, false
	}
	return intAt(raw, key), true
}

func floatField(raw map[string]any, key string) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return 0
}

func intListField(raw map[string]any, key string) []int64 {
	list, ok := raw[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case float64:
			out = append(out, int64(v))
		case int64:
			out = append(out, v)
		}
	}
	return out
}

func workerStatusField(raw map[string]any) (model.WorkerStatus, bool) {
	value, ok := stringField(raw, "status")
	if !ok {
		return "", false
	}
	switch status := model.WorkerStatus(value); status {
	case model.WorkerIdle, model.WorkerWorking, model.WorkerBlocked:
		return status, true
	}
	return "", false
}

func taskStatusField(raw map[string]any) (model.TaskStatus, bool) {
	value, ok := stringField(raw, "status")
	if !ok {
		return "", false
	}
	switch status := model.TaskStatus(value); status {
	case model.TaskPending, model.TaskInProgress, model.TaskBlocked, model.TaskCompleted, model.TaskFailed:
		return status, true
	}
	return "", false
}

func taskRefField(raw map[string]any, key string) (*model.TaskRef, bool) {
	nested, ok := raw[key].(map[string]any)
	if !ok {
		return nil, false
	}
	id := intField(nested, "id", 0)
	if id == 0 {
		return nil, false
	}
	title, _ := stringField(nested, "title")
	return &model.TaskRef{ID: id, Title: title}, true
}

// timestampField normalizes the envelope timestamp. Numeric values pass
// through as epoch milliseconds; RFC 3339 strings parse to epoch
// milliseconds; numeric strings parse directly. Anything else yields NaN,
// which loses every last-write comparison, so a command with a garbled
// timestamp can never overwrite good state.
func timestampField(raw map[string]any) float64 {
	switch v := raw["timestamp"].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return float64(t.UnixMilli())
		}
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
		return math.NaN()
	}
	return math.NaN()
}
