// Package event defines the wire event envelope and the encoder that turns
// every authoritative state mutation into exactly one typed event. Events
// carry the minimal payload needed to reconstruct the change, never a full
// entity snapshot, so adding a new type can never disturb existing handling.
package event

import (
	"encoding/json"
	"fmt"
)

// Type tags one event on the wire.
type Type string

// Primary event types emitted by the coordinator, plus the two version
// control pass-throughs reported by the git collaborator using the same
// envelope.
const (
	TypeWorkerCreated       Type = "worker_created"
	TypeWorkerStatusChanged Type = "worker_status_changed"
	TypeWorkerRetired       Type = "worker_retired"
	TypeTaskAssigned        Type = "task_assigned"
	TypeTaskStatusChanged   Type = "task_status_changed"
	TypeTaskBlocked         Type = "task_blocked"
	TypeTaskUnblocked       Type = "task_unblocked"
	TypeActivityUpdate      Type = "activity_update"
	TypeProgressUpdate      Type = "progress_update"
	TypeCommitCreated       Type = "commit_created"
	TypeBranchCreated       Type = "branch_created"
)

// Event is the wire envelope. Fields holds the type-specific payload; on the
// wire those keys are flattened into the top-level JSON object alongside the
// envelope fields, matching what observers historically consumed.
type Event struct {
	ID        string
	Type      Type
	ProjectID int64
	Timestamp float64
	Fields    map[string]any
}

// MarshalJSON flattens Fields into the envelope object. Payload keys never
// override envelope keys.
func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Fields)+4)
	for k, v := range e.Fields {
		flat[k] = v
	}
	flat["event_id"] = e.ID
	flat["type"] = string(e.Type)
	flat["project_id"] = e.ProjectID
	flat["timestamp"] = e.Timestamp
	return json.Marshal(flat)
}

// UnmarshalJSON splits the flattened wire object back into envelope fields
// and payload. Unknown keys land in Fields untouched.
func (e *Event) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("event: decode envelope: %w", err)
	}
	if id, ok := flat["event_id"].(string); ok {
		e.ID = id
	}
	if kind, ok := flat["type"].(string); ok {
		e.Type = Type(kind)
	}
	if project, ok := flat["project_id"].(float64); ok {
		e.ProjectID = int64(project)
	}
	if ts, ok := flat["timestamp"].(float64); ok {
		e.Timestamp = ts
	}
	delete(flat, "event_id")
	delete(flat, "type")
	delete(flat, "project_id")
	delete(flat, "timestamp")
	e.Fields = flat
	return nil
}

// Raw returns the event re-expanded to the flattened wire map, the shape the
// observer mapper validates. Envelope values win over payload duplicates.
func (e Event) Raw() map[string]any {
	raw := make(map[string]any, len(e.Fields)+4)
	for k, v := range e.Fields {
		raw[k] = v
	}
	raw["event_id"] = e.ID
	raw["type"] = string(e.Type)
	raw["project_id"] = float64(e.ProjectID)
	raw["timestamp"] = e.Timestamp
	return raw
}
