package models

import (
	"time"
)

// InstanceStatus represents the lifecycle status of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are accepted.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusCancelled
}

// Priority of a workflow instance.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// History actions written by the engine itself.
const (
	ActionStarted = "started"
)

// WorkflowInstance is one execution of a workflow definition.
type WorkflowInstance struct {
	ID            string         `json:"id" db:"id"`
	DefinitionID  string         `json:"definition_id" db:"definition_id"`
	Name          string         `json:"name" db:"name"`
	CurrentStepID *string        `json:"current_step_id" db:"current_step_id"`
	Status        InstanceStatus `json:"status" db:"status"`
	Context       map[string]any `json:"context" db:"context"`
	Priority      Priority       `json:"priority" db:"priority"`
	DueDate       *time.Time     `json:"due_date,omitempty" db:"due_date"`
	StartedBy     string         `json:"started_by" db:"started_by"`
	StartedAt     time.Time      `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`

	// PinnedSteps holds the step graph captured at start when instances are
	// pinned to the definition they were started from.
	PinnedSteps []Step `json:"pinned_steps,omitempty" db:"pinned_steps"`
}

// Clone returns a copy that shares no mutable state with i.
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}
	out := *i
	if i.CurrentStepID != nil {
		step := *i.CurrentStepID
		out.CurrentStepID = &step
	}
	out.Context = CloneMap(i.Context)
	if i.DueDate != nil {
		due := *i.DueDate
		out.DueDate = &due
	}
	if i.CompletedAt != nil {
		completed := *i.CompletedAt
		out.CompletedAt = &completed
	}
	if i.PinnedSteps != nil {
		out.PinnedSteps = append([]Step(nil), i.PinnedSteps...)
	}
	return &out
}

// HistoryEntry is an append-only record of an instance transition.
type HistoryEntry struct {
	ID          string         `json:"id" db:"id"`
	Seq         int64          `json:"-" db:"seq"`
	InstanceID  string         `json:"instance_id" db:"instance_id"`
	StepID      *string        `json:"step_id" db:"step_id"`
	Action      string         `json:"action" db:"action"`
	Payload     map[string]any `json:"payload" db:"payload"`
	PerformedBy string         `json:"performed_by" db:"performed_by"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// CloneMap copies m recursively so nested maps and slices are not shared.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return CloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = cloneValue(typed[i])
		}
		return out
	default:
		return v
	}
}
