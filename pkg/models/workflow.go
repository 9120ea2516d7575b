package models

import (
	"fmt"
	"strings"
)

// DefinitionStatus is the lifecycle status of a workflow definition.
type DefinitionStatus string

const (
	DefinitionStatusDraft      DefinitionStatus = "draft"
	DefinitionStatusActive     DefinitionStatus = "active"
	DefinitionStatusDeprecated DefinitionStatus = "deprecated"
)

// StepKind is the closed set of step kinds a definition may contain.
type StepKind string

const (
	StepKindTask     StepKind = "task"
	StepKindApproval StepKind = "approval"
	StepKindTerminal StepKind = "terminal"
)

// ParseStepKind returns the StepKind for s or an error for unknown kinds.
func ParseStepKind(s string) (StepKind, error) {
	switch kind := StepKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case StepKindTask, StepKindApproval, StepKindTerminal:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown step kind %q", s)
	}
}

// UnmarshalText rejects step kinds outside the closed set.
func (k *StepKind) UnmarshalText(text []byte) error {
	kind, err := ParseStepKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Step is a named node in a definition's step graph.
type Step struct {
	ID   string   `json:"id" yaml:"id"`
	Name string   `json:"name" yaml:"name"`
	Kind StepKind `json:"kind" yaml:"kind"`
}

// WorkflowDefinition is the read-only view of a definition owned by the
// definition service. Steps are ordered; instances advance through them in
// sequence.
type WorkflowDefinition struct {
	ID     string           `json:"id" yaml:"id"`
	Name   string           `json:"name" yaml:"name"`
	Status DefinitionStatus `json:"status" yaml:"status"`
	Steps  []Step           `json:"steps" yaml:"steps"`
}

// IsActive reports whether new instances may be started from the definition.
func (d *WorkflowDefinition) IsActive() bool {
	return d != nil && d.Status == DefinitionStatusActive
}

// FirstStepID returns the id of the head step, or nil for an empty graph.
func (d *WorkflowDefinition) FirstStepID() *string {
	if d == nil || len(d.Steps) == 0 {
		return nil
	}
	id := d.Steps[0].ID
	return &id
}

// NextStepID returns the step following current in sequence. It returns nil
// when current is the last step, is nil, or is no longer part of the graph.
func NextStepID(steps []Step, current *string) *string {
	if current == nil {
		return nil
	}
	for i, step := range steps {
		if step.ID != *current {
			continue
		}
		if i+1 >= len(steps) {
			return nil
		}
		next := steps[i+1].ID
		return &next
	}
	return nil
}
