package services

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"workflow-suite/core/internal/definitions"
	"workflow-suite/core/internal/events"
	"workflow-suite/core/internal/observability"
	"workflow-suite/core/internal/repository"
	"workflow-suite/core/pkg/models"
)

// Transition actions accepted by InstanceEngine.Transition.
const (
	ActionAdvance  = "advance"
	ActionSubmit   = "submit"
	ActionApprove  = "approve"
	ActionComplete = "complete"
)

var transitionActions = map[string]struct{}{
	ActionAdvance:  {},
	ActionSubmit:   {},
	ActionApprove:  {},
	ActionComplete: {},
}

// DefinitionPolicy selects which step graph a transition follows.
type DefinitionPolicy string

const (
	// PolicyLatest re-fetches the definition on every transition.
	PolicyLatest DefinitionPolicy = "latest"
	// PolicyPinned follows the graph captured when the instance started.
	PolicyPinned DefinitionPolicy = "pinned"
)

// ParseDefinitionPolicy validates s.
func ParseDefinitionPolicy(s string) (DefinitionPolicy, error) {
	switch p := DefinitionPolicy(s); p {
	case PolicyLatest, PolicyPinned:
		return p, nil
	case "":
		return PolicyLatest, nil
	default:
		return "", fmt.Errorf("unknown definition policy %q", s)
	}
}

type instanceRepository interface {
	repository.TxManager
	repository.InstanceStore
}

// InstanceEngine owns the lifecycle of workflow instances.
type InstanceEngine struct {
	repo     instanceRepository
	accessor definitions.Accessor
	policy   DefinitionPolicy
	merge    MergeStrategy
	opts     Options
}

var _ InstanceService = (*InstanceEngine)(nil)

// NewInstanceEngine creates a new InstanceEngine.
func NewInstanceEngine(repo instanceRepository, accessor definitions.Accessor, policy DefinitionPolicy, merge MergeStrategy, opts Options) *InstanceEngine {
	if policy == "" {
		policy = PolicyLatest
	}
	if merge == "" {
		merge = MergeShallow
	}
	return &InstanceEngine{
		repo:     repo,
		accessor: accessor,
		policy:   policy,
		merge:    merge,
		opts:     opts.withDefaults(),
	}
}

// Start creates a running instance positioned on the definition's first step.
func (e *InstanceEngine) Start(ctx context.Context, in StartInput) (instance *models.WorkflowInstance, err error) {
	ctx, span := e.opts.Instruments.StartSpan(ctx, "InstanceEngine.Start",
		attribute.String("definition.id", in.DefinitionID))
	defer func() { observability.EndSpan(span, err) }()

	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	switch {
	case strings.TrimSpace(in.DefinitionID) == "":
		return nil, validationError("definitionId is required")
	case strings.TrimSpace(in.Name) == "":
		return nil, validationError("name is required")
	case in.StartedBy == "":
		return nil, validationError("startedBy is required")
	case !in.Priority.Valid():
		return nil, validationError("priority %q is not one of low, normal, high, urgent", in.Priority)
	}

	def, err := e.accessor.GetDefinition(ctx, in.DefinitionID)
	if err != nil {
		return nil, definitionError(err, in.DefinitionID)
	}
	if !def.IsActive() {
		return nil, invalidState(CodeDefinitionNotActive, "definition %s is %s, not active", def.ID, def.Status)
	}

	now := e.opts.Now()
	instance = &models.WorkflowInstance{
		ID:            e.opts.NewID(),
		DefinitionID:  in.DefinitionID,
		Name:          in.Name,
		CurrentStepID: def.FirstStepID(),
		Status:        models.InstanceStatusRunning,
		Context:       MergeReplace.Merge(nil, in.Context),
		Priority:      in.Priority,
		DueDate:       in.DueDate,
		StartedBy:     in.StartedBy,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	if e.policy == PolicyPinned {
		instance.PinnedSteps = append(make([]models.Step, 0, len(def.Steps)), def.Steps...)
	}

	err = e.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := e.repo.CreateInstance(ctx, instance); err != nil {
			return err
		}
		if instance.CurrentStepID == nil {
			return nil
		}
		return e.repo.AppendHistory(ctx, &models.HistoryEntry{
			ID:          e.opts.NewID(),
			InstanceID:  instance.ID,
			StepID:      instance.CurrentStepID,
			Action:      models.ActionStarted,
			Payload:     map[string]any{},
			PerformedBy: in.StartedBy,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, storeError(err, "instance", instance.ID)
	}

	e.opts.Logger.WithContext(ctx).Info("instance started",
		"instance_id", instance.ID, "definition_id", instance.DefinitionID, "step", deref(instance.CurrentStepID))
	observability.Add(ctx, e.opts.Instruments.InstancesStarted, attribute.String("definition.id", instance.DefinitionID))
	e.opts.publish(ctx, events.Event{Type: events.InstanceStarted, EntityID: instance.ID, Actor: in.StartedBy, Data: instance})
	return instance, nil
}

// Transition appends a history entry for action on the current step, then
// moves the instance to the following step of the graph selected by the
// definition policy. An instance whose current step is missing from the
// graph has no following step and completes.
func (e *InstanceEngine) Transition(ctx context.Context, in TransitionInput) (instance *models.WorkflowInstance, err error) {
	ctx, span := e.opts.Instruments.StartSpan(ctx, "InstanceEngine.Transition",
		attribute.String("instance.id", in.ID), attribute.String("action", in.Action))
	defer func() { observability.EndSpan(span, err) }()

	switch {
	case in.ID == "":
		return nil, validationError("id is required")
	case in.PerformedBy == "":
		return nil, validationError("performedBy is required")
	}
	if _, ok := transitionActions[in.Action]; !ok {
		return nil, validationError("action %q is not one of advance, submit, approve, complete", in.Action)
	}

	current, err := e.repo.GetInstance(ctx, in.ID)
	if err != nil {
		return nil, storeError(err, "instance", in.ID)
	}
	if current.Status != models.InstanceStatusRunning {
		return nil, invalidState(CodeInvalidState, "instance %s is %s, not running", current.ID, current.Status)
	}

	// resolved before the transaction so no lock is held across the call
	steps, err := e.steps(ctx, current)
	if err != nil {
		return nil, err
	}

	err = e.repo.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := e.repo.LockInstance(ctx, in.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.InstanceStatusRunning {
			return invalidState(CodeInvalidState, "instance %s is %s, not running", locked.ID, locked.Status)
		}

		now := e.opts.Now()
		payload := models.CloneMap(in.Data)
		if payload == nil {
			payload = map[string]any{}
		}
		payload["comment"] = in.Comment
		if err := e.repo.AppendHistory(ctx, &models.HistoryEntry{
			ID:          e.opts.NewID(),
			InstanceID:  locked.ID,
			StepID:      locked.CurrentStepID,
			Action:      in.Action,
			Payload:     payload,
			PerformedBy: in.PerformedBy,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		next := models.NextStepID(steps, locked.CurrentStepID)
		locked.CurrentStepID = next
		locked.Context = e.merge.Merge(locked.Context, in.Data)
		locked.UpdatedAt = now
		if next == nil {
			locked.Status = models.InstanceStatusCompleted
			completed := now
			locked.CompletedAt = &completed
		}
		if err := e.repo.UpdateInstance(ctx, locked); err != nil {
			return err
		}
		instance = locked
		return nil
	})
	if err != nil {
		return nil, storeError(err, "instance", in.ID)
	}

	e.opts.Logger.WithContext(ctx).Info("instance transitioned",
		"instance_id", instance.ID, "action", in.Action, "step", deref(instance.CurrentStepID), "status", instance.Status)
	observability.Add(ctx, e.opts.Instruments.Transitions, attribute.String("action", in.Action))
	e.opts.publish(ctx, events.Event{Type: events.InstanceTransitioned, EntityID: instance.ID, Actor: in.PerformedBy, Data: instance})
	if instance.Status == models.InstanceStatusCompleted {
		e.opts.publish(ctx, events.Event{Type: events.InstanceCompleted, EntityID: instance.ID, Actor: in.PerformedBy, Data: instance})
	}
	return instance, nil
}

// steps returns the graph a transition of instance follows.
func (e *InstanceEngine) steps(ctx context.Context, instance *models.WorkflowInstance) ([]models.Step, error) {
	if e.policy == PolicyPinned && instance.PinnedSteps != nil {
		return instance.PinnedSteps, nil
	}
	def, err := e.accessor.GetDefinition(ctx, instance.DefinitionID)
	if err != nil {
		return nil, definitionError(err, instance.DefinitionID)
	}
	return def.Steps, nil
}

// Cancel moves a pending or running instance to cancelled. The current step
// is left where it was.
func (e *InstanceEngine) Cancel(ctx context.Context, id string) (instance *models.WorkflowInstance, err error) {
	ctx, span := e.opts.Instruments.StartSpan(ctx, "InstanceEngine.Cancel", attribute.String("instance.id", id))
	defer func() { observability.EndSpan(span, err) }()

	if id == "" {
		return nil, validationError("id is required")
	}

	err = e.repo.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := e.repo.LockInstance(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != models.InstanceStatusRunning && locked.Status != models.InstanceStatusPending {
			return invalidState(CodeCannotCancel, "instance %s is %s and cannot be cancelled", locked.ID, locked.Status)
		}
		now := e.opts.Now()
		locked.Status = models.InstanceStatusCancelled
		locked.CompletedAt = &now
		locked.UpdatedAt = now
		if err := e.repo.UpdateInstance(ctx, locked); err != nil {
			return err
		}
		instance = locked
		return nil
	})
	if err != nil {
		return nil, storeError(err, "instance", id)
	}

	e.opts.Logger.WithContext(ctx).Info("instance cancelled", "instance_id", instance.ID, "step", deref(instance.CurrentStepID))
	e.opts.publish(ctx, events.Event{Type: events.InstanceCancelled, EntityID: instance.ID, Data: instance})
	return instance, nil
}

// Get returns an instance by id.
func (e *InstanceEngine) Get(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	instance, err := e.repo.GetInstance(ctx, id)
	if err != nil {
		return nil, storeError(err, "instance", id)
	}
	return instance, nil
}

// History returns the instance's history, newest first.
func (e *InstanceEngine) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	if _, err := e.repo.GetInstance(ctx, id); err != nil {
		return nil, storeError(err, "instance", id)
	}
	entries, err := e.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, storeError(err, "instance", id)
	}
	return entries, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
