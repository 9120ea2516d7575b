package services

import (
	"context"
	"time"

	"workflow-suite/core/internal/events"
	"workflow-suite/core/internal/logging"
	"workflow-suite/core/internal/observability"
	"workflow-suite/core/pkg/models"
)

// InstanceService drives workflow instances through their step graph.
type InstanceService interface {
	// Start creates a running instance of an active definition.
	Start(ctx context.Context, in StartInput) (*models.WorkflowInstance, error)
	// Transition records an action on the current step and advances the instance.
	Transition(ctx context.Context, in TransitionInput) (*models.WorkflowInstance, error)
	// Cancel stops a pending or running instance.
	Cancel(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// Get returns an instance by id.
	Get(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// History returns the instance's history, newest first.
	History(ctx context.Context, id string) ([]models.HistoryEntry, error)
}

// ApprovalService aggregates approver decisions into request outcomes.
type ApprovalService interface {
	// Create opens a pending approval request.
	Create(ctx context.Context, in CreateApprovalInput) (*models.ApprovalRequest, error)
	// Decide records one approver's decision and recomputes the request status.
	Decide(ctx context.Context, in DecideInput) (*models.ApprovalRequest, error)
	// Cancel withdraws a pending request.
	Cancel(ctx context.Context, id string) (*models.ApprovalRequest, error)
	// Get returns a request with its approvers.
	Get(ctx context.Context, id string) (*models.ApprovalRequest, error)
	// Decisions returns the request's decisions, newest first.
	Decisions(ctx context.Context, id string) ([]models.ApprovalDecision, error)
}

// StartInput holds the arguments of InstanceService.Start.
type StartInput struct {
	DefinitionID string
	Name         string
	Context      map[string]any
	Priority     models.Priority
	DueDate      *time.Time
	StartedBy    string
}

// TransitionInput holds the arguments of InstanceService.Transition.
type TransitionInput struct {
	ID          string
	Action      string
	Comment     string
	Data        map[string]any
	PerformedBy string
}

// ApproverInput describes one approver of a new request. Order defaults to
// the input position and Required to true.
type ApproverInput struct {
	UserID   string
	Order    *int
	Required *bool
}

// CreateApprovalInput holds the arguments of ApprovalService.Create.
type CreateApprovalInput struct {
	Title       string
	Description string
	Type        string
	Approvers   []ApproverInput
	CreatedBy   string
	DueDate     *time.Time
	Metadata    map[string]any
}

// DecideInput holds the arguments of ApprovalService.Decide.
type DecideInput struct {
	ID       string
	UserID   string
	Decision string
	Comment  string
}

// Options carries the collaborators shared by both engines. Zero values are
// replaced with working defaults.
type Options struct {
	Logger      *logging.Logger
	Publisher   events.Publisher
	Instruments *observability.Instruments
	Now         func() time.Time
	NewID       func() string
}
