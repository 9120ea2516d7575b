package services

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"workflow-suite/core/internal/events"
	"workflow-suite/core/internal/observability"
	"workflow-suite/core/internal/repository"
	"workflow-suite/core/pkg/models"
)

type approvalRepository interface {
	repository.TxManager
	repository.ApprovalStore
}

// ApprovalEngine owns the lifecycle of approval requests.
type ApprovalEngine struct {
	repo approvalRepository
	opts Options
}

var _ ApprovalService = (*ApprovalEngine)(nil)

// NewApprovalEngine creates a new ApprovalEngine.
func NewApprovalEngine(repo approvalRepository, opts Options) *ApprovalEngine {
	return &ApprovalEngine{repo: repo, opts: opts.withDefaults()}
}

// Create opens a pending request with one approver per input entry.
func (e *ApprovalEngine) Create(ctx context.Context, in CreateApprovalInput) (request *models.ApprovalRequest, err error) {
	ctx, span := e.opts.Instruments.StartSpan(ctx, "ApprovalEngine.Create", attribute.String("request.type", in.Type))
	defer func() { observability.EndSpan(span, err) }()

	switch {
	case strings.TrimSpace(in.Title) == "":
		return nil, validationError("title is required")
	case strings.TrimSpace(in.Type) == "":
		return nil, validationError("type is required")
	case in.CreatedBy == "":
		return nil, validationError("createdBy is required")
	case len(in.Approvers) == 0:
		return nil, validationError("at least one approver is required")
	}

	now := e.opts.Now()
	request = &models.ApprovalRequest{
		ID:          e.opts.NewID(),
		Title:       in.Title,
		Description: in.Description,
		Type:        in.Type,
		Status:      models.RequestStatusPending,
		CreatedBy:   in.CreatedBy,
		DueDate:     in.DueDate,
		Metadata:    MergeReplace.Merge(nil, in.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
		Approvers:   make([]models.Approver, 0, len(in.Approvers)),
	}

	seen := make(map[string]struct{}, len(in.Approvers))
	for i, a := range in.Approvers {
		if a.UserID == "" {
			return nil, validationError("approvers[%d].userId is required", i)
		}
		if _, dup := seen[a.UserID]; dup {
			return nil, validationError("approver %s is listed more than once", a.UserID)
		}
		seen[a.UserID] = struct{}{}

		approver := models.Approver{
			RequestID: request.ID,
			UserID:    a.UserID,
			Order:     i,
			Required:  true,
			Status:    models.ApproverStatusPending,
		}
		if a.Order != nil {
			approver.Order = *a.Order
		}
		if a.Required != nil {
			approver.Required = *a.Required
		}
		request.Approvers = append(request.Approvers, approver)
	}

	err = e.repo.WithinTx(ctx, func(ctx context.Context) error {
		return e.repo.CreateRequest(ctx, request)
	})
	if err != nil {
		return nil, storeError(err, "approval request", request.ID)
	}

	e.opts.Logger.WithContext(ctx).Info("approval request created",
		"request_id", request.ID, "type", request.Type, "approvers", len(request.Approvers))
	e.opts.publish(ctx, events.Event{Type: events.ApprovalCreated, EntityID: request.ID, Actor: in.CreatedBy, Data: request})
	return request, nil
}

// Decide records a decision and recomputes the request status. The request
// row stays locked from the first read until the aggregate is written, so
// concurrent decisions on one request are applied one after another.
func (e *ApprovalEngine) Decide(ctx context.Context, in DecideInput) (request *models.ApprovalRequest, err error) {
	ctx, span := e.opts.Instruments.StartSpan(ctx, "ApprovalEngine.Decide",
		attribute.String("request.id", in.ID), attribute.String("decision", in.Decision))
	defer func() { observability.EndSpan(span, err) }()

	switch {
	case in.ID == "":
		return nil, validationError("id is required")
	case in.UserID == "":
		return nil, validationError("userId is required")
	}
	approverStatus, ok := approverStatusFor(in.Decision)
	if !ok {
		return nil, validationError("decision %q is not one of approve, reject", in.Decision)
	}

	err = e.repo.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := e.repo.LockRequest(ctx, in.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.RequestStatusPending {
			return invalidState(CodeAlreadyProcessed, "approval request %s is already %s", locked.ID, locked.Status)
		}
		approver, ok := locked.Approver(in.UserID)
		if !ok {
			return forbidden(CodeNotApprover, "user %s is not an approver of request %s", in.UserID, locked.ID)
		}

		now := e.opts.Now()
		if err := e.repo.AppendDecision(ctx, &models.ApprovalDecision{
			ID:        e.opts.NewID(),
			RequestID: locked.ID,
			UserID:    in.UserID,
			Decision:  in.Decision,
			Comment:   in.Comment,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := e.repo.UpdateApproverStatus(ctx, locked.ID, in.UserID, approverStatus, now); err != nil {
			return err
		}
		approver.Status = approverStatus
		decidedAt := now
		approver.DecidedAt = &decidedAt

		locked.Status = Aggregate(locked.Approvers)
		locked.UpdatedAt = now
		if err := e.repo.UpdateRequestStatus(ctx, locked.ID, locked.Status, now); err != nil {
			return err
		}
		request = locked
		return nil
	})
	if err != nil {
		return nil, storeError(err, "approval request", in.ID)
	}

	log := e.opts.Logger.WithContext(ctx)
	log.Info("approval decision recorded",
		"request_id", request.ID, "user_id", in.UserID, "decision", in.Decision, "status", request.Status)
	observability.Add(ctx, e.opts.Instruments.Decisions, attribute.String("decision", in.Decision))
	e.opts.publish(ctx, events.Event{
		Type:     events.ApprovalDecided,
		EntityID: request.ID,
		Actor:    in.UserID,
		Data:     map[string]any{"user_id": in.UserID, "decision": in.Decision, "comment": in.Comment, "status": request.Status},
	})
	if request.Status != models.RequestStatusPending {
		observability.Add(ctx, e.opts.Instruments.Resolutions, attribute.String("status", string(request.Status)))
		e.opts.publish(ctx, events.Event{Type: events.ApprovalResolved, EntityID: request.ID, Actor: in.UserID, Data: request})
	}
	return request, nil
}

// Cancel withdraws a pending request.
func (e *ApprovalEngine) Cancel(ctx context.Context, id string) (request *models.ApprovalRequest, err error) {
	ctx, span := e.opts.Instruments.StartSpan(ctx, "ApprovalEngine.Cancel", attribute.String("request.id", id))
	defer func() { observability.EndSpan(span, err) }()

	if id == "" {
		return nil, validationError("id is required")
	}

	err = e.repo.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := e.repo.LockRequest(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != models.RequestStatusPending {
			return invalidState(CodeCannotCancel, "approval request %s is %s and cannot be cancelled", locked.ID, locked.Status)
		}
		now := e.opts.Now()
		if err := e.repo.UpdateRequestStatus(ctx, locked.ID, models.RequestStatusCancelled, now); err != nil {
			return err
		}
		locked.Status = models.RequestStatusCancelled
		locked.UpdatedAt = now
		request = locked
		return nil
	})
	if err != nil {
		return nil, storeError(err, "approval request", id)
	}

	e.opts.Logger.WithContext(ctx).Info("approval request cancelled", "request_id", request.ID)
	e.opts.publish(ctx, events.Event{Type: events.ApprovalCancelled, EntityID: request.ID, Data: request})
	return request, nil
}

// Get returns a request with its approvers.
func (e *ApprovalEngine) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	request, err := e.repo.GetRequest(ctx, id)
	if err != nil {
		return nil, storeError(err, "approval request", id)
	}
	return request, nil
}

// Decisions returns the request's decisions, newest first.
func (e *ApprovalEngine) Decisions(ctx context.Context, id string) ([]models.ApprovalDecision, error) {
	if _, err := e.repo.GetRequest(ctx, id); err != nil {
		return nil, storeError(err, "approval request", id)
	}
	decisions, err := e.repo.ListDecisions(ctx, id)
	if err != nil {
		return nil, storeError(err, "approval request", id)
	}
	return decisions, nil
}
