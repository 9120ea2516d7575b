package repository

import (
	"context"
	"errors"
	"time"

	"workflow-suite/core/pkg/models"
)

// ErrNotFound is returned when a keyed entity does not exist.
var ErrNotFound = errors.New("repository: not found")

// TxManager runs a function inside a store transaction. The transaction is
// carried in the context passed to fn; store calls made with that context
// join it.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InstanceStore persists workflow instances and their history ledger.
type InstanceStore interface {
	// CreateInstance inserts a new instance.
	CreateInstance(ctx context.Context, instance *models.WorkflowInstance) error
	// GetInstance retrieves an instance by its ID.
	GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// LockInstance retrieves an instance and holds a row lock on it until the
	// surrounding transaction ends.
	LockInstance(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// UpdateInstance overwrites the mutable fields of an instance.
	UpdateInstance(ctx context.Context, instance *models.WorkflowInstance) error
	// AppendHistory appends an entry to the instance's history ledger.
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	// ListHistory returns the history of an instance, newest first.
	ListHistory(ctx context.Context, instanceID string) ([]models.HistoryEntry, error)
}

// ApprovalStore persists approval requests, approvers and the decision ledger.
type ApprovalStore interface {
	// CreateRequest inserts a request together with its approvers.
	CreateRequest(ctx context.Context, request *models.ApprovalRequest) error
	// GetRequest retrieves a request and its approvers ordered by position.
	GetRequest(ctx context.Context, id string) (*models.ApprovalRequest, error)
	// LockRequest is GetRequest holding a row lock on the request.
	LockRequest(ctx context.Context, id string) (*models.ApprovalRequest, error)
	// UpdateRequestStatus sets the aggregate status of a request.
	UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus, at time.Time) error
	// UpdateApproverStatus records the vote state of one approver.
	UpdateApproverStatus(ctx context.Context, requestID, userID string, status models.ApproverStatus, at time.Time) error
	// AppendDecision appends a decision to the request's ledger.
	AppendDecision(ctx context.Context, decision *models.ApprovalDecision) error
	// ListDecisions returns the decisions of a request, newest first.
	ListDecisions(ctx context.Context, requestID string) ([]models.ApprovalDecision, error)
}

// Repository is the durable store used by the engines.
type Repository interface {
	TxManager
	InstanceStore
	ApprovalStore
	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
	// Close releases store resources.
	Close()
}
