package models

import "time"

// RequestStatus is the aggregate status of an approval request.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusApproved  RequestStatus = "approved"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// ApproverStatus is the vote state of a single approver.
type ApproverStatus string

const (
	ApproverStatusPending  ApproverStatus = "pending"
	ApproverStatusApproved ApproverStatus = "approved"
	ApproverStatusRejected ApproverStatus = "rejected"
)

// Decision literals accepted from approvers.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// ApprovalRequest is a unit of multi-party sign-off.
type ApprovalRequest struct {
	ID          string         `json:"id" db:"id"`
	Title       string         `json:"title" db:"title"`
	Description string         `json:"description,omitempty" db:"description"`
	Type        string         `json:"type" db:"type"`
	Status      RequestStatus  `json:"status" db:"status"`
	CreatedBy   string         `json:"created_by" db:"created_by"`
	DueDate     *time.Time     `json:"due_date,omitempty" db:"due_date"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	Approvers   []Approver     `json:"approvers"`
}

// Approver looks up the approver registered for userID.
func (r *ApprovalRequest) Approver(userID string) (*Approver, bool) {
	for i := range r.Approvers {
		if r.Approvers[i].UserID == userID {
			return &r.Approvers[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of r.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	out := *r
	if r.DueDate != nil {
		due := *r.DueDate
		out.DueDate = &due
	}
	out.Metadata = CloneMap(r.Metadata)
	if r.Approvers != nil {
		out.Approvers = make([]Approver, len(r.Approvers))
		for i, a := range r.Approvers {
			out.Approvers[i] = a
			if a.DecidedAt != nil {
				decided := *a.DecidedAt
				out.Approvers[i].DecidedAt = &decided
			}
		}
	}
	return &out
}

// Approver is one party registered to vote on a request.
type Approver struct {
	RequestID string         `json:"request_id" db:"request_id"`
	UserID    string         `json:"user_id" db:"user_id"`
	Order     int            `json:"order" db:"position"`
	Required  bool           `json:"required" db:"required"`
	Status    ApproverStatus `json:"status" db:"status"`
	DecidedAt *time.Time     `json:"decided_at,omitempty" db:"decided_at"`
}

// ApprovalDecision is an append-only record of one approver vote.
type ApprovalDecision struct {
	ID        string    `json:"id" db:"id"`
	Seq       int64     `json:"-" db:"seq"`
	RequestID string    `json:"request_id" db:"request_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Decision  string    `json:"decision" db:"decision"`
	Comment   string    `json:"comment,omitempty" db:"comment"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
