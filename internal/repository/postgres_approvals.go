package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"workflow-suite/core/pkg/models"
)

const requestColumns = `id::text, title, description, type, status, created_by, due_date, metadata,
	created_at, updated_at`

// CreateRequest inserts a request together with its approvers.
func (s *PostgresRepository) CreateRequest(ctx context.Context, request *models.ApprovalRequest) error {
	metadata, err := marshalJSON(contextOrEmpty(request.Metadata))
	if err != nil {
		return err
	}

	q := s.q(ctx)
	_, err = q.Exec(ctx, `INSERT INTO approval_requests
		(id, title, description, type, status, created_by, due_date, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		request.ID, request.Title, request.Description, request.Type, string(request.Status),
		request.CreatedBy, request.DueDate, metadata, request.CreatedAt, request.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert approval request %s", request.ID)
	}

	batch := &pgx.Batch{}
	for _, approver := range request.Approvers {
		batch.Queue(`INSERT INTO approval_approvers (request_id, user_id, position, required, status, decided_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			request.ID, approver.UserID, approver.Order, approver.Required, string(approver.Status),
			approver.DecidedAt)
	}
	if batch.Len() == 0 {
		return nil
	}
	return errors.Wrap(q.SendBatch(ctx, batch).Close(), "insert approvers")
}

// GetRequest retrieves a request and its approvers ordered by position.
func (s *PostgresRepository) GetRequest(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return s.loadRequest(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, id)
}

// LockRequest retrieves a request with SELECT ... FOR UPDATE. Approver and
// decision writes for the request are serialized behind this lock.
func (s *PostgresRepository) LockRequest(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return s.loadRequest(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1 FOR UPDATE`, id)
}

func (s *PostgresRepository) loadRequest(ctx context.Context, query, id string) (*models.ApprovalRequest, error) {
	var (
		request  models.ApprovalRequest
		status   string
		metadata []byte
	)
	err := s.q(ctx).QueryRow(ctx, query, id).Scan(&request.ID, &request.Title, &request.Description,
		&request.Type, &status, &request.CreatedBy, &request.DueDate, &metadata,
		&request.CreatedAt, &request.UpdatedAt)
	if err != nil {
		return nil, errors.Wrapf(notFound(err), "get approval request %s", id)
	}
	request.Status = models.RequestStatus(status)
	if request.Metadata, err = unmarshalMap(metadata); err != nil {
		return nil, err
	}

	rows, err := s.q(ctx).Query(ctx, `SELECT request_id::text, user_id, position, required, status, decided_at
		FROM approval_approvers WHERE request_id = $1 ORDER BY position, user_id`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list approvers for %s", id)
	}
	defer rows.Close()

	request.Approvers = []models.Approver{}
	for rows.Next() {
		var (
			approver models.Approver
			astatus  string
		)
		if err := rows.Scan(&approver.RequestID, &approver.UserID, &approver.Order, &approver.Required,
			&astatus, &approver.DecidedAt); err != nil {
			return nil, errors.Wrap(err, "scan approver")
		}
		approver.Status = models.ApproverStatus(astatus)
		request.Approvers = append(request.Approvers, approver)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate approvers")
	}
	return &request, nil
}

// UpdateRequestStatus sets the aggregate status of a request.
func (s *PostgresRepository) UpdateRequestStatus(ctx context.Context, id string, status models.RequestStatus, at time.Time) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE approval_requests SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), at, id)
	if err != nil {
		return errors.Wrapf(err, "update approval request %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "update approval request %s", id)
	}
	return nil
}

// UpdateApproverStatus records the vote state of one approver.
func (s *PostgresRepository) UpdateApproverStatus(ctx context.Context, requestID, userID string, status models.ApproverStatus, at time.Time) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE approval_approvers SET status = $1, decided_at = $2
		WHERE request_id = $3 AND user_id = $4`, string(status), at, requestID, userID)
	if err != nil {
		return errors.Wrapf(err, "update approver %s on %s", userID, requestID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "update approver %s on %s", userID, requestID)
	}
	return nil
}

// AppendDecision appends a decision to the ledger and records its sequence
// number on decision.
func (s *PostgresRepository) AppendDecision(ctx context.Context, decision *models.ApprovalDecision) error {
	err := s.q(ctx).QueryRow(ctx, `INSERT INTO approval_decisions
		(id, request_id, user_id, decision, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`,
		decision.ID, decision.RequestID, decision.UserID, decision.Decision, decision.Comment,
		decision.CreatedAt).Scan(&decision.Seq)
	return errors.Wrapf(err, "append decision for %s", decision.RequestID)
}

// ListDecisions returns the decisions of a request, newest first.
func (s *PostgresRepository) ListDecisions(ctx context.Context, requestID string) ([]models.ApprovalDecision, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT seq, id::text, request_id::text, user_id, decision, comment, created_at
		FROM approval_decisions WHERE request_id = $1
		ORDER BY created_at DESC, seq DESC`, requestID)
	if err != nil {
		return nil, errors.Wrapf(err, "list decisions for %s", requestID)
	}
	defer rows.Close()

	decisions := []models.ApprovalDecision{}
	for rows.Next() {
		var d models.ApprovalDecision
		if err := rows.Scan(&d.Seq, &d.ID, &d.RequestID, &d.UserID, &d.Decision, &d.Comment, &d.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan decision")
		}
		decisions = append(decisions, d)
	}
	return decisions, errors.Wrap(rows.Err(), "iterate decisions")
}
