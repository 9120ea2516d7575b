package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"workflow-suite/core/pkg/models"
)

const instanceColumns = `id::text, definition_id, name, current_step_id, status, context, priority,
	due_date, started_by, started_at, completed_at, updated_at, pinned_steps`

// CreateInstance inserts a new instance.
func (s *PostgresRepository) CreateInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	contextJSON, err := marshalJSON(contextOrEmpty(instance.Context))
	if err != nil {
		return err
	}
	pinned, err := pinnedJSON(instance.PinnedSteps)
	if err != nil {
		return err
	}

	_, err = s.q(ctx).Exec(ctx, `INSERT INTO workflow_instances
		(id, definition_id, name, current_step_id, status, context, priority, due_date,
		 started_by, started_at, completed_at, updated_at, pinned_steps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		instance.ID, instance.DefinitionID, instance.Name, instance.CurrentStepID,
		string(instance.Status), contextJSON, string(instance.Priority), instance.DueDate,
		instance.StartedBy, instance.StartedAt, instance.CompletedAt, instance.UpdatedAt, pinned)
	return errors.Wrapf(err, "insert instance %s", instance.ID)
}

// GetInstance retrieves an instance by its ID.
func (s *PostgresRepository) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id)
	instance, err := scanInstance(row)
	if err != nil {
		return nil, errors.Wrapf(notFound(err), "get instance %s", id)
	}
	return instance, nil
}

// LockInstance retrieves an instance with SELECT ... FOR UPDATE.
func (s *PostgresRepository) LockInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1 FOR UPDATE`, id)
	instance, err := scanInstance(row)
	if err != nil {
		return nil, errors.Wrapf(notFound(err), "lock instance %s", id)
	}
	return instance, nil
}

// UpdateInstance overwrites the mutable fields of an instance.
func (s *PostgresRepository) UpdateInstance(ctx context.Context, instance *models.WorkflowInstance) error {
	contextJSON, err := marshalJSON(contextOrEmpty(instance.Context))
	if err != nil {
		return err
	}

	tag, err := s.q(ctx).Exec(ctx, `UPDATE workflow_instances
		SET current_step_id = $1, status = $2, context = $3, completed_at = $4, updated_at = $5
		WHERE id = $6`,
		instance.CurrentStepID, string(instance.Status), contextJSON, instance.CompletedAt,
		instance.UpdatedAt, instance.ID)
	if err != nil {
		return errors.Wrapf(err, "update instance %s", instance.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "update instance %s", instance.ID)
	}
	return nil
}

// AppendHistory appends an entry to the history ledger and records its
// sequence number on entry.
func (s *PostgresRepository) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	payload, err := marshalJSON(contextOrEmpty(entry.Payload))
	if err != nil {
		return err
	}

	err = s.q(ctx).QueryRow(ctx, `INSERT INTO workflow_history
		(id, instance_id, step_id, action, payload, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`,
		entry.ID, entry.InstanceID, entry.StepID, entry.Action, payload, entry.PerformedBy,
		entry.CreatedAt).Scan(&entry.Seq)
	return errors.Wrapf(err, "append history for instance %s", entry.InstanceID)
}

// ListHistory returns the history of an instance, newest first.
func (s *PostgresRepository) ListHistory(ctx context.Context, instanceID string) ([]models.HistoryEntry, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT seq, id::text, instance_id::text, step_id, action, payload,
		performed_by, created_at
		FROM workflow_history WHERE instance_id = $1
		ORDER BY created_at DESC, seq DESC`, instanceID)
	if err != nil {
		return nil, errors.Wrapf(err, "list history for instance %s", instanceID)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var (
			entry   models.HistoryEntry
			payload []byte
		)
		if err := rows.Scan(&entry.Seq, &entry.ID, &entry.InstanceID, &entry.StepID, &entry.Action,
			&payload, &entry.PerformedBy, &entry.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan history entry")
		}
		if entry.Payload, err = unmarshalMap(payload); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, errors.Wrap(rows.Err(), "iterate history")
}

func scanInstance(row pgx.Row) (*models.WorkflowInstance, error) {
	var (
		instance    models.WorkflowInstance
		status      string
		priority    string
		contextJSON []byte
		pinned      []byte
	)
	err := row.Scan(&instance.ID, &instance.DefinitionID, &instance.Name, &instance.CurrentStepID,
		&status, &contextJSON, &priority, &instance.DueDate, &instance.StartedBy,
		&instance.StartedAt, &instance.CompletedAt, &instance.UpdatedAt, &pinned)
	if err != nil {
		return nil, err
	}
	instance.Status = models.InstanceStatus(status)
	instance.Priority = models.Priority(priority)
	if instance.Context, err = unmarshalMap(contextJSON); err != nil {
		return nil, err
	}
	if len(pinned) > 0 {
		if err := json.Unmarshal(pinned, &instance.PinnedSteps); err != nil {
			return nil, errors.Wrap(err, "unmarshal pinned steps")
		}
	}
	return &instance, nil
}

func contextOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// pinnedJSON encodes pinned steps, mapping an absent snapshot to NULL.
func pinnedJSON(steps []models.Step) (any, error) {
	if steps == nil {
		return nil, nil
	}
	return marshalJSON(steps)
}
