package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-suite/core/pkg/models"
)

// runRepositoryContract exercises behaviour every Repository driver must share.
func runRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	newInstance := func() *models.WorkflowInstance {
		step := "start"
		return &models.WorkflowInstance{
			ID:            uuid.NewString(),
			DefinitionID:  "def-1",
			Name:          "onboarding",
			CurrentStepID: &step,
			Status:        models.InstanceStatusRunning,
			Context:       map[string]any{"team": "core", "nested": map[string]any{"a": 1.0}},
			Priority:      models.PriorityNormal,
			StartedBy:     "alice",
			StartedAt:     base,
			UpdatedAt:     base,
		}
	}

	t.Run("Create and Get instance", func(t *testing.T) {
		instance := newInstance()
		instance.PinnedSteps = []models.Step{{ID: "start", Name: "Start", Kind: models.StepKindTask}}
		require.NoError(t, repo.CreateInstance(ctx, instance))

		got, err := repo.GetInstance(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, instance.ID, got.ID)
		assert.Equal(t, "start", *got.CurrentStepID)
		assert.Equal(t, models.InstanceStatusRunning, got.Status)
		assert.Equal(t, "core", got.Context["team"])
		assert.Equal(t, instance.PinnedSteps, got.PinnedSteps)
		assert.True(t, base.Equal(got.StartedAt))
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("Get missing instance", func(t *testing.T) {
		_, err := repo.GetInstance(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("Update instance", func(t *testing.T) {
		instance := newInstance()
		require.NoError(t, repo.CreateInstance(ctx, instance))

		completed := base.Add(time.Minute)
		instance.CurrentStepID = nil
		instance.Status = models.InstanceStatusCompleted
		instance.CompletedAt = &completed
		instance.UpdatedAt = completed
		instance.Context["result"] = "ok"
		require.NoError(t, repo.UpdateInstance(ctx, instance))

		got, err := repo.GetInstance(ctx, instance.ID)
		require.NoError(t, err)
		assert.Nil(t, got.CurrentStepID)
		assert.Equal(t, models.InstanceStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, completed.Equal(*got.CompletedAt))
		assert.Equal(t, "ok", got.Context["result"])
	})

	t.Run("History is newest first", func(t *testing.T) {
		instance := newInstance()
		require.NoError(t, repo.CreateInstance(ctx, instance))

		step := "start"
		for i, action := range []string{"started", "advance", "submit"} {
			entry := &models.HistoryEntry{
				ID:          uuid.NewString(),
				InstanceID:  instance.ID,
				StepID:      &step,
				Action:      action,
				Payload:     map[string]any{"i": float64(i)},
				PerformedBy: "alice",
				CreatedAt:   base,
			}
			require.NoError(t, repo.AppendHistory(ctx, entry))
			assert.NotZero(t, entry.Seq)
		}

		first, err := repo.ListHistory(ctx, instance.ID)
		require.NoError(t, err)
		require.Len(t, first, 3)
		assert.Equal(t, "submit", first[0].Action)
		assert.Equal(t, "advance", first[1].Action)
		assert.Equal(t, "started", first[2].Action)
		assert.Equal(t, float64(2), first[0].Payload["i"])

		second, err := repo.ListHistory(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("History of unknown instance is empty", func(t *testing.T) {
		entries, err := repo.ListHistory(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	newRequest := func() *models.ApprovalRequest {
		id := uuid.NewString()
		return &models.ApprovalRequest{
			ID:        id,
			Title:     "Budget",
			Type:      "expense",
			Status:    models.RequestStatusPending,
			CreatedBy: "carol",
			Metadata:  map[string]any{"amount": 1200.0},
			CreatedAt: base,
			UpdatedAt: base,
			Approvers: []models.Approver{
				{RequestID: id, UserID: "bob", Order: 1, Required: false, Status: models.ApproverStatusPending},
				{RequestID: id, UserID: "alice", Order: 0, Required: true, Status: models.ApproverStatusPending},
			},
		}
	}

	t.Run("Create and Get request", func(t *testing.T) {
		request := newRequest()
		require.NoError(t, repo.CreateRequest(ctx, request))

		got, err := repo.GetRequest(ctx, request.ID)
		require.NoError(t, err)
		assert.Equal(t, "Budget", got.Title)
		assert.Equal(t, models.RequestStatusPending, got.Status)
		assert.Equal(t, 1200.0, got.Metadata["amount"])
		require.Len(t, got.Approvers, 2)
		assert.Equal(t, "alice", got.Approvers[0].UserID)
		assert.True(t, got.Approvers[0].Required)
		assert.Equal(t, "bob", got.Approvers[1].UserID)
		assert.False(t, got.Approvers[1].Required)
	})

	t.Run("Get missing request", func(t *testing.T) {
		_, err := repo.GetRequest(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("Approver and request status updates", func(t *testing.T) {
		request := newRequest()
		require.NoError(t, repo.CreateRequest(ctx, request))

		at := base.Add(time.Hour)
		require.NoError(t, repo.UpdateApproverStatus(ctx, request.ID, "alice", models.ApproverStatusApproved, at))
		require.NoError(t, repo.UpdateRequestStatus(ctx, request.ID, models.RequestStatusApproved, at))

		got, err := repo.GetRequest(ctx, request.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusApproved, got.Status)
		alice, ok := got.Approver("alice")
		require.True(t, ok)
		assert.Equal(t, models.ApproverStatusApproved, alice.Status)
		require.NotNil(t, alice.DecidedAt)
		assert.True(t, at.Equal(*alice.DecidedAt))

		err = repo.UpdateApproverStatus(ctx, request.ID, "mallory", models.ApproverStatusApproved, at)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("Decisions are newest first", func(t *testing.T) {
		request := newRequest()
		require.NoError(t, repo.CreateRequest(ctx, request))

		for i, user := range []string{"alice", "bob"} {
			decision := &models.ApprovalDecision{
				ID:        uuid.NewString(),
				RequestID: request.ID,
				UserID:    user,
				Decision:  models.DecisionApprove,
				Comment:   "ok",
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			}
			require.NoError(t, repo.AppendDecision(ctx, decision))
		}

		decisions, err := repo.ListDecisions(ctx, request.ID)
		require.NoError(t, err)
		require.Len(t, decisions, 2)
		assert.Equal(t, "bob", decisions[0].UserID)
		assert.Equal(t, "alice", decisions[1].UserID)
	})

	t.Run("Failed transaction leaves no writes", func(t *testing.T) {
		instance := newInstance()
		boom := errors.New("boom")

		err := repo.WithinTx(ctx, func(ctx context.Context) error {
			if err := repo.CreateInstance(ctx, instance); err != nil {
				return err
			}
			return boom
		})
		assert.True(t, errors.Is(err, boom))

		_, err = repo.GetInstance(ctx, instance.ID)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("Committed transaction is visible", func(t *testing.T) {
		instance := newInstance()
		err := repo.WithinTx(ctx, func(ctx context.Context) error {
			if err := repo.CreateInstance(ctx, instance); err != nil {
				return err
			}
			locked, err := repo.LockInstance(ctx, instance.ID)
			if err != nil {
				return err
			}
			locked.Status = models.InstanceStatusCancelled
			return repo.UpdateInstance(ctx, locked)
		})
		require.NoError(t, err)

		got, err := repo.GetInstance(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, models.InstanceStatusCancelled, got.Status)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, repo.Ping(ctx))
	})
}
