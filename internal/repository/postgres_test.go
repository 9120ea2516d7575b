package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-suite/core/internal/testutil"
	"workflow-suite/core/pkg/models"
)

func TestPostgresRepository(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewPostgresRepository(db.Pool)

	runRepositoryContract(t, repo)

	t.Run("Invalid id is not found", func(t *testing.T) {
		_, err := repo.GetInstance(context.Background(), "not-a-uuid")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Row lock serializes writers", func(t *testing.T) {
		ctx := context.Background()
		step := "start"
		instance := &models.WorkflowInstance{
			ID:            uuid.NewString(),
			DefinitionID:  "def",
			Name:          "counter",
			CurrentStepID: &step,
			Status:        models.InstanceStatusRunning,
			Context:       map[string]any{"count": 0.0},
			Priority:      models.PriorityNormal,
			StartedBy:     "alice",
			StartedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		require.NoError(t, repo.CreateInstance(ctx, instance))

		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.WithinTx(ctx, func(ctx context.Context) error {
					locked, err := repo.LockInstance(ctx, instance.ID)
					if err != nil {
						return err
					}
					locked.Context["count"] = locked.Context["count"].(float64) + 1
					locked.UpdatedAt = time.Now()
					return repo.UpdateInstance(ctx, locked)
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := repo.GetInstance(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, float64(writers), got.Context["count"])
	})
}
