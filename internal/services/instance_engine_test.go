package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"workflow-suite/core/internal/definitions"
	"workflow-suite/core/internal/events"
	"workflow-suite/core/internal/repository"
	"workflow-suite/core/pkg/models"
)

func newInstanceEngine(t *testing.T, accessor definitions.Accessor, policy DefinitionPolicy, merge MergeStrategy, pub events.Publisher) (*InstanceEngine, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	return NewInstanceEngine(repo, accessor, policy, merge, testOptions(pub)), repo
}

func startInput(defID string) StartInput {
	return StartInput{DefinitionID: defID, Name: "run", StartedBy: "alice", Context: map[string]any{"team": "core"}}
}

func advance(id string) TransitionInput {
	return TransitionInput{ID: id, Action: ActionAdvance, PerformedBy: "alice"}
}

func TestInstanceHappyPath(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	accessor := definitions.NewStaticAccessor(definition("review", models.DefinitionStatusActive, "start", "approve", "end"))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, pub)

	instance, err := engine.Start(ctx, startInput("review"))
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)
	assert.Equal(t, "start", *instance.CurrentStepID)
	assert.Equal(t, models.PriorityNormal, instance.Priority)

	history, err := engine.History(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "start", *history[0].StepID)
	assert.Equal(t, models.ActionStarted, history[0].Action)

	instance, err = engine.Transition(ctx, advance(instance.ID))
	require.NoError(t, err)
	assert.Equal(t, "approve", *instance.CurrentStepID)
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)

	instance, err = engine.Transition(ctx, advance(instance.ID))
	require.NoError(t, err)
	assert.Equal(t, "end", *instance.CurrentStepID)
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)

	instance, err = engine.Transition(ctx, advance(instance.ID))
	require.NoError(t, err)
	assert.Nil(t, instance.CurrentStepID)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	require.NotNil(t, instance.CompletedAt)

	stored, err := engine.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CurrentStepID)
	assert.Equal(t, models.InstanceStatusCompleted, stored.Status)

	history, err = engine.History(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "end", *history[0].StepID)
	assert.Equal(t, "start", *history[3].StepID)

	_, err = engine.Transition(ctx, advance(instance.ID))
	assert.Equal(t, KindInvalidState, KindOf(err))

	assert.Equal(t, []string{
		events.InstanceStarted,
		events.InstanceTransitioned,
		events.InstanceTransitioned,
		events.InstanceTransitioned,
		events.InstanceCompleted,
	}, pub.types())
}

func TestStartOnInactiveDefinition(t *testing.T) {
	ctx := context.Background()
	accessor := definitions.NewStaticAccessor(
		definition("draft", models.DefinitionStatusDraft, "a"),
		definition("old", models.DefinitionStatusDeprecated, "a"),
	)
	engine, repo := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)

	for _, id := range []string{"draft", "old"} {
		_, err := engine.Start(ctx, startInput(id))
		assert.Equal(t, KindInvalidState, KindOf(err))
		assert.Equal(t, CodeDefinitionNotActive, CodeOf(err))
	}

	_, err := repo.GetInstance(ctx, "id-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStartDefinitionNotFound(t *testing.T) {
	engine, _ := newInstanceEngine(t, definitions.NewStaticAccessor(), PolicyLatest, MergeShallow, nil)

	_, err := engine.Start(context.Background(), startInput("missing"))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, CodeDefinitionNotFound, CodeOf(err))
}

func TestStartWithEmptyGraph(t *testing.T) {
	ctx := context.Background()
	accessor := definitions.NewStaticAccessor(definition("empty", models.DefinitionStatusActive))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)

	instance, err := engine.Start(ctx, startInput("empty"))
	require.NoError(t, err)
	assert.Nil(t, instance.CurrentStepID)
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)

	history, err := engine.History(ctx, instance.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	instance, err = engine.Transition(ctx, advance(instance.ID))
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
}

func TestStartValidation(t *testing.T) {
	accessor := &mockAccessor{}
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)

	tests := map[string]StartInput{
		"no definition": {Name: "n", StartedBy: "u"},
		"no name":       {DefinitionID: "d", StartedBy: "u"},
		"no actor":      {DefinitionID: "d", Name: "n"},
		"bad priority":  {DefinitionID: "d", Name: "n", StartedBy: "u", Priority: "whenever"},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := engine.Start(context.Background(), in)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
	accessor.AssertNotCalled(t, "GetDefinition", mock.Anything, mock.Anything)
}

func TestStartAccessorTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	accessor := definitions.NewHTTPAccessor(definitions.HTTPConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	engine, repo := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)

	_, err := engine.Start(context.Background(), startInput("slow"))
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.ErrorIs(t, err, definitions.ErrUnavailable)

	_, err = repo.GetInstance(context.Background(), "id-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTransitionAccessorFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	def := definition("flow", models.DefinitionStatusActive, "a", "b")
	accessor := &mockAccessor{}
	accessor.On("GetDefinition", mock.Anything, "flow").Return(&def, nil).Once()
	accessor.On("GetDefinition", mock.Anything, "flow").
		Return(nil, fmt.Errorf("%w: %w", definitions.ErrUnavailable, context.DeadlineExceeded)).Once()

	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)
	instance, err := engine.Start(ctx, startInput("flow"))
	require.NoError(t, err)

	_, err = engine.Transition(ctx, advance(instance.ID))
	assert.Equal(t, KindUnavailable, KindOf(err))

	stored, err := engine.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", *stored.CurrentStepID)
	history, err := engine.History(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	accessor.AssertExpectations(t)
}

func TestTransitionRejectsUnknownAction(t *testing.T) {
	ctx := context.Background()
	accessor := definitions.NewStaticAccessor(definition("flow", models.DefinitionStatusActive, "a", "b"))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)

	instance, err := engine.Start(ctx, startInput("flow"))
	require.NoError(t, err)

	_, err = engine.Transition(ctx, TransitionInput{ID: instance.ID, Action: "teleport", PerformedBy: "alice"})
	assert.Equal(t, KindValidation, KindOf(err))

	history, err := engine.History(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestTransitionNotFound(t *testing.T) {
	engine, _ := newInstanceEngine(t, definitions.NewStaticAccessor(), PolicyLatest, MergeShallow, nil)

	_, err := engine.Transition(context.Background(), advance("nope"))
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = engine.History(context.Background(), "nope")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestTransitionRecordsPayloadAndMergesContext(t *testing.T) {
	ctx := context.Background()
	accessor := definitions.NewStaticAccessor(definition("flow", models.DefinitionStatusActive, "a", "b", "c"))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)

	in := startInput("flow")
	in.Context = map[string]any{"keep": 1, "profile": map[string]any{"name": "x", "age": 3}}
	instance, err := engine.Start(ctx, in)
	require.NoError(t, err)

	instance, err = engine.Transition(ctx, TransitionInput{
		ID:          instance.ID,
		Action:      ActionSubmit,
		Comment:     "looks good",
		Data:        map[string]any{"profile": map[string]any{"name": "y"}, "extra": true},
		PerformedBy: "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"keep":    1,
		"profile": map[string]any{"name": "y"},
		"extra":   true,
	}, instance.Context)

	history, err := engine.History(ctx, instance.ID)
	require.NoError(t, err)
	latest := history[0]
	assert.Equal(t, ActionSubmit, latest.Action)
	assert.Equal(t, "a", *latest.StepID)
	assert.Equal(t, "bob", latest.PerformedBy)
	assert.Equal(t, "looks good", latest.Payload["comment"])
	assert.Equal(t, true, latest.Payload["extra"])
}

func TestTransitionDeepMerge(t *testing.T) {
	ctx := context.Background()
	accessor := definitions.NewStaticAccessor(definition("flow", models.DefinitionStatusActive, "a", "b"))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeDeep, nil)

	in := startInput("flow")
	in.Context = map[string]any{"profile": map[string]any{"name": "x", "age": 3}}
	instance, err := engine.Start(ctx, in)
	require.NoError(t, err)

	instance, err = engine.Transition(ctx, TransitionInput{
		ID: instance.ID, Action: ActionAdvance, PerformedBy: "bob",
		Data: map[string]any{"profile": map[string]any{"name": "y"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "y", "age": 3}, instance.Context["profile"])
}

func TestTransitionFollowsLatestGraph(t *testing.T) {
	ctx := context.Background()
	accessor := definitions.NewStaticAccessor(definition("flow", models.DefinitionStatusActive, "a", "b", "c"))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)

	instance, err := engine.Start(ctx, startInput("flow"))
	require.NoError(t, err)
	instance, err = engine.Transition(ctx, advance(instance.ID))
	require.NoError(t, err)
	require.Equal(t, "b", *instance.CurrentStepID)

	accessor.Put(definition("flow", models.DefinitionStatusActive, "a", "b", "z"))

	instance, err = engine.Transition(ctx, advance(instance.ID))
	require.NoError(t, err)
	assert.Equal(t, "z", *instance.CurrentStepID)
}

func TestTransitionCompletesWhenCurrentStepDrops(t *testing.T) {
	ctx := context.Background()
	accessor := definitions.NewStaticAccessor(definition("flow", models.DefinitionStatusActive, "a", "b", "c"))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)

	instance, err := engine.Start(ctx, startInput("flow"))
	require.NoError(t, err)

	accessor.Put(definition("flow", models.DefinitionStatusActive, "x", "y"))

	instance, err = engine.Transition(ctx, advance(instance.ID))
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Nil(t, instance.CurrentStepID)

	history, err := engine.History(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a", *history[0].StepID)
}

func TestTransitionPinnedPolicyIgnoresDrift(t *testing.T) {
	ctx := context.Background()
	def := definition("flow", models.DefinitionStatusActive, "a", "b", "c")
	accessor := &mockAccessor{}
	accessor.On("GetDefinition", mock.Anything, "flow").Return(&def, nil).Once()

	engine, _ := newInstanceEngine(t, accessor, PolicyPinned, MergeShallow, nil)
	instance, err := engine.Start(ctx, startInput("flow"))
	require.NoError(t, err)
	assert.Len(t, instance.PinnedSteps, 3)

	for _, want := range []string{"b", "c"} {
		instance, err = engine.Transition(ctx, advance(instance.ID))
		require.NoError(t, err)
		assert.Equal(t, want, *instance.CurrentStepID)
	}
	instance, err = engine.Transition(ctx, advance(instance.ID))
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)

	accessor.AssertNumberOfCalls(t, "GetDefinition", 1)
}

func TestCancelInstance(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	accessor := definitions.NewStaticAccessor(definition("flow", models.DefinitionStatusActive, "a", "b"))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, pub)

	instance, err := engine.Start(ctx, startInput("flow"))
	require.NoError(t, err)
	instance, err = engine.Transition(ctx, advance(instance.ID))
	require.NoError(t, err)

	cancelled, err := engine.Cancel(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)
	assert.Equal(t, "b", *cancelled.CurrentStepID)
	require.NotNil(t, cancelled.CompletedAt)

	_, err = engine.Transition(ctx, advance(instance.ID))
	assert.Equal(t, KindInvalidState, KindOf(err))

	_, err = engine.Cancel(ctx, instance.ID)
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Contains(t, pub.types(), events.InstanceCancelled)
}

func TestCancelAfterCompletion(t *testing.T) {
	ctx := context.Background()
	accessor := definitions.NewStaticAccessor(definition("flow", models.DefinitionStatusActive, "only"))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)

	instance, err := engine.Start(ctx, startInput("flow"))
	require.NoError(t, err)
	instance, err = engine.Transition(ctx, advance(instance.ID))
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusCompleted, instance.Status)

	_, err = engine.Cancel(ctx, instance.ID)
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Equal(t, CodeCannotCancel, CodeOf(err))

	stored, err := engine.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, instance, stored)
}

func TestCancelNotFound(t *testing.T) {
	engine, _ := newInstanceEngine(t, definitions.NewStaticAccessor(), PolicyLatest, MergeShallow, nil)
	_, err := engine.Cancel(context.Background(), "missing")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestHistoryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	accessor := definitions.NewStaticAccessor(definition("flow", models.DefinitionStatusActive, "a", "b", "c"))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)

	instance, err := engine.Start(ctx, startInput("flow"))
	require.NoError(t, err)
	_, err = engine.Transition(ctx, advance(instance.ID))
	require.NoError(t, err)

	first, err := engine.History(ctx, instance.ID)
	require.NoError(t, err)
	second, err := engine.History(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	accessor := definitions.NewStaticAccessor(definition("flow", models.DefinitionStatusActive, "a"))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, pub)

	_, err := engine.Start(context.Background(), startInput("flow"))
	assert.NoError(t, err)
}

func TestConcurrentTransitionsAdvanceOneStepEach(t *testing.T) {
	ctx := context.Background()
	steps := []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9"}
	accessor := definitions.NewStaticAccessor(definition("long", models.DefinitionStatusActive, steps...))
	engine, _ := newInstanceEngine(t, accessor, PolicyLatest, MergeShallow, nil)

	instance, err := engine.Start(ctx, startInput("long"))
	require.NoError(t, err)

	const callers = 6
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := engine.Transition(ctx, advance(instance.ID))
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored, err := engine.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, steps[callers], *stored.CurrentStepID)

	history, err := engine.History(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, history, callers+1)
	seen := map[string]bool{}
	for _, h := range history {
		if h.Action == models.ActionStarted {
			continue
		}
		assert.False(t, seen[*h.StepID], "step %s recorded twice", *h.StepID)
		seen[*h.StepID] = true
	}
}
