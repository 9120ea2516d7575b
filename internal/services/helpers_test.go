package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"workflow-suite/core/internal/events"
	"workflow-suite/core/internal/logging"
	"workflow-suite/core/pkg/models"
)

type mockAccessor struct {
	mock.Mock
}

func (m *mockAccessor) GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	def, _ := args.Get(0).(*models.WorkflowDefinition)
	return def, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// testClock advances one second on every reading.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s-%d", prefix, n.Add(1)) }
}

func testOptions(pub events.Publisher) Options {
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	return Options{
		Logger:    logging.New(logging.Options{Output: io.Discard}),
		Publisher: pub,
		Now:       newTestClock().Now,
		NewID:     sequentialIDs("id"),
	}
}

func definition(id string, status models.DefinitionStatus, stepIDs ...string) models.WorkflowDefinition {
	def := models.WorkflowDefinition{ID: id, Name: id, Status: status}
	for i, s := range stepIDs {
		kind := models.StepKindTask
		if i == len(stepIDs)-1 {
			kind = models.StepKindTerminal
		}
		def.Steps = append(def.Steps, models.Step{ID: s, Name: s, Kind: kind})
	}
	return def
}

func ptr[T any](v T) *T { return &v }
