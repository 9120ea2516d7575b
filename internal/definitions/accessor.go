// Package definitions provides read-only access to workflow definitions owned
// by the definition service.
package definitions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"workflow-suite/core/pkg/models"
)

var (
	// ErrNotFound is returned when the definition does not exist.
	ErrNotFound = errors.New("definition not found")
	// ErrUnavailable is returned when the definition could not be fetched or
	// decoded. Callers must not treat it as an active definition.
	ErrUnavailable = errors.New("definition service unavailable")
)

// Accessor fetches workflow definitions by id.
type Accessor interface {
	GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error)
}

// StaticAccessor serves definitions from memory.
type StaticAccessor struct {
	mu          sync.RWMutex
	definitions map[string]models.WorkflowDefinition
}

// NewStaticAccessor creates a StaticAccessor holding defs.
func NewStaticAccessor(defs ...models.WorkflowDefinition) *StaticAccessor {
	a := &StaticAccessor{definitions: make(map[string]models.WorkflowDefinition, len(defs))}
	for _, def := range defs {
		a.definitions[def.ID] = def
	}
	return a
}

// Put adds or replaces a definition.
func (a *StaticAccessor) Put(def models.WorkflowDefinition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.definitions[def.ID] = def
}

// GetDefinition returns a copy of the stored definition.
func (a *StaticAccessor) GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	def, ok := a.definitions[id]
	if !ok {
		return nil, ErrNotFound
	}
	def.Steps = append([]models.Step(nil), def.Steps...)
	return &def, nil
}

// List returns copies of all definitions ordered by id.
func (a *StaticAccessor) List() []models.WorkflowDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.WorkflowDefinition, 0, len(a.definitions))
	for _, def := range a.definitions {
		def.Steps = append([]models.Step(nil), def.Steps...)
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func validate(def *models.WorkflowDefinition) error {
	switch def.Status {
	case models.DefinitionStatusDraft, models.DefinitionStatusActive, models.DefinitionStatusDeprecated:
	default:
		return fmt.Errorf("definition %s: unknown status %q", def.ID, def.Status)
	}
	seen := make(map[string]struct{}, len(def.Steps))
	for _, step := range def.Steps {
		if step.ID == "" {
			return fmt.Errorf("definition %s: step without id", def.ID)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("definition %s: duplicate step %q", def.ID, step.ID)
		}
		seen[step.ID] = struct{}{}
		if _, err := models.ParseStepKind(string(step.Kind)); err != nil {
			return fmt.Errorf("definition %s: %w", def.ID, err)
		}
	}
	return nil
}
