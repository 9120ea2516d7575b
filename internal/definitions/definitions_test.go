package definitions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-suite/core/pkg/models"
)

func onboarding() map[string]any {
	return map[string]any{
		"id":     "onboarding",
		"name":   "Onboarding",
		"status": "active",
		"steps": []map[string]any{
			{"id": "start", "name": "Start", "kind": "task"},
			{"id": "approve", "name": "Approve", "kind": "approval"},
			{"id": "end", "name": "End", "kind": "terminal"},
		},
	}
}

func TestHTTPAccessorGetDefinition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/definitions/onboarding", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(onboarding())
	}))
	defer srv.Close()

	accessor := NewHTTPAccessor(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second})
	def, err := accessor.GetDefinition(context.Background(), "onboarding")
	require.NoError(t, err)

	assert.True(t, def.IsActive())
	require.Len(t, def.Steps, 3)
	assert.Equal(t, models.StepKindApproval, def.Steps[1].Kind)
	assert.Equal(t, "start", *def.FirstStepID())
}

func TestHTTPAccessorNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	accessor := NewHTTPAccessor(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 3})
	_, err := accessor.GetDefinition(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPAccessorRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(onboarding())
	}))
	defer srv.Close()

	accessor := NewHTTPAccessor(HTTPConfig{BaseURL: srv.URL, Timeout: 2 * time.Second, MaxRetries: 2})
	def, err := accessor.GetDefinition(context.Background(), "onboarding")
	require.NoError(t, err)
	assert.Equal(t, "onboarding", def.ID)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHTTPAccessorRetriesAreBounded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	accessor := NewHTTPAccessor(HTTPConfig{BaseURL: srv.URL, Timeout: 2 * time.Second, MaxRetries: 2})
	_, err := accessor.GetDefinition(context.Background(), "onboarding")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHTTPAccessorTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	accessor := NewHTTPAccessor(HTTPConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, MaxRetries: 5})
	start := time.Now()
	_, err := accessor.GetDefinition(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPAccessorRejectsUnknownStepKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","name":"x","status":"active","steps":[{"id":"s","name":"s","kind":"script"}]}`))
	}))
	defer srv.Close()

	accessor := NewHTTPAccessor(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second})
	_, err := accessor.GetDefinition(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPAccessorClientCredentials(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			tokenCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"svc-token","token_type":"Bearer","expires_in":3600}`))
		default:
			assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(onboarding())
		}
	}))
	defer srv.Close()

	accessor := NewHTTPAccessor(HTTPConfig{
		BaseURL:      srv.URL,
		Timeout:      time.Second,
		ClientID:     "workflow-core",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/oauth/token",
	})
	for i := 0; i < 2; i++ {
		_, err := accessor.GetDefinition(context.Background(), "onboarding")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, tokenCalls.Load())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "definitions.yaml")
	doc := `
definitions:
  - id: onboarding
    name: Onboarding
    status: active
    steps:
      - {id: start, name: Start, kind: task}
      - {id: end, name: End, kind: terminal}
  - id: legacy
    name: Legacy
    status: deprecated
    steps: []
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	accessor, err := LoadFile(path)
	require.NoError(t, err)

	def, err := accessor.GetDefinition(context.Background(), "onboarding")
	require.NoError(t, err)
	assert.Len(t, def.Steps, 2)
	assert.Equal(t, models.StepKindTerminal, def.Steps[1].Kind)

	legacy, err := accessor.GetDefinition(context.Background(), "legacy")
	require.NoError(t, err)
	assert.False(t, legacy.IsActive())
	assert.Nil(t, legacy.FirstStepID())

	_, err = accessor.GetDefinition(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	tests := map[string]string{
		"unknown kind":   "definitions: [{id: a, status: active, steps: [{id: s, kind: script}]}]",
		"duplicate step": "definitions: [{id: a, status: active, steps: [{id: s, kind: task}, {id: s, kind: task}]}]",
		"unknown status": "definitions: [{id: a, status: retired, steps: []}]",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestStaticAccessorReturnsCopies(t *testing.T) {
	accessor := NewStaticAccessor(models.WorkflowDefinition{
		ID:     "d",
		Status: models.DefinitionStatusActive,
		Steps:  []models.Step{{ID: "a", Kind: models.StepKindTask}},
	})

	def, err := accessor.GetDefinition(context.Background(), "d")
	require.NoError(t, err)
	def.Steps[0].ID = "changed"

	again, err := accessor.GetDefinition(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Steps[0].ID)
}

func TestStaticAccessorList(t *testing.T) {
	accessor := NewStaticAccessor(
		models.WorkflowDefinition{ID: "b", Status: models.DefinitionStatusActive},
		models.WorkflowDefinition{ID: "a", Status: models.DefinitionStatusDraft, Steps: []models.Step{{ID: "s", Kind: models.StepKindTask}}},
	)

	defs := accessor.List()
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].ID)
	assert.Equal(t, "b", defs[1].ID)

	defs[0].Steps[0].ID = "changed"
	def, err := accessor.GetDefinition(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "s", def.Steps[0].ID)
}
