package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-suite/core/internal/reqctx"
)

func TestLoggerWritesKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "debug", Format: "json", Output: &buf})

	logger.Info("instance started", "instance_id", "abc", "steps", 3)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "instance started", line["msg"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "abc", line["instance_id"])
	assert.EqualValues(t, 3, line["steps"])
}

func TestLoggerWithContextAddsCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "json", Output: &buf})

	ctx := reqctx.WithCorrelationID(context.Background(), "corr-1")
	ctx = reqctx.WithUserID(ctx, "alice")
	logger.WithContext(ctx).Warn("decision rejected")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "corr-1", line["correlation_id"])
	assert.Equal(t, "alice", line["actor"])
	assert.Equal(t, "warning", line["level"])
}

func TestLoggerLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "info", Output: &buf})

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.Error("shown", "error", "boom")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "error=boom")
}

func TestOddArgumentsDoNotPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "json", Output: &buf})

	assert.NotPanics(t, func() { logger.Info("odd", "dangling") })
	assert.Contains(t, buf.String(), "!BADKEY")
}
