package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesRequiredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", Fields{Component: "engine", RunID: "run-1"})

	require.NoError(t, logger.Log("info", map[string]interface{}{"node_id": "ticket-1:implement"}))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "engine", entry["component"])
	require.Equal(t, "run-1", entry["run_id"])
	require.Equal(t, "ticket-1:implement", entry["node_id"])
	require.NoError(t, ValidateLine(buf.Bytes()))
}

func TestLoggerRespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", Fields{Component: "engine", RunID: "run-1"})

	require.NoError(t, logger.Log("info", nil))
	require.Empty(t, buf.String())

	require.NoError(t, logger.Log("error", nil))
	require.NotEmpty(t, buf.String())
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", Fields{Component: "engine", RunID: "run-1"})
	require.Error(t, logger.Log("critical", nil))
}

func TestWithScopesDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", Fields{Component: "engine", RunID: "run-1"})
	scoped := logger.With("run-2", "discovery")
	require.NoError(t, scoped.Log("info", nil))
	require.True(t, strings.Contains(buf.String(), `"run_id":"run-2"`))
	require.True(t, strings.Contains(buf.String(), `"node_id":"discovery"`))
}

func TestValidateLineRejectsMissingFields(t *testing.T) {
	require.Error(t, ValidateLine([]byte(`{"level":"info"}`)))
	require.Error(t, ValidateLine(nil))
}
