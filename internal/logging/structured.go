package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

// Logger writes structured JSON lines to an underlying writer, gated by a
// minimum level. It is safe for concurrent use since the engine dispatches
// tasks from a worker pool that all log through the same instance.
type Logger struct {
	mu       sync.Mutex
	w        io.Writer
	minLevel level
	defaults Fields
}

// New returns a Logger that writes to w with the given minimum level
// ("debug", "info", "warn", "error") and default field values applied to
// every entry unless overridden per-call.
func New(w io.Writer, minLevel string, defaults Fields) *Logger {
	return &Logger{w: w, minLevel: parseLevelOrDefault(minLevel), defaults: populateRequiredFields(defaults)}
}

// With returns a copy of the logger with additional default fields merged
// in, used to scope a logger to a run or node without threading extra
// parameters through every call site.
func (l *Logger) With(runID, nodeID string) *Logger {
	if l == nil {
		return nil
	}
	defaults := l.defaults
	if runID != "" {
		defaults.RunID = runID
	}
	if nodeID != "" {
		defaults.NodeID = nodeID
	}
	return &Logger{w: l.w, minLevel: l.minLevel, defaults: defaults}
}

// Log writes a single structured JSON line when level passes the configured
// threshold. Extra fields override the logger's defaults for this line only.
func (l *Logger) Log(lvl string, extra map[string]interface{}) error {
	if l == nil || l.w == nil {
		return nil
	}

	normalized := strings.ToLower(strings.TrimSpace(lvl))
	severity, ok := parseLevel(normalized)
	if !ok {
		return fmt.Errorf("invalid log level %q", lvl)
	}
	if severity < l.minLevel {
		return nil
	}

	entry := map[string]interface{}{}
	for k, v := range extra {
		entry[k] = v
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	entry["level"] = normalized
	entry["component"] = chooseField(entry["component"], l.defaults.Component)
	entry["run_id"] = chooseField(entry["run_id"], l.defaults.RunID)
	if nodeID := chooseField(entry["node_id"], l.defaults.NodeID); nodeID != "" {
		entry["node_id"] = nodeID
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(payload, '\n'))
	return err
}

func (l *Logger) Debug(extra map[string]interface{}) { _ = l.Log("debug", extra) }
func (l *Logger) Info(extra map[string]interface{})  { _ = l.Log("info", extra) }
func (l *Logger) Warn(extra map[string]interface{})  { _ = l.Log("warn", extra) }
func (l *Logger) Error(extra map[string]interface{}) { _ = l.Log("error", extra) }

func parseLevelOrDefault(raw string) level {
	parsed, ok := parseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if !ok {
		return levelInfo
	}
	return parsed
}

func parseLevel(raw string) (level, bool) {
	switch raw {
	case "debug":
		return levelDebug, true
	case "info":
		return levelInfo, true
	case "warn", "warning":
		return levelWarn, true
	case "error":
		return levelError, true
	default:
		return 0, false
	}
}

func chooseField(raw interface{}, fallback string) string {
	value, ok := raw.(string)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
