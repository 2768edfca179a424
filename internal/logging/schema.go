// Package logging provides the structured JSON-lines logger used across the
// engine, agent invoker, and merge queue coordinator.
package logging

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Fields carries the invariant columns every log line must include.
type Fields struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	RunID     string `json:"run_id"`
	NodeID    string `json:"node_id"`
}

func populateRequiredFields(fields Fields) Fields {
	if fields.Timestamp == "" {
		fields.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if strings.TrimSpace(fields.Level) == "" {
		fields.Level = "info"
	}
	if strings.TrimSpace(fields.Component) == "" {
		fields.Component = "super-ralph-lite"
	}
	return fields
}

// ValidateLine checks that a JSON log line carries the required fields with
// the right shapes. Used by tests.
func ValidateLine(line []byte) error {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return fmt.Errorf("log line is empty")
	}

	entry := map[string]interface{}{}
	if err := json.Unmarshal(line, &entry); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}

	required := []string{"timestamp", "level", "component", "run_id"}
	for _, field := range required {
		value, ok := entry[field]
		if !ok {
			return fmt.Errorf("missing required field %q", field)
		}
		raw, ok := value.(string)
		if !ok || strings.TrimSpace(raw) == "" {
			return fmt.Errorf("required field %q must be a non-empty string", field)
		}
		if field == "timestamp" {
			if _, err := time.Parse(time.RFC3339, raw); err != nil {
				return fmt.Errorf("invalid timestamp %q: %w", raw, err)
			}
		}
	}
	return nil
}
