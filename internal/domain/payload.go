package domain

import (
	"encoding/json"
	"time"
)

// ExecutionStartedPayload is the payload of execution_started.
type ExecutionStartedPayload struct {
	Command string            `json:"command"`
	Args    []json.RawMessage `json:"args"`
	Context string            `json:"context,omitempty"`
}

// ExecutionNeedsInputPayload is the payload of execution_needs_input.
type ExecutionNeedsInputPayload struct {
	Prompt   string    `json:"prompt"`
	Kind     InputKind `json:"kind"`
	Deadline int64     `json:"deadline"`
}

// ExecutionCompletedPayload is the payload of execution_completed.
type ExecutionCompletedPayload struct {
	Status          ExecutionStatus `json:"status"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *ExecutionError `json:"error,omitempty"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
}

// HealthChangedPayload is the payload of health_changed.
type HealthChangedPayload struct {
	State               HealthStatus `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastCheckedAt       time.Time    `json:"lastCheckedAt"`
}
