package domain

import (
	"encoding/json"
	"time"
)

// Execution is one tracked invocation of a named command against the host.
type Execution struct {
	ExecutionID string            `json:"executionId"`
	Command     string            `json:"command"`
	Args        []json.RawMessage `json:"args"`
	Context     string            `json:"context,omitempty"`
	Status      ExecutionStatus   `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Deadline    time.Time         `json:"deadline"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Error       *ExecutionError   `json:"error,omitempty"`
}

// Duration returns the time between start and completion, or zero while the
// execution is still in flight.
func (e Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(*e.StartedAt)
}

// ExecutionError is the failure recorded on a terminal execution.
// Kind is the host-reported failure kind, kept verbatim.
type ExecutionError struct {
	Code    ErrorCode `json:"code"`
	Kind    string    `json:"kind,omitempty"`
	Message string    `json:"message"`
}

// Err converts the record error into a classified error.
func (e *ExecutionError) Err() *Error {
	if e == nil {
		return nil
	}
	return NewError(e.Code, "%s", e.Message)
}

// PendingInput is a live request for user input, keyed by execution.
type PendingInput struct {
	ExecutionID string    `json:"executionId"`
	Prompt      string    `json:"prompt"`
	Kind        InputKind `json:"kind"`
	CreatedAt   time.Time `json:"createdAt"`
	Deadline    time.Time `json:"deadline"`
}

// HealthState is the bridge's derived assessment of host reachability.
type HealthState struct {
	State                HealthStatus `json:"state"`
	ConsecutiveFailures  int          `json:"consecutiveFailures"`
	ConsecutiveSuccesses int          `json:"consecutiveSuccesses"`
	LastCheckedAt        time.Time    `json:"lastCheckedAt"`
}

// Event is a lifecycle event fanned out to observers.
type Event struct {
	Type        EventType
	ExecutionID string
	Ts          time.Time
	Payload     interface{}
}
