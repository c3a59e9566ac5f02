// Package domain defines the core domain models for the bridge.
package domain

import (
	"strconv"
	"strings"
)

// ExecutionStatus represents the status of an execution.
type ExecutionStatus string

const (
	ExecutionStatusQueued        ExecutionStatus = "queued"
	ExecutionStatusRunning       ExecutionStatus = "running"
	ExecutionStatusAwaitingInput ExecutionStatus = "awaiting_input"
	ExecutionStatusSucceeded     ExecutionStatus = "succeeded"
	ExecutionStatusFailed        ExecutionStatus = "failed"
	ExecutionStatusTimedOut      ExecutionStatus = "timed_out"
	ExecutionStatusCancelled     ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSucceeded, ExecutionStatusFailed, ExecutionStatusTimedOut, ExecutionStatusCancelled:
		return true
	}
	return false
}

// EventType represents the type of a lifecycle event.
type EventType string

const (
	EventTypeExecutionStarted    EventType = "execution_started"
	EventTypeExecutionNeedsInput EventType = "execution_needs_input"
	EventTypeExecutionResumed    EventType = "execution_resumed"
	EventTypeExecutionCompleted  EventType = "execution_completed"
	EventTypeHealthChanged       EventType = "health_changed"
)

// InputKind is the kind of value a pending input request expects.
type InputKind string

const (
	InputKindText    InputKind = "text"
	InputKindSecret  InputKind = "secret"
	InputKindConfirm InputKind = "confirm"
	InputKindNumber  InputKind = "number"
)

// ParseInputKind parses s, defaulting an empty string to text.
func ParseInputKind(s string) (InputKind, bool) {
	switch k := InputKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return InputKindText, true
	case InputKindText, InputKindSecret, InputKindConfirm, InputKindNumber:
		return k, true
	}
	return "", false
}

// Valid reports whether k is a known input kind.
func (k InputKind) Valid() bool {
	switch k {
	case InputKindText, InputKindSecret, InputKindConfirm, InputKindNumber:
		return true
	}
	return false
}

// CheckValue validates value against the kind.
func (k InputKind) CheckValue(value string) error {
	switch k {
	case InputKindConfirm:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "y", "yes", "n", "no", "true", "false":
			return nil
		}
		return NewError(CodeValidation, "confirm input must be yes or no")
	case InputKindNumber:
		if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
			return NewError(CodeValidation, "number input must be numeric")
		}
	}
	return nil
}

// HealthStatus is the derived availability of the host.
type HealthStatus string

const (
	HealthAvailable   HealthStatus = "available"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnavailable HealthStatus = "unavailable"
)
