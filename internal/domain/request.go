package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ExecuteRequest is the body of an execute call.
type ExecuteRequest struct {
	Command   string            `json:"command"`
	Args      []json.RawMessage `json:"args"`
	Context   *string           `json:"context,omitempty"`
	TimeoutMs int64             `json:"timeoutMs,omitempty"`
}

// Validate checks the request shape before it reaches the registry.
func (r *ExecuteRequest) Validate() error {
	r.Command = strings.TrimSpace(r.Command)
	if r.Command == "" {
		return NewError(CodeValidation, "command is required")
	}
	if r.Args == nil {
		r.Args = []json.RawMessage{}
	}
	for _, a := range r.Args {
		if len(a) == 0 || !json.Valid(a) {
			return NewError(CodeValidation, "args must be a list of JSON values")
		}
	}
	return nil
}

// ContextString returns the optional context, or "".
func (r *ExecuteRequest) ContextString() string {
	if r.Context == nil {
		return ""
	}
	return *r.Context
}

// ExecuteResult is returned to the execute caller on success.
type ExecuteResult struct {
	Success         bool            `json:"success"`
	ExecutionID     string          `json:"executionId"`
	Output          json.RawMessage `json:"output"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
}

// FailureResponse is the shape of every failed request.
type FailureResponse struct {
	Success     bool      `json:"success"`
	ExecutionID string    `json:"executionId,omitempty"`
	Error       string    `json:"error"`
	Code        ErrorCode `json:"code"`
}

// SubmitInputRequest answers a pending input request.
type SubmitInputRequest struct {
	ExecutionID string `json:"executionId"`
	Value       string `json:"value"`
	Kind        string `json:"kind"`
}

// Validate checks the request shape and returns the parsed kind. An omitted
// kind is returned as "" and matches whatever the pending request expects.
func (r *SubmitInputRequest) Validate() (InputKind, error) {
	r.ExecutionID = strings.TrimSpace(r.ExecutionID)
	if r.ExecutionID == "" {
		return "", NewError(CodeValidation, "executionId is required")
	}
	if strings.TrimSpace(r.Kind) == "" {
		return "", nil
	}
	kind, ok := ParseInputKind(r.Kind)
	if !ok {
		return "", NewError(CodeValidation, "unknown input kind %q", r.Kind)
	}
	return kind, nil
}

// SubmitInputResponse reports whether an input answer was accepted.
type SubmitInputResponse struct {
	Success     bool      `json:"success"`
	ExecutionID string    `json:"executionId"`
	Error       string    `json:"error,omitempty"`
	Code        ErrorCode `json:"code,omitempty"`
}

// HealthReport is the read-only health query result. LastCheckedAt is
// omitted until the first health check has run.
type HealthReport struct {
	State                HealthStatus `json:"state"`
	ConsecutiveFailures  int          `json:"consecutiveFailures"`
	ConsecutiveSuccesses int          `json:"consecutiveSuccesses"`
	LastCheckedAt        *time.Time   `json:"lastCheckedAt,omitempty"`
	ActiveExecutions     int          `json:"activeExecutions"`
}

// ExecutionList is the response for listing executions.
type ExecutionList struct {
	Executions []Execution `json:"executions"`
}

// PendingInputList is the response for listing pending inputs.
type PendingInputList struct {
	Inputs []PendingInput `json:"inputs"`
}
