// Package protocol defines the WebSocket message protocol between observers
// and the bridge.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// Version is announced in the capabilities message.
const Version = "1"

// Message types from observer to bridge
const (
	TypeInputSubmission = "input_submission"
	TypeCancelExecution = "cancel_execution"
)

// Message types from bridge to observer
const (
	TypeCapabilities        = "capabilities"
	TypeExecutionStarted    = "execution_started"
	TypeExecutionNeedsInput = "execution_needs_input"
	TypeExecutionResumed    = "execution_resumed"
	TypeExecutionCompleted  = "execution_completed"
	TypeHealthChanged       = "health_changed"
	TypeInputResponse       = "input_response"
	TypeCancelResponse      = "cancel_response"
	TypeError               = "error"
)

// Events lists the event types pushed to every observer.
var Events = []string{
	TypeExecutionStarted,
	TypeExecutionNeedsInput,
	TypeExecutionResumed,
	TypeExecutionCompleted,
	TypeHealthChanged,
}

// Accepts lists the message types an observer may send.
var Accepts = []string{
	TypeInputSubmission,
	TypeCancelExecution,
}

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type        string `json:"type"`
	Ts          int64  `json:"ts"`
	RequestID   string `json:"requestId,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

// CapabilitiesMessage is sent right after the upgrade.
type CapabilitiesMessage struct {
	BaseMessage
	ConnectionID    string   `json:"connectionId"`
	ProtocolVersion string   `json:"protocolVersion"`
	Events          []string `json:"events"`
	Accepts         []string `json:"accepts"`
}

// ExecutionStartedMessage announces a running execution.
type ExecutionStartedMessage struct {
	BaseMessage
	Command string            `json:"command"`
	Args    []json.RawMessage `json:"args"`
	Context string            `json:"context,omitempty"`
}

// ExecutionNeedsInputMessage announces a pending input request. Deadline is
// in unix milliseconds.
type ExecutionNeedsInputMessage struct {
	BaseMessage
	Prompt   string           `json:"prompt"`
	Kind     domain.InputKind `json:"kind"`
	Deadline int64            `json:"deadline"`
}

// ExecutionResumedMessage announces that an answered execution is running again.
type ExecutionResumedMessage struct {
	BaseMessage
}

// ExecutionCompletedMessage announces a terminal execution.
type ExecutionCompletedMessage struct {
	BaseMessage
	Status          domain.ExecutionStatus `json:"status"`
	Result          json.RawMessage        `json:"result,omitempty"`
	Error           *domain.ExecutionError `json:"error,omitempty"`
	ExecutionTimeMs int64                  `json:"executionTimeMs"`
}

// HealthChangedMessage announces a health state transition.
type HealthChangedMessage struct {
	BaseMessage
	State               domain.HealthStatus `json:"state"`
	ConsecutiveFailures int                 `json:"consecutiveFailures"`
	LastCheckedAt       time.Time           `json:"lastCheckedAt"`
}

// InputSubmissionMessage is sent by an observer to answer a pending request.
type InputSubmissionMessage struct {
	BaseMessage
	Value string `json:"value"`
	Kind  string `json:"kind"`
}

// InputResponseMessage answers an InputSubmissionMessage.
type InputResponseMessage struct {
	BaseMessage
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// CancelExecutionMessage is sent by an observer to cancel an execution.
type CancelExecutionMessage struct {
	BaseMessage
}

// CancelResponseMessage answers a CancelExecutionMessage.
type CancelResponseMessage struct {
	BaseMessage
	Success bool                   `json:"success"`
	Status  domain.ExecutionStatus `json:"status,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Code    string                 `json:"code,omitempty"`
}

// ErrorMessage is sent when an inbound message cannot be handled.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes that are not part of the domain taxonomy
const (
	ErrorCodeInvalidMessage  = "INVALID_MESSAGE"
	ErrorCodeRateLimited     = "RATE_LIMITED"
	ErrorCodeConnectionLimit = "CONNECTION_LIMIT"
)

// FromEvent converts a lifecycle event into its wire message.
func FromEvent(e domain.Event) (interface{}, error) {
	base := BaseMessage{
		Type:        string(e.Type),
		Ts:          e.Ts.UnixMilli(),
		ExecutionID: e.ExecutionID,
	}

	switch p := e.Payload.(type) {
	case domain.ExecutionStartedPayload:
		return ExecutionStartedMessage{BaseMessage: base, Command: p.Command, Args: p.Args, Context: p.Context}, nil
	case domain.ExecutionNeedsInputPayload:
		return ExecutionNeedsInputMessage{BaseMessage: base, Prompt: p.Prompt, Kind: p.Kind, Deadline: p.Deadline}, nil
	case domain.ExecutionCompletedPayload:
		return ExecutionCompletedMessage{
			BaseMessage:     base,
			Status:          p.Status,
			Result:          p.Result,
			Error:           p.Error,
			ExecutionTimeMs: p.ExecutionTimeMs,
		}, nil
	case domain.HealthChangedPayload:
		return HealthChangedMessage{
			BaseMessage:         base,
			State:               p.State,
			ConsecutiveFailures: p.ConsecutiveFailures,
			LastCheckedAt:       p.LastCheckedAt,
		}, nil
	}

	if e.Type == domain.EventTypeExecutionResumed {
		return ExecutionResumedMessage{BaseMessage: base}, nil
	}
	return nil, fmt.Errorf("unsupported event %s with payload %T", e.Type, e.Payload)
}

// EncodeEvent marshals a lifecycle event for the wire.
func EncodeEvent(e domain.Event) ([]byte, error) {
	msg, err := FromEvent(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}
