package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

func TestEncodeEvent(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	deadline := ts.Add(5 * time.Second)

	cases := []struct {
		name  string
		event domain.Event
		want  string
	}{
		{
			name: "started",
			event: domain.Event{Type: domain.EventTypeExecutionStarted, ExecutionID: "exec_1", Ts: ts,
				Payload: domain.ExecutionStartedPayload{Command: "ask", Args: []json.RawMessage{json.RawMessage(`1`)}}},
			want: `{"type":"execution_started","ts":1700000000000,"executionId":"exec_1","command":"ask","args":[1]}`,
		},
		{
			name: "needs input",
			event: domain.Event{Type: domain.EventTypeExecutionNeedsInput, ExecutionID: "exec_1", Ts: ts,
				Payload: domain.ExecutionNeedsInputPayload{Prompt: "continue?", Kind: domain.InputKindConfirm, Deadline: deadline.UnixMilli()}},
			want: `{"type":"execution_needs_input","ts":1700000000000,"executionId":"exec_1","prompt":"continue?","kind":"confirm","deadline":1700000005000}`,
		},
		{
			name:  "resumed",
			event: domain.Event{Type: domain.EventTypeExecutionResumed, ExecutionID: "exec_1", Ts: ts, Payload: struct{}{}},
			want:  `{"type":"execution_resumed","ts":1700000000000,"executionId":"exec_1"}`,
		},
		{
			name: "completed with error",
			event: domain.Event{Type: domain.EventTypeExecutionCompleted, ExecutionID: "exec_1", Ts: ts,
				Payload: domain.ExecutionCompletedPayload{
					Status: domain.ExecutionStatusFailed,
					Error:  &domain.ExecutionError{Code: domain.CodeExecutionFailed, Kind: "quota", Message: "over"},
				}},
			want: `{"type":"execution_completed","ts":1700000000000,"executionId":"exec_1","status":"failed","error":{"code":"EXECUTION_FAILED","kind":"quota","message":"over"},"executionTimeMs":0}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := EncodeEvent(tc.event)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))
		})
	}
}

func TestEncodeHealthChanged(t *testing.T) {
	checked := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	data, err := EncodeEvent(domain.Event{
		Type: domain.EventTypeHealthChanged,
		Ts:   checked,
		Payload: domain.HealthChangedPayload{
			State:               domain.HealthUnavailable,
			ConsecutiveFailures: 3,
			LastCheckedAt:       checked,
		},
	})
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, TypeHealthChanged, msg["type"])
	assert.Equal(t, "unavailable", msg["state"])
	assert.NotContains(t, msg, "executionId")
}

func TestEncodeUnknownPayload(t *testing.T) {
	_, err := EncodeEvent(domain.Event{Type: "bogus", Payload: 42})
	assert.Error(t, err)
}
