package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

func TestParseArgs(t *testing.T) {
	args := parseArgs([]string{"42", `{"a":1}`, "hello", "true", "two words"})

	want := []string{`42`, `{"a":1}`, `"hello"`, `true`, `"two words"`}
	assert.Len(t, args, len(want))
	for i, w := range want {
		assert.JSONEq(t, w, string(args[i]))
		assert.True(t, json.Valid(args[i]))
	}
}

type answerRecorder struct {
	mu   sync.Mutex
	reqs []domain.SubmitInputRequest
}

func (r *answerRecorder) all() []domain.SubmitInputRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SubmitInputRequest(nil), r.reqs...)
}

// answerServer records the submit-input requests bridgectl sends.
func answerServer(t *testing.T) (*httptest.Server, *answerRecorder) {
	t.Helper()
	rec := &answerRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/input", r.URL.Path)

		var req domain.SubmitInputRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		rec.mu.Lock()
		rec.reqs = append(rec.reqs, req)
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"executionId":"` + req.ExecutionID + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestAnswerCommand(t *testing.T) {
	t.Setenv("BRIDGE_SHARED_SECRET", "")
	srv, rec := answerServer(t)

	t.Run("Kind Omitted", func(t *testing.T) {
		require.NoError(t, newApp().Run([]string{"bridgectl", "--addr", srv.URL, "answer", "exec_1", "yes"}))
		got := rec.all()
		require.Len(t, got, 1)

		req := got[0]
		assert.Equal(t, "exec_1", req.ExecutionID)
		assert.Equal(t, "yes", req.Value)
		assert.Empty(t, req.Kind, "an omitted kind defers to the prompt's kind")

		kind, err := req.Validate()
		require.NoError(t, err)
		assert.Equal(t, domain.InputKind(""), kind)
	})

	t.Run("Explicit Kind", func(t *testing.T) {
		require.NoError(t, newApp().Run([]string{"bridgectl", "--addr", srv.URL, "answer", "--kind", "number", "exec_2", "42"}))
		got := rec.all()
		require.Len(t, got, 2)
		assert.Equal(t, "number", got[1].Kind)
	})
}
