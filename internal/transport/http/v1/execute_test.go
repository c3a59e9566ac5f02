package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/bridge/internal/config"
	"github.com/xiaot623/gogo/bridge/internal/domain"
)

func TestExecute(t *testing.T) {
	e := echo.New()
	handler, svc := newTestHandler(t, func(cfg *config.Config) { cfg.MaxConcurrent = 1 })

	t.Run("Success", func(t *testing.T) {
		c, rec := newJSONContext(e, http.MethodPost, "/v1/execute", `{"command":"echo","args":["a",1],"context":"ctx"}`)
		require.NoError(t, handler.Execute(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp domain.ExecuteResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.ExecutionID)
		assert.JSONEq(t, `{"args":["a",1],"context":"ctx"}`, string(resp.Output))
	})

	t.Run("Validation", func(t *testing.T) {
		before := len(svc.ListExecutions())
		for _, body := range []string{
			`{`,
			`{"command":5}`,
			`{"command":"echo","args":"not-a-list"}`,
			`{"command":""}`,
			`{"command":"echo","context":7}`,
		} {
			c, rec := newJSONContext(e, http.MethodPost, "/v1/execute", body)
			require.NoError(t, handler.Execute(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)

			var resp domain.FailureResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, domain.CodeValidation, resp.Code, body)
		}
		assert.Len(t, svc.ListExecutions(), before, "invalid requests never reach the registry")
	})

	t.Run("Host Failure", func(t *testing.T) {
		c, rec := newJSONContext(e, http.MethodPost, "/v1/execute", `{"command":"fail"}`)
		require.NoError(t, handler.Execute(c))
		assert.Equal(t, http.StatusBadGateway, rec.Code)

		var resp domain.FailureResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, domain.CodeExecutionFailed, resp.Code)
		assert.Equal(t, "over quota", resp.Error)
		assert.NotEmpty(t, resp.ExecutionID)
	})

	t.Run("Unknown Command", func(t *testing.T) {
		c, rec := newJSONContext(e, http.MethodPost, "/v1/execute", `{"command":"nope"}`)
		require.NoError(t, handler.Execute(c))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("Timeout", func(t *testing.T) {
		c, rec := newJSONContext(e, http.MethodPost, "/v1/execute", `{"command":"hang","timeoutMs":50}`)
		require.NoError(t, handler.Execute(c))
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

		var resp domain.FailureResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, domain.CodeTimeout, resp.Code)
	})

	t.Run("Capacity", func(t *testing.T) {
		go svc.Execute(context.Background(), domain.ExecuteRequest{Command: "hang", TimeoutMs: 60000})
		require.Eventually(t, func() bool { return svc.Active() == 1 }, time.Second, 5*time.Millisecond)

		c, rec := newJSONContext(e, http.MethodPost, "/v1/execute", `{"command":"echo"}`)
		require.NoError(t, handler.Execute(c))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		var resp domain.FailureResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, domain.CodeCapacity, resp.Code)
	})
}

func TestHealth(t *testing.T) {
	e := echo.New()
	handler, _ := newTestHandler(t, nil)

	c, rec := newJSONContext(e, http.MethodGet, "/v1/health", "")
	require.NoError(t, handler.Health(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp domain.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.HealthAvailable, resp.State)
	assert.Equal(t, 0, resp.ActiveExecutions)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "lastCheckedAt", "omitted until the first health check")
}

func TestStatusFor(t *testing.T) {
	cases := map[domain.ErrorCode]int{
		domain.CodeValidation:      http.StatusBadRequest,
		domain.CodeUnauthorized:    http.StatusUnauthorized,
		domain.CodeNotFound:        http.StatusNotFound,
		domain.CodeAlreadyResolved: http.StatusConflict,
		domain.CodeCancelled:       http.StatusConflict,
		domain.CodeExpired:         http.StatusGone,
		domain.CodeCapacity:        http.StatusTooManyRequests,
		domain.CodeExecutionFailed: http.StatusBadGateway,
		domain.CodeUnavailable:     http.StatusServiceUnavailable,
		domain.CodeTimeout:         http.StatusGatewayTimeout,
		domain.CodeInternal:        http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, StatusFor(code), code)
	}
}
