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

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

func TestExecutions(t *testing.T) {
	e := echo.New()
	handler, svc := newTestHandler(t, nil)

	res, err := svc.Execute(context.Background(), domain.ExecuteRequest{Command: "echo"})
	require.NoError(t, err)

	t.Run("Get", func(t *testing.T) {
		c, rec := newParamContext(e, http.MethodGet, "/v1/executions/"+res.ExecutionID, res.ExecutionID)
		require.NoError(t, handler.GetExecution(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var exec domain.Execution
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
		assert.Equal(t, domain.ExecutionStatusSucceeded, exec.Status)
		assert.NotNil(t, exec.CompletedAt)
	})

	t.Run("Get Unknown", func(t *testing.T) {
		c, rec := newParamContext(e, http.MethodGet, "/v1/executions/exec_nope", "exec_nope")
		require.NoError(t, handler.GetExecution(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("List", func(t *testing.T) {
		c, rec := newJSONContext(e, http.MethodGet, "/v1/executions", "")
		require.NoError(t, handler.ListExecutions(c))

		var list domain.ExecutionList
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list.Executions, 1)
		assert.Equal(t, res.ExecutionID, list.Executions[0].ExecutionID)
	})

	t.Run("Cancel", func(t *testing.T) {
		errs := make(chan error, 1)
		ids := make(chan string, 1)
		go func() {
			r, err := svc.Execute(context.Background(), domain.ExecuteRequest{Command: "hang", TimeoutMs: 60000})
			ids <- r.ExecutionID
			errs <- err
		}()

		var id string
		require.Eventually(t, func() bool {
			for _, ex := range svc.ListExecutions() {
				if ex.Command == "hang" && ex.Status == domain.ExecutionStatusRunning {
					id = ex.ExecutionID
					return true
				}
			}
			return false
		}, time.Second, 5*time.Millisecond)

		c, rec := newParamContext(e, http.MethodPost, "/v1/executions/"+id+"/cancel", id)
		require.NoError(t, handler.CancelExecution(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var exec domain.Execution
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
		assert.Equal(t, domain.ExecutionStatusCancelled, exec.Status)

		assert.Equal(t, id, <-ids)
		assert.Equal(t, domain.CodeCancelled, domain.CodeOf(<-errs))

		c, rec = newParamContext(e, http.MethodPost, "/v1/executions/"+id+"/cancel", id)
		require.NoError(t, handler.CancelExecution(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
