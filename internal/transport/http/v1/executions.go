package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// ListExecutions lists active and recent executions.
func (h *Handler) ListExecutions(c echo.Context) error {
	return c.JSON(http.StatusOK, domain.ExecutionList{Executions: h.service.ListExecutions()})
}

// GetExecution returns one execution record.
func (h *Handler) GetExecution(c echo.Context) error {
	id := c.Param("execution_id")
	exec, err := h.service.GetExecution(id)
	if err != nil {
		return h.fail(c, id, err)
	}
	return c.JSON(http.StatusOK, exec)
}

// CancelExecution cancels an active execution.
func (h *Handler) CancelExecution(c echo.Context) error {
	id := c.Param("execution_id")
	exec, err := h.service.Cancel(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, id, err)
	}
	return c.JSON(http.StatusOK, exec)
}
