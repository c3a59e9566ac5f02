package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// Execute runs a command and waits for its terminal state.
func (h *Handler) Execute(c echo.Context) error {
	var req domain.ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, "", invalidBody())
	}

	res, err := h.service.Execute(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, res.ExecutionID, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Health returns the advisory host health snapshot.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Health())
}
