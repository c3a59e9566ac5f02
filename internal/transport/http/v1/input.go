package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// SubmitInput answers a pending input request.
func (h *Handler) SubmitInput(c echo.Context) error {
	var req domain.SubmitInputRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.SubmitInputResponse{
			Error: "invalid request body",
			Code:  domain.CodeValidation,
		})
	}

	resp, err := h.service.SubmitInput(c.Request().Context(), req)
	if err != nil {
		code := domain.CodeOf(err)
		resp.Success = false
		resp.Error = domain.PublicMessage(err)
		resp.Code = code
		return c.JSON(StatusFor(code), resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListInputs lists live pending input requests.
func (h *Handler) ListInputs(c echo.Context) error {
	inputs := h.service.PendingInputs()
	if inputs == nil {
		inputs = []domain.PendingInput{}
	}
	return c.JSON(http.StatusOK, domain.PendingInputList{Inputs: inputs})
}
