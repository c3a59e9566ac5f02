// Package v1 provides the synchronous request gateway handlers.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	log     *zap.SugaredLogger
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		service: svc,
		log:     log,
	}
}

// RegisterRoutes registers the gated API routes.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/v1/execute", h.Execute)
	g.GET("/v1/health", h.Health)
	g.POST("/v1/input", h.SubmitInput)

	g.GET("/v1/executions", h.ListExecutions)
	g.GET("/v1/executions/:execution_id", h.GetExecution)
	g.POST("/v1/executions/:execution_id/cancel", h.CancelExecution)
	g.GET("/v1/inputs", h.ListInputs)
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyResolved, domain.CodeCancelled:
		return http.StatusConflict
	case domain.CodeExpired:
		return http.StatusGone
	case domain.CodeCapacity:
		return http.StatusTooManyRequests
	case domain.CodeExecutionFailed:
		return http.StatusBadGateway
	case domain.CodeUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the failure envelope. Internal causes are logged, never
// returned.
func (h *Handler) fail(c echo.Context, executionID string, err error) error {
	code := domain.CodeOf(err)
	if code == domain.CodeInternal {
		h.log.Errorw("request failed", "path", c.Path(), "executionId", executionID, "error", err)
	}
	return c.JSON(StatusFor(code), domain.FailureResponse{
		Success:     false,
		ExecutionID: executionID,
		Error:       domain.PublicMessage(err),
		Code:        code,
	})
}

func invalidBody() error {
	return domain.NewError(domain.CodeValidation, "invalid request body")
}
