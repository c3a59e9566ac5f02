package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// SharedSecret rejects requests that do not present secret as a bearer
// token, an X-Bridge-Secret header or a token query parameter. An empty
// secret disables the check.
func SharedSecret(secret string) echo.MiddlewareFunc {
	if secret == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization + ",header:X-Bridge-Secret,query:token",
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(secret)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, domain.FailureResponse{
				Success: false,
				Error:   "missing or invalid shared secret",
				Code:    domain.CodeUnauthorized,
			})
		},
	})
}
