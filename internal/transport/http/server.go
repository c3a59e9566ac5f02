// Package http assembles the request gateway server.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/bridge/internal/config"
	"github.com/xiaot623/gogo/bridge/internal/service"
	v1 "github.com/xiaot623/gogo/bridge/internal/transport/http/v1"
	"github.com/xiaot623/gogo/bridge/internal/transport/ws"
)

// NewServer creates the echo server carrying the API, the observer
// WebSocket endpoint, metrics and liveness.
func NewServer(cfg *config.Config, svc *service.Service, wsServer *ws.Server, gatherer prometheus.Gatherer, log *zap.SugaredLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(RequestLogger(log))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	// Ungated
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Gated by the shared secret
	g := e.Group("", SharedSecret(cfg.SharedSecret))
	v1.NewHandler(svc, log.Named("v1")).RegisterRoutes(g)
	g.GET("/ws", wsServer.HandleWebSocket)

	return e
}

// RequestLogger logs one line per request through zap.
func RequestLogger(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			log.Infow("request", fields...)
			return nil
		},
	})
}
