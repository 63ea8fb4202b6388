package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roblox-proxy-go/internal/config"
	"roblox-proxy-go/internal/metrics"
	"roblox-proxy-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Only the proxy endpoint sits behind the access guard.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/health", health.Health)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/", proxy.Handle, middleware.RequireProxyToken(cfg.Auth, logger))
}
