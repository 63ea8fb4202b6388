package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"roblox-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Health returns a fixed liveness indicator. It does not touch the upstream.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Status returns non-secret proxy settings.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":             "ok",
		"version":            string(h.version),
		"user_agent":         h.cfg.Roblox.UserAgent,
		"timeout_seconds":    h.cfg.Upstream.TimeoutSeconds,
		"retry_max_attempts": h.cfg.Upstream.Retry.MaxAttempts,
		"retryable_statuses": h.cfg.Upstream.Retry.RetryableStatuses,
	})
}
