// Package handler exposes the proxy, health and status endpoints over Echo.
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"roblox-proxy-go/internal/client"
	"roblox-proxy-go/internal/model"
	"roblox-proxy-go/internal/redact"
	"roblox-proxy-go/internal/service"
)

// Query parameters read by the proxy endpoint.
const (
	LinkParam             = "link"
	SessionCookieParam    = "use_roblo_security"
	sessionCookieEnabled  = "true"
	missingLinkMessage    = "Missing 'link' parameter"
	timeoutMessage        = "Request timeout"
	unreadableBodyMessage = "Failed to read request body"
)

// ProxyHandler forwards authenticated requests to the URL given in "link".
type ProxyHandler struct {
	service  *service.ProxyService
	logger   *slog.Logger
	redactor *redact.Redactor
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger, r *redact.Redactor) *ProxyHandler {
	return &ProxyHandler{
		service:  svc,
		logger:   logger.With("component", "proxy_handler"),
		redactor: r,
	}
}

// Handle buffers the inbound body, forwards the request and relays the
// upstream status, filtered headers and body verbatim.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		// BodyLimit reports oversize bodies as an *echo.HTTPError.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return c.String(http.StatusBadRequest, unreadableBodyMessage)
	}

	fr := &model.ForwardRequest{
		Ctx:              req.Context(),
		Method:           req.Method,
		Link:             c.QueryParam(LinkParam),
		UseSessionCookie: c.QueryParam(SessionCookieParam) == sessionCookieEnabled,
		Body:             body,
	}

	resp, err := h.service.Forward(fr)
	if err != nil {
		return h.mapError(c, err)
	}

	// The relayed header set is exactly the upstream's, so anything earlier
	// middleware put on the response (X-Request-Id) is dropped.
	header := c.Response().Header()
	clear(header)
	for key, vals := range resp.Header {
		header[key] = append([]string(nil), vals...)
	}
	if _, ok := resp.Header["Content-Type"]; !ok {
		// Keep net/http from sniffing one in.
		header["Content-Type"] = nil
	}

	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"status", resp.StatusCode,
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrMissingLink) {
		return c.String(http.StatusBadRequest, missingLinkMessage)
	}

	msg := h.redactor.String(err.Error())

	if client.IsTimeout(err) {
		h.logger.Error("upstream timeout", "err", msg)
		return c.String(http.StatusGatewayTimeout, timeoutMessage)
	}

	h.logger.Error("upstream request failed", "err", msg)
	return c.String(http.StatusInternalServerError, msg)
}
