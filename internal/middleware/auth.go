package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"roblox-proxy-go/internal/config"
)

// ProxyTokenHeader and ProxyTokenParam are the two places a caller may put
// the shared secret. The header wins when both are present.
const (
	ProxyTokenHeader = "proxy-token"
	ProxyTokenParam  = "proxy-token"
)

// RequireProxyToken returns an Echo middleware that rejects with 401 any
// request whose token is not exactly cfg.ProxyToken. Rejected requests never
// reach the wrapped handler.
//
// Unless cfg.HideRejectedToken is set, the rejection body echoes the token
// that was received, which existing callers rely on to debug their setup.
func RequireProxyToken(cfg config.AuthConfig, logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "access_guard")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := ExtractToken(c)
			if TokenMatches(token, cfg.ProxyToken) {
				return next(c)
			}

			logger.Warn("rejected request",
				"method", c.Request().Method,
				"remote_ip", c.RealIP(),
				"token_present", token != "",
			)

			if cfg.HideRejectedToken {
				return c.String(http.StatusUnauthorized, "Unauthorized")
			}
			return c.String(http.StatusUnauthorized, "Unauthorized - Token received: "+token)
		}
	}
}

// ExtractToken returns the candidate token from the proxy-token header, or
// the proxy-token query parameter when the header is absent or empty.
func ExtractToken(c echo.Context) string {
	if token := c.Request().Header.Get(ProxyTokenHeader); token != "" {
		return token
	}
	return c.QueryParam(ProxyTokenParam)
}

// TokenMatches reports whether got equals want. An empty want never matches.
func TokenMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
