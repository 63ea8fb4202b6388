// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"roblox-proxy-go/internal/client"
	"roblox-proxy-go/internal/config"
	"roblox-proxy-go/internal/model"
	"roblox-proxy-go/internal/redact"
)

// ErrMissingLink is returned when the request carries no target URL.
var ErrMissingLink = errors.New("missing 'link' parameter")

// AccessTokenHeader carries the configured access token on every outbound request.
const AccessTokenHeader = "roblox-access-token"

// SessionCookieName is the cookie injected when a caller asks for the session secret.
const SessionCookieName = ".ROBLOSECURITY"

// excludedResponseHeaders are recomputed by our own transport and must never
// be copied from the upstream response.
var excludedResponseHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

// ProxyService re-issues authenticated requests to their target with injected
// credentials and returns the filtered upstream response.
type ProxyService struct {
	client   *client.UpstreamClient
	cfg      *config.Config
	logger   *slog.Logger
	redactor *redact.Redactor
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, r *redact.Redactor) *ProxyService {
	return &ProxyService{
		client:   c,
		cfg:      cfg,
		logger:   logger.With("component", "proxy_service"),
		redactor: r,
	}
}

// Forward sends a ForwardRequest to its target and returns the upstream response.
//
// Any upstream status, including 4xx/5xx and 3xx, is returned as a response;
// an error means no response was obtained (missing link, timeout, transport
// failure) after the retry policy was exhausted.
func (s *ProxyService) Forward(fr *model.ForwardRequest) (*model.ForwardResponse, error) {
	target, err := ResolveTarget(fr.Link)
	if err != nil {
		return nil, err
	}

	header := s.BuildHeaders(fr.UseSessionCookie)

	s.logger.Debug("outgoing request",
		"url", target,
		"method", fr.Method,
		"session_cookie", fr.UseSessionCookie,
	)

	resp, err := s.client.Do(fr.Ctx, fr.Method, target, header, fr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	s.logger.Debug("upstream response",
		"status", resp.StatusCode,
		"bytes", len(resp.Body),
		"body", string(resp.Body),
	)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		s.logger.Error("upstream rejected request",
			"status", resp.StatusCode,
			"url", target,
			"body", s.redactor.String(string(resp.Body)),
		)
	}

	resp.Header = FilterResponseHeaders(resp.Header)
	return resp, nil
}

// ResolveTarget turns the raw "link" parameter into the outbound URL: it is
// percent-decoded once (malformed escapes stay as written) and given an https:// scheme when it has neither
// http:// nor https://. Anything else about the URL is left for the dispatch
// to reject.
func ResolveTarget(link string) (string, error) {
	if link == "" {
		return "", ErrMissingLink
	}

	target := unescapeLenient(link)

	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}
	return target, nil
}

// BuildHeaders returns the fixed outbound header set. Inbound headers are
// never part of it.
func (s *ProxyService) BuildHeaders(withSessionCookie bool) http.Header {
	ua := s.cfg.Roblox.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}

	h := make(http.Header)
	h.Set("User-Agent", ua)
	h.Set("Content-Type", "application/json")
	h.Set(AccessTokenHeader, s.cfg.Roblox.AccessToken)
	if withSessionCookie {
		h.Set("Cookie", SessionCookieName+"="+s.cfg.Roblox.Roblosecurity)
	}
	return h
}

// FilterResponseHeaders returns a copy of src without the headers our own
// transport recomputes (Content-Encoding, Content-Length, Transfer-Encoding,
// Connection). Filtering an already filtered set is a no-op.
func FilterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if excludedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}

// unescapeLenient decodes every well-formed %XX escape and keeps malformed
// ones literally. "+" is not a space. Decoded bytes that are not valid UTF-8
// become U+FFFD.
func unescapeLenient(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if ok1 && ok2 {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return strings.ToValidUTF8(b.String(), "\uFFFD")
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
