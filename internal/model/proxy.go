// Package model defines shared types for the proxy.
package model

import (
	"context"
	"net/http"
)

// ForwardRequest is an authenticated inbound request to be re-issued upstream.
// Only the method and body of the inbound request travel to the target;
// its headers are never forwarded.
type ForwardRequest struct {
	Ctx    context.Context
	Method string
	// Link is the target URL as received in the "link" query parameter,
	// possibly still percent-encoded and possibly without a scheme.
	Link string
	// UseSessionCookie requests injection of the .ROBLOSECURITY cookie.
	UseSessionCookie bool
	Body             []byte
}

// ForwardResponse is the buffered upstream response to be relayed back.
type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
