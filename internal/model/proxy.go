// Package model defines shared types for the proxy.
package model

import (
	"context"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
// The body is buffered in full so the forwarding engine can decide whether
// to attach it (empty bodies are not forwarded as zero-length entities).
type ProxyRequest struct {
	Ctx          context.Context
	Method       string
	PathAndQuery string
	Header       http.Header
	Body         []byte
}

// ProxyResponse represents a fully-read upstream response.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// BindOutcome records how a listener's port was resolved at startup.
type BindOutcome struct {
	Requested int
	Bound     int
	Fallback  bool
}
