// Package service implements the core request-forwarding engine.
package service

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"kantara-proxy/internal/client"
	"kantara-proxy/internal/model"
)

// droppedRequestHeaders are never copied to the outbound request: the
// transport recomputes them for the new destination and body framing.
// Membership is checked case-insensitively via canonical header keys.
var droppedRequestHeaders = map[string]bool{
	"Host":           true,
	"Content-Length": true,
}

// droppedResponseHeaders are never copied back to the client: the proxy's
// own server re-frames the body, and the upstream's framing header would
// conflict with it.
var droppedResponseHeaders = map[string]bool{
	"Transfer-Encoding": true,
}

// TransportError reports that the outbound call could not reach the
// upstream (connection refused, DNS failure, timeout). Maps to 502.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send request to upstream %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BodyReadError reports that the upstream answered but its response body
// could not be fully read. Maps to 500; nothing has been flushed to the
// client yet, so no truncated response escapes.
type BodyReadError struct {
	URL string
	Err error
}

func (e *BodyReadError) Error() string {
	return fmt.Sprintf("read upstream response body from %s: %v", e.URL, e.Err)
}

func (e *BodyReadError) Unwrap() error { return e.Err }

// RequestBuildError reports that the outbound request could not be
// constructed. Maps to 500.
type RequestBuildError struct {
	URL string
	Err error
}

func (e *RequestBuildError) Error() string {
	return fmt.Sprintf("build upstream request for %s: %v", e.URL, e.Err)
}

func (e *RequestBuildError) Unwrap() error { return e.Err }

// ForwardService forwards inbound requests to the upstream target.
//
// The target base URL is published exactly once via SetTarget before the
// proxy listener accepts its first connection and is read-only afterwards,
// so no locking is needed.
type ForwardService struct {
	client *client.UpstreamClient
	logger *slog.Logger
	target string
}

// NewForwardService creates a ForwardService. The upstream target is not
// known at construction time (the origin may still shift port); the
// supervisor publishes it via SetTarget during startup.
func NewForwardService(c *client.UpstreamClient, logger *slog.Logger) *ForwardService {
	return &ForwardService{
		client: c,
		logger: logger.With("component", "forward_service"),
	}
}

// SetTarget publishes the upstream base URL. Must be called once, before
// the proxy listener starts accepting.
func (s *ForwardService) SetTarget(base string) {
	s.target = base
}

// Target returns the published upstream base URL.
func (s *ForwardService) Target() string {
	return s.target
}

// Forward sends the inbound request to the upstream and returns the fully
// read response. Exactly one upstream attempt is made; there are no
// retries. Failures come back as *TransportError, *BodyReadError or
// *RequestBuildError for the handler to map to status codes.
func (s *ForwardService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	// The upstream URL is the base plus the inbound path and query,
	// byte-for-byte. No normalization happens here.
	url := s.target + pr.PathAndQuery

	// An empty inbound body is not attached at all, so a bodyless GET
	// stays bodyless instead of gaining a zero-length entity.
	var body io.Reader
	if len(pr.Body) > 0 {
		body = bytes.NewReader(pr.Body)
	}

	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, url, body)
	if err != nil {
		return nil, &RequestBuildError{URL: url, Err: err}
	}
	req.Header = s.filterRequestHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"url", url,
	)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BodyReadError{URL: url, Err: err}
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     s.filterResponseHeaders(resp.Header),
		Body:       data,
	}, nil
}

func (s *ForwardService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if droppedRequestHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
	}
	return dst
}

func (s *ForwardService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if droppedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}
