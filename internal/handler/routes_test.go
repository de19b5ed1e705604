package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"kantara-proxy/internal/config"
	"kantara-proxy/internal/metrics"
)

func TestRegisterProxyRoutes_DefaultForwardsEverything(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Served-By", "upstream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("upstream says hi"))
	}))
	defer upstream.Close()

	svc := newTestForwardService(t, upstream.URL)
	proxy := NewProxyHandler(svc, discardLogger())
	status := NewStatusHandler(svc, "test")

	cfg := &config.Config{} // metrics and status disabled
	e := echo.New()
	RegisterProxyRoutes(e, cfg, proxy, status, metrics.New())

	// With no introspection endpoints enabled, even /metrics and
	// /proxy/status must be forwarded upstream.
	for _, path := range []string{"/", "/any/path", "/metrics", "/proxy/status"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if got := rec.Header().Get("X-Served-By"); got != "upstream" {
				t.Errorf("path %q was not forwarded upstream", path)
			}
		})
	}
}

func TestRegisterProxyRoutes_MetricsAndStatusEnabled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Served-By", "upstream")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc := newTestForwardService(t, upstream.URL)
	proxy := NewProxyHandler(svc, discardLogger())
	status := NewStatusHandler(svc, "test")

	cfg := &config.Config{
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Status:  config.StatusConfig{Enabled: true, Path: "/proxy/status"},
	}
	e := echo.New()
	RegisterProxyRoutes(e, cfg, proxy, status, metrics.New())

	// /metrics serves the Prometheus registry, not the upstream.
	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("X-Served-By") == "upstream" {
		t.Error("GET /metrics was forwarded upstream, want local Prometheus handler")
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected Prometheus exposition output from /metrics")
	}

	// /proxy/status serves the status handler.
	req = httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /proxy/status status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("X-Served-By") == "upstream" {
		t.Error("GET /proxy/status was forwarded upstream, want local status handler")
	}

	// Everything else is still forwarded.
	req = httptest.NewRequest(http.MethodGet, "/other", http.NoBody)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Served-By"); got != "upstream" {
		t.Error("GET /other was not forwarded upstream")
	}
}

func TestRegisterOriginRoutes(t *testing.T) {
	e := echo.New()
	RegisterOriginRoutes(e, NewOriginHandler())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/"},
		{http.MethodPost, "/"},
		{http.MethodGet, "/a/b/c"},
		{http.MethodPut, "/x"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if got := rec.Body.String(); got != originPayload {
				t.Errorf("body = %q, want %q", got, originPayload)
			}
		})
	}
}
