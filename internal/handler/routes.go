package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kantara-proxy/internal/config"
	"kantara-proxy/internal/metrics"
)

// RegisterProxyRoutes wires the proxy listener's routes. The optional
// metrics and status endpoints are registered ahead of the forwarding
// catch-all; with both disabled (the default) every path is forwarded.
func RegisterProxyRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, status *StatusHandler, m *metrics.Metrics) {
	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
	if cfg.Status.Enabled {
		e.GET(cfg.Status.Path, status.Handle)
	}

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}

// RegisterOriginRoutes wires the origin listener: every method and path
// lands on the fixed-response handler.
func RegisterOriginRoutes(e *echo.Echo, origin *OriginHandler) {
	e.Any("/", origin.Handle)
	e.Any("/*", origin.Handle)
}
