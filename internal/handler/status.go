package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"kantara-proxy/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// StatusHandler serves the optional status endpoint on the proxy listener.
type StatusHandler struct {
	service *service.ForwardService
	version Version
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(svc *service.ForwardService, v Version) *StatusHandler {
	return &StatusHandler{service: svc, version: v}
}

// Handle returns proxy status information, including the resolved upstream
// URL (which may differ from the configured one after an origin port
// fallback).
func (h *StatusHandler) Handle(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": h.service.Target(),
	})
}
