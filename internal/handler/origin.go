package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// originPayload is the fixed body the origin server returns for every request.
const originPayload = "Hello, World!"

// OriginHandler answers every method and path with a fixed payload.
// It carries no state and performs no validation.
type OriginHandler struct{}

// NewOriginHandler creates an OriginHandler.
func NewOriginHandler() *OriginHandler {
	return &OriginHandler{}
}

// Handle returns 200 OK with the fixed payload.
func (h *OriginHandler) Handle(c echo.Context) error {
	return c.String(http.StatusOK, originPayload)
}
