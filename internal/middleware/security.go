package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders returns an Echo middleware that adds conservative
// security headers to responses.
//
// Wired on the origin listener only: the proxy must relay upstream
// responses unmodified, so adding headers there would break relay
// fidelity.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Set before the handler runs so the headers make it onto the
			// wire even when the handler writes the response itself.
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")

			return next(c)
		}
	}
}
