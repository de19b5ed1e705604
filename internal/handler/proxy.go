package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"kantara-proxy/internal/model"
	"kantara-proxy/internal/service"
)

// ProxyHandler forwards every inbound request to the upstream target.
type ProxyHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ForwardService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle buffers the inbound request, forwards it upstream and writes the
// upstream's response back verbatim (status and filtered headers). Errors
// from the forwarding engine map to 502/500 without affecting other
// in-flight requests.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		h.logger.Error("reading request body",
			"err", err,
			"path", req.URL.Path,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to read request body: " + err.Error(),
		})
	}

	pr := &model.ProxyRequest{
		Ctx:          req.Context(),
		Method:       req.Method,
		PathAndQuery: pathAndQuery(req),
		Header:       req.Header,
		Body:         body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	if _, err := c.Response().Write(resp.Body); err != nil {
		// Headers and status are already on the wire; all that is left
		// is logging for observability.
		h.logger.Error("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// pathAndQuery returns the inbound path+query exactly as received. The raw
// request target is preferred over re-encoding the parsed URL so the
// upstream sees the same bytes the client sent.
func pathAndQuery(req *http.Request) string {
	if req.RequestURI != "" {
		return req.RequestURI
	}
	return req.URL.RequestURI()
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
		"upstream", h.service.Target(),
	)

	var te *service.TransportError
	if errors.As(err, &te) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "failed to send request to upstream server: " + te.Err.Error(),
		})
	}

	var bre *service.BodyReadError
	if errors.As(err, &bre) {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to read upstream response body: " + bre.Err.Error(),
		})
	}

	var rbe *service.RequestBuildError
	if errors.As(err, &rbe) {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to build upstream request: " + rbe.Err.Error(),
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed: " + err.Error(),
	})
}
