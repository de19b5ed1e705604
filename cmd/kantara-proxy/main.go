package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"kantara-proxy/internal/client"
	"kantara-proxy/internal/config"
	"kantara-proxy/internal/handler"
	"kantara-proxy/internal/metrics"
	"kantara-proxy/internal/middleware"
	"kantara-proxy/internal/port"
	"kantara-proxy/internal/server"
	"kantara-proxy/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("kantara-proxy"),
		kong.Description("Hello-world origin server and reverse proxy with automatic port fallback."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newPortFinder,
			newShutdowner,
			client.NewUpstreamClient,
			service.NewForwardService,
			handler.NewOriginHandler,
			handler.NewProxyHandler,
			handler.NewStatusHandler,
			fx.Annotate(newOriginEcho, fx.ResultTags(`name:"origin"`)),
			fx.Annotate(newProxyEcho, fx.ResultTags(`name:"proxy"`)),
			server.New,
		),
		fx.Invoke(warnConfigPermissions, server.Run),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newPortFinder(cfg *config.Config) server.PortFinder {
	return port.NewAllocator(cfg.Ports.ScanLimit)
}

func newShutdowner(sd fx.Shutdowner) server.Shutdowner {
	return sd
}

// newOriginEcho builds the hello-world web server. It carries no routes
// besides the catch-all and keeps the hardening middleware since its
// responses go straight to clients.
func newOriginEcho(logger *slog.Logger, origin *handler.OriginHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger.With("listener", "origin")))
	e.Use(middleware.SecurityHeaders())

	handler.RegisterOriginRoutes(e, origin)
	return e
}

// newProxyEcho builds the reverse proxy listener. No SecurityHeaders here:
// the upstream decides what response headers its clients see, and the proxy
// relays them untouched.
func newProxyEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics,
	proxy *handler.ProxyHandler, status *handler.StatusHandler) *echo.Echo {

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) to avoid cutting off valid long-running
	// responses. Protection is provided by ReadTimeout and IdleTimeout.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger.With("listener", "proxy")))

	if cfg.Proxy.BodyMaxBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Proxy.BodyMaxBytes)))
	}
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	if cfg.Proxy.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Proxy.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Proxy.RateLimit.RequestsPerSecond)
	}

	handler.RegisterProxyRoutes(e, cfg, proxy, status, m)
	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}
