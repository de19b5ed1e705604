// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/kantara-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	WebPort    int    `kong:"short='w',help='Port for the origin web server (overrides config).',env='WEB_PORT'"`
	ProxyPort  int    `kong:"short='p',help='Port for the reverse proxy (overrides config).',env='PROXY_PORT'"`
	Upstream   string `kong:"short='u',help='Upstream base URL the proxy forwards to (overrides config).',env='UPSTREAM_URL'"`
	NoAutoPort bool   `kong:"help='Do not scan for an alternative port when a requested one is in use.',env='NO_AUTO_PORT'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Upstream UpstreamConfig `toml:"upstream"`
	Ports    PortsConfig    `toml:"ports"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Status   StatusConfig   `toml:"status"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds the origin web server's listen settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"` // 0 means "use default" (3000); TOML cannot distinguish 0 from unset
}

// ProxyConfig holds the reverse proxy listener's settings.
type ProxyConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting on the proxy listener.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	URL             string `toml:"url"`
	IdleConnections int    `toml:"idle_connections"`
}

// PortsConfig controls the fallback port scan applied to both listeners.
type PortsConfig struct {
	NoAuto    bool `toml:"no_auto"`
	ScanLimit int  `toml:"scan_limit"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings. When enabled, the
// metrics path is served on the proxy listener ahead of the forwarding
// catch-all, so it is off by default.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// StatusConfig holds the optional status endpoint settings. Like metrics,
// the status path shadows forwarding for that one path and is off by default.
type StatusConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/kantara-proxy/config.toml then configs/config.toml. Unlike servers
// that require a config file, a missing file is not an error here: the
// defaults describe a fully working process and the CLI flags cover the
// rest.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.WebPort != 0 {
		c.Server.Port = cli.WebPort
	}
	if cli.ProxyPort != 0 {
		c.Proxy.Port = cli.ProxyPort
	}
	if cli.Upstream != "" {
		c.Upstream.URL = cli.Upstream
	}
	if cli.NoAutoPort {
		c.Ports.NoAuto = true
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Proxy.Host == "" {
		c.Proxy.Host = "0.0.0.0"
	}
	if c.Proxy.Port == 0 {
		c.Proxy.Port = 8080
	}
	if c.Upstream.URL == "" {
		c.Upstream.URL = "http://127.0.0.1:3000"
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Ports.ScanLimit == 0 {
		c.Ports.ScanLimit = 1000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Status.Path == "" {
		c.Status.Path = "/proxy/status"
	}
}

func (c *Config) validate() error {
	// Upstream URL must parse and carry an http(s) scheme.
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return fmt.Errorf("upstream.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.url must use http or https; got %q", c.Upstream.URL)
	}

	// Numeric bounds.
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1–65535; got %d", c.Server.Port)
	}
	if c.Proxy.Port < 1 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy.port must be 1–65535; got %d", c.Proxy.Port)
	}
	if c.Proxy.BodyMaxBytes < 0 {
		return fmt.Errorf("proxy.body_max_bytes must be non-negative; got %d", c.Proxy.BodyMaxBytes)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Ports.ScanLimit < 1 {
		return fmt.Errorf("ports.scan_limit must be positive; got %d", c.Ports.ScanLimit)
	}
	if c.Proxy.RateLimit.Enabled && c.Proxy.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("proxy.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Proxy.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Paths carved out of the proxy's catch-all route.
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/'; got %q", c.Metrics.Path)
	}
	if c.Status.Enabled && !strings.HasPrefix(c.Status.Path, "/") {
		return fmt.Errorf("status.path must start with '/'; got %q", c.Status.Path)
	}
	if c.Metrics.Enabled && c.Status.Enabled && c.Metrics.Path == c.Status.Path {
		return fmt.Errorf("metrics.path and status.path conflict: both %q", c.Metrics.Path)
	}

	return nil
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// AutoPort reports whether the fallback port scan is enabled.
func (c *Config) AutoPort() bool {
	return !c.Ports.NoAuto
}

// Addr returns the origin listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the proxy listen address as host:port.
func (c *ProxyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
