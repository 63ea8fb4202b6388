// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/roblox-proxy/config.toml",
	"configs/config.toml",
}

// DefaultRetryableStatuses are the upstream status codes retried when
// upstream.retry.retryable_statuses is not set.
var DefaultRetryableStatuses = []int{429, 500, 502, 503, 504}

// MaxRetryAttempts bounds upstream.retry.max_attempts. The server write
// timeout grows with it.
const MaxRetryAttempts = 10

// DefaultUserAgent is the client identifier sent on every outbound request.
const DefaultUserAgent = "RobloxStudio/WinInet"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	ProxyToken    string `kong:"help='Shared secret callers must present (overrides config).',env='PROXY_TOKEN'"`
	AccessToken   string `kong:"help='Roblox access token injected upstream (overrides config).',env='ROBLOX_ACCESS_TOKEN'"`
	Roblosecurity string `kong:"help='.ROBLOSECURITY session cookie value (overrides config).',env='ROBLOSECURITY'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Roblox   RobloxConfig   `toml:"roblox"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (5000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// AuthConfig holds the inbound access guard settings.
type AuthConfig struct {
	ProxyToken string `toml:"proxy_token"`
	// HideRejectedToken replaces the "Token received: ..." rejection body
	// with a bare "Unauthorized".
	HideRejectedToken bool `toml:"hide_rejected_token"`
}

// RobloxConfig holds the credentials injected into outbound requests.
type RobloxConfig struct {
	AccessToken   string `toml:"access_token"`
	Roblosecurity string `toml:"roblosecurity"`
	UserAgent     string `toml:"user_agent"`
}

// UpstreamConfig holds outbound connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int         `toml:"timeout_seconds"`
	MaxConnsPerHost int         `toml:"max_conns_per_host"`
	MaxIdleConns    int         `toml:"max_idle_conns"`
	Retry           RetryConfig `toml:"retry"`
}

// RetryConfig controls retries of the outbound leg.
type RetryConfig struct {
	MaxAttempts       int   `toml:"max_attempts"`
	BackoffBaseMillis int   `toml:"backoff_base_ms"`
	BackoffMaxMillis  int   `toml:"backoff_max_ms"`
	RetryableStatuses []int `toml:"retryable_statuses"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/roblox-proxy/config.toml then configs/config.toml. If none of them
// exists the configuration is built from CLI flags and environment alone.
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

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.ProxyToken != "" {
		c.Auth.ProxyToken = cli.ProxyToken
	}
	if cli.AccessToken != "" {
		c.Roblox.AccessToken = cli.AccessToken
	}
	if cli.Roblosecurity != "" {
		c.Roblox.Roblosecurity = cli.Roblosecurity
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Secrets: all three are injected or compared on every request, so a
	// missing one would make every request fail in a confusing way.
	if c.Auth.ProxyToken == "" {
		return fmt.Errorf("auth.proxy_token is required (or set PROXY_TOKEN)")
	}
	if c.Roblox.AccessToken == "" {
		return fmt.Errorf("roblox.access_token is required (or set ROBLOX_ACCESS_TOKEN)")
	}
	if c.Roblox.Roblosecurity == "" {
		return fmt.Errorf("roblox.roblosecurity is required (or set ROBLOSECURITY)")
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.MaxConnsPerHost < 0 {
		return fmt.Errorf("upstream.max_conns_per_host must be non-negative; got %d", c.Upstream.MaxConnsPerHost)
	}
	if c.Upstream.MaxIdleConns < 0 {
		return fmt.Errorf("upstream.max_idle_conns must be non-negative; got %d", c.Upstream.MaxIdleConns)
	}

	r := c.Upstream.Retry
	if r.MaxAttempts < 0 || r.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("upstream.retry.max_attempts must be 0–%d; got %d", MaxRetryAttempts, r.MaxAttempts)
	}
	if r.BackoffBaseMillis < 0 || r.BackoffMaxMillis < 0 {
		return fmt.Errorf("upstream.retry backoff values must be non-negative; got base=%d max=%d", r.BackoffBaseMillis, r.BackoffMaxMillis)
	}
	if r.BackoffMaxMillis != 0 && r.BackoffBaseMillis > r.BackoffMaxMillis {
		return fmt.Errorf("upstream.retry.backoff_base_ms (%d) exceeds backoff_max_ms (%d)", r.BackoffBaseMillis, r.BackoffMaxMillis)
	}
	for _, code := range r.RetryableStatuses {
		if code < 100 || code > 599 {
			return fmt.Errorf("upstream.retry.retryable_statuses contains invalid status %d", code)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if p == "/" {
			return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, "/")
		}
		for _, reserved := range []string{"/health", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Roblox.UserAgent == "" {
		c.Roblox.UserAgent = DefaultUserAgent
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.MaxConnsPerHost == 0 {
		c.Upstream.MaxConnsPerHost = 10
	}
	if c.Upstream.MaxIdleConns == 0 {
		c.Upstream.MaxIdleConns = 20
	}
	if c.Upstream.Retry.MaxAttempts == 0 {
		c.Upstream.Retry.MaxAttempts = 3
	}
	if c.Upstream.Retry.BackoffBaseMillis == 0 {
		c.Upstream.Retry.BackoffBaseMillis = 1000
	}
	if c.Upstream.Retry.BackoffMaxMillis == 0 {
		c.Upstream.Retry.BackoffMaxMillis = 10_000
	}
	if c.Upstream.Retry.BackoffMaxMillis < c.Upstream.Retry.BackoffBaseMillis {
		c.Upstream.Retry.BackoffMaxMillis = c.Upstream.Retry.BackoffBaseMillis
	}
	if len(c.Upstream.Retry.RetryableStatuses) == 0 {
		c.Upstream.Retry.RetryableStatuses = append([]int(nil), DefaultRetryableStatuses...)
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

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the per-attempt outbound timeout.
func (c *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Secrets returns every configured credential, for log redaction.
func (c *Config) Secrets() []string {
	return []string{c.Auth.ProxyToken, c.Roblox.AccessToken, c.Roblox.Roblosecurity}
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
