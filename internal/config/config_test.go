package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"
)

// secretsTOML supplies the three required credentials.
const secretsTOML = `
[auth]
proxy_token = "proxy-secret"

[roblox]
access_token = "access-secret"
roblosecurity = "cookie-secret"
`

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, secretsTOML+`
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[upstream]
timeout_seconds = 60
max_conns_per_host = 4
max_idle_conns = 8

[upstream.retry]
max_attempts = 5
backoff_base_ms = 100
backoff_max_ms = 2000
retryable_statuses = [503]

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Auth.ProxyToken != "proxy-secret" {
		t.Errorf("Auth.ProxyToken = %q, want %q", cfg.Auth.ProxyToken, "proxy-secret")
	}
	if cfg.Roblox.AccessToken != "access-secret" {
		t.Errorf("Roblox.AccessToken = %q, want %q", cfg.Roblox.AccessToken, "access-secret")
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Upstream.MaxConnsPerHost != 4 {
		t.Errorf("Upstream.MaxConnsPerHost = %d, want %d", cfg.Upstream.MaxConnsPerHost, 4)
	}
	if cfg.Upstream.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want %d", cfg.Upstream.Retry.MaxAttempts, 5)
	}
	if !slices.Equal(cfg.Upstream.Retry.RetryableStatuses, []int{503}) {
		t.Errorf("Retry.RetryableStatuses = %v, want [503]", cfg.Upstream.Retry.RetryableStatuses)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_MissingSecrets(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "no proxy token",
			data:    "[roblox]\naccess_token = \"a\"\nroblosecurity = \"c\"\n",
			wantErr: "auth.proxy_token",
		},
		{
			name:    "no access token",
			data:    "[auth]\nproxy_token = \"p\"\n[roblox]\nroblosecurity = \"c\"\n",
			wantErr: "roblox.access_token",
		},
		{
			name:    "no roblosecurity",
			data:    "[auth]\nproxy_token = \"p\"\n[roblox]\naccess_token = \"a\"\n",
			wantErr: "roblox.roblosecurity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error for missing secret, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_EnvOnlyWithoutFile(t *testing.T) {
	orig := configSearchPaths
	configSearchPaths = []string{filepath.Join(t.TempDir(), "missing.toml")}
	t.Cleanup(func() { configSearchPaths = orig })

	cfg, err := Load(&CLI{
		ProxyToken:    "p",
		AccessToken:   "a",
		Roblosecurity: "c",
	})
	if err != nil {
		t.Fatalf("Load() error = %v; config file should be optional", err)
	}
	if cfg.Auth.ProxyToken != "p" || cfg.Roblox.AccessToken != "a" || cfg.Roblox.Roblosecurity != "c" {
		t.Errorf("secrets not taken from CLI: %+v %+v", cfg.Auth, cfg.Roblox)
	}
	if cfg.filePath != "" {
		t.Errorf("filePath = %q, want empty", cfg.filePath)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, secretsTOML+`
[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, secretsTOML)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 5000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Roblox.UserAgent != DefaultUserAgent {
		t.Errorf("default Roblox.UserAgent = %q, want %q", cfg.Roblox.UserAgent, DefaultUserAgent)
	}
	if got := cfg.Upstream.Timeout(); got != 30*time.Second {
		t.Errorf("default Upstream.Timeout() = %v, want 30s", got)
	}
	if cfg.Upstream.MaxConnsPerHost != 10 {
		t.Errorf("default Upstream.MaxConnsPerHost = %d, want 10", cfg.Upstream.MaxConnsPerHost)
	}
	if cfg.Upstream.MaxIdleConns != 20 {
		t.Errorf("default Upstream.MaxIdleConns = %d, want 20", cfg.Upstream.MaxIdleConns)
	}
	if cfg.Upstream.Retry.MaxAttempts != 3 {
		t.Errorf("default Retry.MaxAttempts = %d, want 3", cfg.Upstream.Retry.MaxAttempts)
	}
	if !slices.Equal(cfg.Upstream.Retry.RetryableStatuses, DefaultRetryableStatuses) {
		t.Errorf("default Retry.RetryableStatuses = %v, want %v", cfg.Upstream.Retry.RetryableStatuses, DefaultRetryableStatuses)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, secretsTOML+`
[server]
host = "0.0.0.0"
port = 8000

[log]
level = "info"
`)

	cli := &CLI{
		Config:        path,
		Host:          "127.0.0.1",
		Port:          3000,
		ProxyToken:    "cli-proxy",
		AccessToken:   "cli-access",
		Roblosecurity: "cli-cookie",
		LogLevel:      "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Auth.ProxyToken != "cli-proxy" {
		t.Errorf("Auth.ProxyToken = %q, want %q (CLI override)", cfg.Auth.ProxyToken, "cli-proxy")
	}
	if cfg.Roblox.AccessToken != "cli-access" {
		t.Errorf("Roblox.AccessToken = %q, want %q (CLI override)", cfg.Roblox.AccessToken, "cli-access")
	}
	if cfg.Roblox.Roblosecurity != "cli-cookie" {
		t.Errorf("Roblox.Roblosecurity = %q, want %q (CLI override)", cfg.Roblox.Roblosecurity, "cli-cookie")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"negative port", "[server]\nport = -1\n"},
		{"negative body_max_bytes", "[server]\nbody_max_bytes = -1\n"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n"},
		{"negative max_conns_per_host", "[upstream]\nmax_conns_per_host = -1\n"},
		{"negative max_attempts", "[upstream.retry]\nmax_attempts = -1\n"},
		{"max_attempts above cap", "[upstream.retry]\nmax_attempts = 11\n"},
		{"base above max", "[upstream.retry]\nbackoff_base_ms = 500\nbackoff_max_ms = 100\n"},
		{"bad retryable status", "[upstream.retry]\nretryable_statuses = [503, 42]\n"},
		{"bad log format", "[log]\nformat = \"xml\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, secretsTOML+tt.data)))
			if err == nil {
				t.Fatalf("Load() expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, secretsTOML+`
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, secretsTOML+`
[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestLoad_HideRejectedToken(t *testing.T) {
	path := writeConfig(t, `
[auth]
proxy_token = "p"
hide_rejected_token = true

[roblox]
access_token = "a"
roblosecurity = "c"
`)
	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.HideRejectedToken {
		t.Error("expected Auth.HideRejectedToken = true")
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	(&Config{}).WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning in env-only mode, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, secretsTOML)

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, secretsTOML)
	path2 := writeConfig(t, secretsTOML)

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, secretsTOML+"[metrics]\nenabled = true\n")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, secretsTOML+`
[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"root", "/"},
		{"health", "/health"},
		{"health sub", "/health/metrics"},
		{"proxy/status", "/proxy/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, secretsTOML+`
[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, secretsTOML+`
[metrics]
enabled = false
path = "bad-no-slash"
`)

	_, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestConfig_Secrets(t *testing.T) {
	cfg := &Config{
		Auth:   AuthConfig{ProxyToken: "p"},
		Roblox: RobloxConfig{AccessToken: "a", Roblosecurity: "c"},
	}
	if got := cfg.Secrets(); !slices.Equal(got, []string{"p", "a", "c"}) {
		t.Errorf("Secrets() = %v, want [p a c]", got)
	}
}

func TestLoad_MaxAttemptsAtCap(t *testing.T) {
	path := writeConfig(t, secretsTOML+`
[upstream.retry]
max_attempts = 10
`)
	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.Retry.MaxAttempts != MaxRetryAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.Upstream.Retry.MaxAttempts, MaxRetryAttempts)
	}
}
