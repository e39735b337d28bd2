// Package config loads supervisor-wide defaults (C12): pool sizing,
// default execution policy, sandbox strictness, audit log location,
// telemetry exporter settings, and rate-limiter defaults, from a JSON5
// document with environment-variable overrides and optional hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/securer/internal/secerr"
)

// PoolConfig bounds the fixed-size session pool, per spec.md §4.9.
type PoolConfig struct {
	Size             int    `json:"size,omitempty"`
	ResetBetweenUses bool   `json:"reset_between_uses,omitempty"`
	AcquireTimeoutMS int    `json:"acquire_timeout_ms,omitempty"`
	MaintenanceCron  string `json:"maintenance_cron,omitempty"`
}

// PolicyDefaults are the supervisor-wide fallback Policy values applied
// when a caller's per-execution Policy leaves a field at its zero value.
type PolicyDefaults struct {
	MaxCodeLength  int `json:"max_code_length,omitempty"`
	MaxToolCalls   int `json:"max_tool_calls,omitempty"`
	MaxOutputLines int `json:"max_output_lines,omitempty"`
	MaxExecutions  int `json:"max_executions,omitempty"`
	TimeoutMS      int `json:"timeout_ms,omitempty"`
	SanitizeErrors bool `json:"sanitize_errors,omitempty"`
}

// SandboxDefaults configures how strictly the sandbox assembler must
// succeed and where it looks for its isolator binary.
type SandboxDefaults struct {
	Strict  bool   `json:"strict,omitempty"`
	BinPath string `json:"bin_path,omitempty"`
}

// AuditConfig configures the JSONL audit log and its optional SQLite
// mirror.
type AuditConfig struct {
	Path            string `json:"path,omitempty"`
	RotateMaxBytes  int64  `json:"rotate_max_bytes,omitempty"`
	MirrorSQLitePath string `json:"mirror_sqlite_path,omitempty"`
}

// TelemetryConfig selects the OTLP exporter, mirroring
// internal/telemetry.Config but as plain JSON-friendly fields.
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
	Endpoint    string  `json:"endpoint,omitempty"`
	Protocol    string  `json:"protocol,omitempty"` // "grpc" or "http"
	Insecure    bool    `json:"insecure,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"`
}

// RateLimitConfig configures the per-session and per-tool-category
// guards ahead of the Policy Engine's hard caps.
type RateLimitConfig struct {
	PerSessionRPS   float64        `json:"per_session_rps,omitempty"`
	PerSessionBurst int            `json:"per_session_burst,omitempty"`
	ToolWindows     map[string]int `json:"tool_windows,omitempty"` // tool name -> max calls per window
	ToolWindowMS    int            `json:"tool_window_ms,omitempty"`
}

// Config is the top-level document loaded from a JSON5 file.
type Config struct {
	Pool      PoolConfig      `json:"pool,omitempty"`
	Policy    PolicyDefaults  `json:"policy,omitempty"`
	Sandbox   SandboxDefaults `json:"sandbox,omitempty"`
	Audit     AuditConfig     `json:"audit,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`

	mu sync.RWMutex
}

// Default returns a Config populated with this package's built-in
// defaults.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			Size:            4,
			AcquireTimeoutMS: 0,
		},
		Policy: PolicyDefaults{
			TimeoutMS: 30000,
		},
		Audit: AuditConfig{
			Path:           "audit.jsonl",
			RotateMaxBytes: 10 << 20,
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// Load reads a JSON5 config file at path, overlaying it onto Default(),
// then applies environment-variable overrides. A missing file is not an
// error — the defaults (plus env overrides) are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, secerr.New(secerr.ConfigInvalid, fmt.Sprintf("config: parse %s: %v", path, err))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// validate rejects structurally invalid configuration synchronously at
// load time, per spec.md §7's "configuration errors" category.
func (c *Config) validate() error {
	if c.Pool.Size < 0 || c.Pool.Size > 100 {
		return secerr.New(secerr.ConfigInvalid, "pool.size must be in [0, 100]")
	}
	if c.Telemetry.Protocol != "" && c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
		return secerr.New(secerr.ConfigInvalid, fmt.Sprintf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol))
	}
	return nil
}

// applyEnvOverrides overlays SECURER_* env vars onto the config. Env
// vars take precedence over file values, matching the teacher's
// overlay ordering.
func (c *Config) applyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envInt("SECURER_POOL_SIZE", &c.Pool.Size)
	envBool("SECURER_POOL_RESET_BETWEEN_USES", &c.Pool.ResetBetweenUses)
	envStr("SECURER_POOL_MAINTENANCE_CRON", &c.Pool.MaintenanceCron)

	envBool("SECURER_SANDBOX_STRICT", &c.Sandbox.Strict)
	envStr("SECURER_SANDBOX_BIN_PATH", &c.Sandbox.BinPath)

	envStr("SECURER_AUDIT_PATH", &c.Audit.Path)
	envStr("SECURER_AUDIT_MIRROR_SQLITE_PATH", &c.Audit.MirrorSQLitePath)

	envBool("SECURER_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("SECURER_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("SECURER_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("SECURER_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("SECURER_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// PolicyTimeout returns the configured default execution timeout as a
// time.Duration.
func (c *Config) PolicyTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Policy.TimeoutMS) * time.Millisecond
}

// AcquireTimeout returns the configured pool acquire-timeout budget as a
// time.Duration; zero means "fail immediately", per spec.md §4.9.
func (c *Config) AcquireTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Pool.AcquireTimeoutMS) * time.Millisecond
}

// Snapshot returns a shallow copy of the config safe to read without
// holding the lock afterward.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
