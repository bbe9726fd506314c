package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	if cfg.Module == "" {
		ve.Add("module is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		ve.Add("listen %q is not host:port: %v", cfg.Listen, err)
	}
	if cfg.Workers <= 0 {
		ve.Add("workers must be > 0")
	}
	if cfg.HostStackSize <= 0 {
		ve.Add("host_stack_size must be > 0")
	}
	if cfg.RequestChunkSize <= 0 {
		ve.Add("request_chunk_size must be > 0")
	}
	if cfg.MemoryLimitPages > 65536 {
		ve.Add("memory_limit_pages must be <= 65536")
	}
	if cfg.Static.Dir != "" && !strings.HasPrefix(cfg.Static.Prefix, "/") {
		ve.Add("static.prefix %q must start with /", cfg.Static.Prefix)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		ve.Add("rate_limit.requests_per_second must be >= 0")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst <= 0 {
		ve.Add("rate_limit.burst must be > 0 when a rate is set")
	}
	switch cfg.Tracing.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracing.exporter %q must be noop or stdout", cfg.Tracing.Exporter)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		ve.Add("log.level %q must be debug, info, warn or error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		ve.Add("log.format %q must be console or json", cfg.Log.Format)
	}
	if cfg.ShutdownTimeout < 0 {
		ve.Add("shutdown_timeout must be >= 0")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}
