// Package config loads the bridge server configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	Listen  string `yaml:"listen"`
	Module  string `yaml:"module"`
	Workers int    `yaml:"workers"`

	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
	WASI             bool   `yaml:"wasi"`

	// InheritEnv passes the process environment to the guest before Env.
	InheritEnv bool              `yaml:"inherit_env"`
	Env        map[string]string `yaml:"env"`

	// HostStackSize is the number of borrowed-handle slots per instance.
	HostStackSize int `yaml:"host_stack_size"`
	// RequestChunkSize is the read size for request body streams.
	RequestChunkSize int `yaml:"request_chunk_size"`

	Static    StaticConfig    `yaml:"static"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Log       LogConfig       `yaml:"log"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StaticConfig serves files from Dir under Prefix ahead of the guest. An
// empty Dir disables it.
type StaticConfig struct {
	Prefix string `yaml:"prefix"`
	Dir    string `yaml:"dir"`
}

// RateLimitConfig limits requests globally. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Listen:           "127.0.0.1:8080",
		Workers:          1,
		HostStackSize:    128,
		RequestChunkSize: 16 * 1024,
		Static: StaticConfig{
			Prefix: "/static",
		},
		Tracing: TracingConfig{
			Exporter: "noop",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads a YAML config file over the defaults, applies env overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further
// overrides first.
func Read(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	ApplyEnvOverrides(cfg)
	return cfg, nil
}

// ApplyEnvOverrides maps BRIDGE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRIDGE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("BRIDGE_MODULE"); v != "" {
		cfg.Module = v
	}
	if v := os.Getenv("BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
