package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport      string  `mapstructure:"transport"`
	HTTPPort       int     `mapstructure:"http_port"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend               string            `mapstructure:"backend"`
	DefaultTimeoutSec     int               `mapstructure:"default_timeout_sec"`
	MaxTimeoutSec         int               `mapstructure:"max_timeout_sec"`
	WebServiceTimeoutSec  int               `mapstructure:"web_service_timeout_sec"`
	StartupPingTimeoutSec int               `mapstructure:"startup_ping_timeout_sec"`
	TeardownTimeoutSec    int               `mapstructure:"teardown_timeout_sec"`
	BaseImage             string            `mapstructure:"base_image"`
	SystemPackages        []string          `mapstructure:"system_packages"`
	RunnerUser            string            `mapstructure:"runner_user"`
	RunnerUID             int               `mapstructure:"runner_uid"`
	ImagePrefix           string            `mapstructure:"image_prefix"`
	PidsLimit             int64             `mapstructure:"pids_limit"`
	MemoryTiers           MemoryTiersConfig `mapstructure:"memory_tiers"`
}

// MemoryTiersConfig holds the container memory ceilings in MiB
type MemoryTiersConfig struct {
	LightMB    int `mapstructure:"light_mb"`
	StandardMB int `mapstructure:"standard_mb"`
	HeavyMB    int `mapstructure:"heavy_mb"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Supported sandbox backends
const (
	BackendDocker    = "docker"
	BackendDockerCLI = "docker-cli"
	BackendPodman    = "podman"
)

// New loads and validates the application configuration
func New() (*Config, error) {
	return Load(".", "./config")
}

// Load reads config.yaml from the given search paths, falling back to defaults
// when no file is present. EXECBOX_* environment variables override file values.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("EXECBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.rate_limit_rps", 0)
	v.SetDefault("server.rate_limit_burst", 5)

	v.SetDefault("sandbox.backend", BackendDocker)
	v.SetDefault("sandbox.default_timeout_sec", 30)
	v.SetDefault("sandbox.max_timeout_sec", 60)
	v.SetDefault("sandbox.web_service_timeout_sec", 60)
	v.SetDefault("sandbox.startup_ping_timeout_sec", 5)
	v.SetDefault("sandbox.teardown_timeout_sec", 30)
	v.SetDefault("sandbox.base_image", "python:3.11-slim")
	v.SetDefault("sandbox.system_packages", []string{"gcc", "g++", "gfortran", "libopenblas-dev", "liblapack-dev"})
	v.SetDefault("sandbox.runner_user", "runner")
	v.SetDefault("sandbox.runner_uid", 1000)
	v.SetDefault("sandbox.image_prefix", "pylingo-exec")
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.memory_tiers.light_mb", 128)
	v.SetDefault("sandbox.memory_tiers.standard_mb", 512)
	v.SetDefault("sandbox.memory_tiers.heavy_mb", 2048)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must not be negative, got: %v", c.Server.RateLimitRPS)
	}

	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server.rate_limit_burst must be positive when rate limiting is enabled, got: %d", c.Server.RateLimitBurst)
	}

	switch c.Sandbox.Backend {
	case BackendDocker, BackendDockerCLI, BackendPodman:
	default:
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.default_timeout_sec must be positive, got: %d", c.Sandbox.DefaultTimeoutSec)
	}

	if c.Sandbox.MaxTimeoutSec < c.Sandbox.DefaultTimeoutSec {
		return fmt.Errorf("sandbox.max_timeout_sec must be at least sandbox.default_timeout_sec, got: %d", c.Sandbox.MaxTimeoutSec)
	}

	if c.Sandbox.WebServiceTimeoutSec <= 0 || c.Sandbox.WebServiceTimeoutSec > c.Sandbox.MaxTimeoutSec {
		return fmt.Errorf("sandbox.web_service_timeout_sec must be between 1 and sandbox.max_timeout_sec, got: %d", c.Sandbox.WebServiceTimeoutSec)
	}

	if c.Sandbox.StartupPingTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.startup_ping_timeout_sec must be positive, got: %d", c.Sandbox.StartupPingTimeoutSec)
	}

	if c.Sandbox.TeardownTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.teardown_timeout_sec must be positive, got: %d", c.Sandbox.TeardownTimeoutSec)
	}

	if strings.TrimSpace(c.Sandbox.BaseImage) == "" {
		return fmt.Errorf("sandbox.base_image must not be empty")
	}

	if strings.TrimSpace(c.Sandbox.RunnerUser) == "" || c.Sandbox.RunnerUser == "root" {
		return fmt.Errorf("sandbox.runner_user must name a non-root account, got: %q", c.Sandbox.RunnerUser)
	}

	if c.Sandbox.RunnerUID <= 0 {
		return fmt.Errorf("sandbox.runner_uid must be positive, got: %d", c.Sandbox.RunnerUID)
	}

	if strings.TrimSpace(c.Sandbox.ImagePrefix) == "" || strings.ToLower(c.Sandbox.ImagePrefix) != c.Sandbox.ImagePrefix {
		return fmt.Errorf("sandbox.image_prefix must be a non-empty lowercase name, got: %q", c.Sandbox.ImagePrefix)
	}

	tiers := c.Sandbox.MemoryTiers
	if tiers.LightMB <= 0 || tiers.StandardMB < tiers.LightMB || tiers.HeavyMB < tiers.StandardMB {
		return fmt.Errorf("sandbox.memory_tiers must be positive and ordered light <= standard <= heavy, got: %d/%d/%d",
			tiers.LightMB, tiers.StandardMB, tiers.HeavyMB)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// DefaultTimeout returns the default script timeout as a duration
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Sandbox.DefaultTimeoutSec) * time.Second
}

// StartupPingTimeout returns the engine liveness ping timeout as a duration
func (c *Config) StartupPingTimeout() time.Duration {
	return time.Duration(c.Sandbox.StartupPingTimeoutSec) * time.Second
}
