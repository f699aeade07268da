// Package config loads the uemcp configuration: built-in defaults, then an
// optional YAML file, then environment variables. Later sources win.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Host string `yaml:"host" env:"UEMCP_HOST"`
	Port int    `yaml:"port" env:"UEMCP_PORT"`

	CommandTimeout time.Duration `yaml:"command_timeout" env:"UEMCP_COMMAND_TIMEOUT"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout" env:"UEMCP_PROBE_TIMEOUT"`

	MaxRetries      int           `yaml:"max_retries" env:"UEMCP_MAX_RETRIES"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" env:"UEMCP_RETRY_BACKOFF"`
	RetryMaxBackoff time.Duration `yaml:"retry_max_backoff" env:"UEMCP_RETRY_MAX_BACKOFF"`

	BreakerThreshold int           `yaml:"breaker_threshold" env:"UEMCP_BREAKER_THRESHOLD"`
	BreakerReset     time.Duration `yaml:"breaker_reset" env:"UEMCP_BREAKER_RESET"`

	MonitorInterval time.Duration `yaml:"monitor_interval" env:"UEMCP_MONITOR_INTERVAL"`

	RestartWait         time.Duration `yaml:"restart_wait" env:"UEMCP_RESTART_WAIT"`
	RestartReadyTimeout time.Duration `yaml:"restart_ready_timeout" env:"UEMCP_RESTART_READY_TIMEOUT"`
	RestartCommand      string        `yaml:"restart_command" env:"UEMCP_RESTART_COMMAND"`

	// Executor selects the editor route: remote, mock or noop.
	Executor string `yaml:"executor" env:"UEMCP_EXECUTOR"`
	DBPath   string `yaml:"db" env:"UEMCP_DB"`

	// CheckpointPolicy is what a checkpoint restore does to the undo
	// history: clear or keep.
	CheckpointPolicy string `yaml:"checkpoint_policy" env:"UEMCP_CHECKPOINT_POLICY"`
	HistoryMax       int    `yaml:"history_max" env:"UEMCP_HISTORY_MAX"`
	AuditRetention   int    `yaml:"audit_retention_days" env:"UEMCP_AUDIT_RETENTION_DAYS"`

	MCPTransport string `yaml:"mcp_transport" env:"UEMCP_MCP_TRANSPORT"`
	HTTPAddr     string `yaml:"http_addr" env:"UEMCP_HTTP_ADDR"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

func defaults() Config {
	return Config{
		Host:                "localhost",
		Port:                8765,
		CommandTimeout:      30 * time.Second,
		ProbeTimeout:        3 * time.Second,
		MaxRetries:          3,
		RetryBackoff:        250 * time.Millisecond,
		RetryMaxBackoff:     4 * time.Second,
		BreakerThreshold:    5,
		BreakerReset:        15 * time.Second,
		MonitorInterval:     5 * time.Second,
		RestartWait:         2 * time.Second,
		RestartReadyTimeout: 30 * time.Second,
		Executor:            "remote",
		DBPath:              "data/uemcp.db",
		CheckpointPolicy:    "clear",
		AuditRetention:      30,
		MCPTransport:        "stdio",
		HTTPAddr:            ":8766",
		LogLevel:            "info",
	}
}

// Default returns the built-in configuration.
func Default() Config { return defaults() }

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty or the file does not exist) and the environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the rest of the program cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, errors.New("command_timeout must be positive"))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("probe_timeout must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	switch c.Executor {
	case "remote", "mock", "noop":
	default:
		errs = append(errs, fmt.Errorf("executor %q: want remote, mock or noop", c.Executor))
	}
	switch c.CheckpointPolicy {
	case "clear", "keep":
	default:
		errs = append(errs, fmt.Errorf("checkpoint_policy %q: want clear or keep", c.CheckpointPolicy))
	}
	switch c.MCPTransport {
	case "stdio", "http":
	default:
		errs = append(errs, fmt.Errorf("mcp_transport %q: want stdio or http", c.MCPTransport))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Endpoint is the listener base URL.
func (c *Config) Endpoint() string {
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + "/"
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level %q: want debug, info, warn or error", c.LogLevel)
}
