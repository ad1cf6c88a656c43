// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it
// (dependency injection).
type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Session  SessionConfig  `mapstructure:"session"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Client   ClientConfig   `mapstructure:"client"`
}

// ServerConfig holds HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // Empty = allow all (development); set for production
	// MaxBodyBytes caps request body size. Zero falls back to 1 MiB.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file" or "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`   // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller     bool   `mapstructure:"include_caller"`
	IncludeTimestamp  bool   `mapstructure:"include_timestamp"`
	IncludeLevel      bool   `mapstructure:"include_level"`
	IncludeStackTrace string `mapstructure:"include_stack_trace"` // Level at which to include stack trace
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// DatabaseConfig holds the session archive database configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Database string `mapstructure:"database"`
}

// SessionConfig governs in-memory session retention.
type SessionConfig struct {
	// TTL is how long a terminal (completed or failed) session stays
	// available to late subscribers before eviction.
	TTL time.Duration `mapstructure:"ttl"`
	// SweepInterval is how often the store looks for expired sessions.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// PipelineConfig holds configuration for the stage producer.
type PipelineConfig struct {
	// ScriptPath optionally points to a YAML script describing the simulated
	// producer's per-stage behavior. Empty means built-in defaults.
	ScriptPath string `mapstructure:"script_path"`
	// StepInterval is the delay between simulated progress reports.
	StepInterval time.Duration `mapstructure:"step_interval"`
	// StepPercent is the progress increment per simulated report.
	StepPercent float64 `mapstructure:"step_percent"`
}

// ClientConfig holds the subscriber-side connection manager configuration.
type ClientConfig struct {
	// MaxReconnectAttempts bounds automatic reconnection. Exceeding it
	// leaves the connection Disconnected until an explicit reconnect.
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`
	// ReconnectBaseDelay is the first retry delay; subsequent retries back
	// off exponentially up to MaxReconnectDelay.
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	MaxReconnectDelay  time.Duration `mapstructure:"max_reconnect_delay"`
	// LogCapacity caps the aggregator's rolling log buffer.
	LogCapacity int `mapstructure:"log_capacity"`
}

// NewConfig creates a new AppConfig by reading from a file, environment
// variables, and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/plainlex/")
		v.AddConfigPath("$HOME/.plainlex")
	}

	v.SetEnvPrefix("PLAINLEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			MaxBodyBytes: 1 << 20,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/plainlex.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 7,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: false, // Disabled by default for TUI
				},
			},
			Levels: map[string]string{
				"session":  "INFO",
				"dispatch": "INFO",
				"runner":   "INFO",
				"api":      "INFO",
				"client":   "INFO",
				"store":    "INFO",
				"tui":      "WARN",
			},
			Context: LogContextConfig{
				IncludeCaller:     true,
				IncludeTimestamp:  true,
				IncludeLevel:      true,
				IncludeStackTrace: "ERROR",
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Database: "plainlex.db",
		},
		Session: SessionConfig{
			TTL:           30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Pipeline: PipelineConfig{
			StepInterval: 2 * time.Second,
			StepPercent:  20,
		},
		Client: ClientConfig{
			MaxReconnectAttempts: 5,
			ReconnectBaseDelay:   time.Second,
			MaxReconnectDelay:    30 * time.Second,
			LogCapacity:          200,
		},
	}
}

// GetDSN returns the database connection string.
func (dc *DatabaseConfig) GetDSN() string {
	dsn := dc.Database
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	return dsn
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 0 {
		return errors.New("server.max_body_bytes must not be negative")
	}

	validLogLevels := map[string]bool{
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Database.Driver == "" {
		return errors.New("database driver is required")
	}

	if c.Session.TTL <= 0 {
		return errors.New("session.ttl must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("session.sweep_interval must be positive")
	}

	if c.Client.MaxReconnectAttempts < 0 {
		return errors.New("client.max_reconnect_attempts must not be negative")
	}
	if c.Client.ReconnectBaseDelay <= 0 {
		return errors.New("client.reconnect_base_delay must be positive")
	}
	if c.Client.LogCapacity <= 0 {
		return errors.New("client.log_capacity must be positive")
	}

	if c.Pipeline.StepPercent <= 0 || c.Pipeline.StepPercent > 100 {
		return fmt.Errorf("pipeline.step_percent must be in (0,100], got %v", c.Pipeline.StepPercent)
	}

	return nil
}
