// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the bot reads.
const EnvPrefix = "MATRIX_BOT_"

// ConfigEnvVar names the config file when --config is not given.
const ConfigEnvVar = EnvPrefix + "CONFIG"

// Config is the complete bot configuration.
type Config struct {
	Matrix MatrixConfig `yaml:"matrix" envPrefix:"MATRIX_"`
	Sync   SyncConfig   `yaml:"sync" envPrefix:"SYNC_"`
	Log    LogConfig    `yaml:"log" envPrefix:"LOG_"`
	Bot    BotConfig    `yaml:"bot" envPrefix:"BOT_"`
}

// MatrixConfig identifies the account and where its state lives.
type MatrixConfig struct {
	// Homeserver overrides .well-known discovery and the URL stored
	// in session.json.
	Homeserver string `yaml:"homeserver" env:"HOMESERVER"`

	// Username is the full Matrix user ID, "@localpart:server".
	Username string `yaml:"username" env:"USERNAME"`

	// PasswordFile holds the account password. "-" reads stdin. Empty
	// prompts on the terminal.
	PasswordFile string `yaml:"password_file" env:"PASSWORD_FILE"`

	// DeviceName is the display name given to a newly created device.
	DeviceName string `yaml:"device_name" env:"DEVICE_NAME"`

	// StorageDir holds session.json and the local state store.
	StorageDir string `yaml:"storage_dir" env:"STORAGE_DIR"`

	// ResumeFallback allows a password login when the stored access
	// token is rejected.
	ResumeFallback bool `yaml:"resume_fallback" env:"RESUME_FALLBACK"`
}

// SyncConfig tunes the background sync loop.
type SyncConfig struct {
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxBackoff  time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	MaxFailures int           `yaml:"max_failures" env:"MAX_FAILURES"`

	// FilterFile is a JSONC sync filter. Empty sends no filter.
	FilterFile string `yaml:"filter_file" env:"FILTER_FILE"`
}

// LogConfig selects level, format, and destination.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" env:"LEVEL"`

	// Format is auto, text, or json. Auto picks text on a terminal.
	Format string `yaml:"format" env:"FORMAT"`

	// File redirects logs to a size-rotated file.
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
}

// BotConfig is the command handler's behavior.
type BotConfig struct {
	Trigger  string `yaml:"trigger" env:"TRIGGER"`
	Reply    string `yaml:"reply" env:"REPLY"`
	Markdown bool   `yaml:"markdown" env:"MARKDOWN"`

	// SendRate is messages per second across all rooms; SendBurst is
	// how many may go out back to back.
	SendRate  float64 `yaml:"send_rate" env:"SEND_RATE"`
	SendBurst int     `yaml:"send_burst" env:"SEND_BURST"`
}

// Default returns the configuration used before any file or
// environment is applied.
func Default() *Config {
	return &Config{
		Matrix: MatrixConfig{
			DeviceName: "matrix-command-bot",
			StorageDir: "${HOME}/.local/share/matrix-command-bot",
		},
		Sync: SyncConfig{
			Timeout:    30 * time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "auto",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Bot: BotConfig{
			Trigger:   "!party",
			Reply:     "🎉🎊🥳 let's PARTY!! 🥳🎊🎉",
			SendRate:  1,
			SendBurst: 3,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (or
// MATRIX_BOT_CONFIG when path is empty), and MATRIX_BOT_* variables.
// It does not validate; the caller applies flags and then calls
// Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("reading %s* environment: %w", EnvPrefix, err)
	}

	cfg.ExpandPaths()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// ExpandPaths expands ${VAR} and ${VAR:-default} in every path field.
// Load calls it; the binary calls it again after applying flags.
func (c *Config) ExpandPaths() {
	c.Matrix.StorageDir = expandVars(c.Matrix.StorageDir)
	c.Matrix.PasswordFile = expandVars(c.Matrix.PasswordFile)
	c.Sync.FilterFile = expandVars(c.Sync.FilterFile)
	c.Log.File = expandVars(c.Log.File)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Matrix.Username == "" {
		errs = append(errs, fmt.Errorf("matrix.username is required"))
	}
	if c.Matrix.StorageDir == "" {
		errs = append(errs, fmt.Errorf("matrix.storage_dir is required"))
	}
	if c.Sync.Timeout < 0 {
		errs = append(errs, fmt.Errorf("sync.timeout must not be negative"))
	}
	if c.Sync.MaxBackoff < time.Second {
		errs = append(errs, fmt.Errorf("sync.max_backoff must be at least 1s"))
	}
	if c.Sync.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("sync.max_failures must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be auto, text, or json, got %q", c.Log.Format))
	}
	if c.Bot.Trigger == "" {
		errs = append(errs, fmt.Errorf("bot.trigger is required"))
	}
	if c.Bot.Reply == "" {
		errs = append(errs, fmt.Errorf("bot.reply is required"))
	}
	if c.Bot.SendRate <= 0 || c.Bot.SendBurst < 1 {
		errs = append(errs, fmt.Errorf("bot.send_rate must be positive and bot.send_burst at least 1"))
	}
	return errors.Join(errs...)
}

// ParseLevel converts a log.level value to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level must be debug, info, warn, or error, got %q", level)
}
