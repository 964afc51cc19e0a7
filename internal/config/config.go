// Package config loads dictapad settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceDaemon = "daemon"
	SourceNATS   = "nats"
	SourceNone   = "none"
)

// SourceConfig selects the recognizer and how to reach it.
type SourceConfig struct {
	Kind           string   `yaml:"kind"`
	Socket         string   `yaml:"socket"`
	Locale         string   `yaml:"locale"`
	Device         string   `yaml:"device"`
	NATSServers    []string `yaml:"nats_servers"`
	NATSSession    string   `yaml:"nats_session"`
	NATSUsername   string   `yaml:"nats_username"`
	NATSPassword   string   `yaml:"nats_password"`
	NATSToken      string   `yaml:"nats_token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// ArchiveConfig locates the recognizer's SQLite recording archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig sets the slog level and the log file used in TUI mode.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig enables the Prometheus endpoint when PrometheusBind is set.
type MetricsConfig struct {
	PrometheusBind string `yaml:"prometheus_bind"`
}

// MCPConfig names the server reported to MCP clients.
type MCPConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Config is the complete dictapad configuration.
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
	MCP     MCPConfig     `yaml:"mcp"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Default returns the built-in settings. An empty socket or archive path
// means the recognizer's standard location.
func Default() Config {
	return Config{
		Source: SourceConfig{
			Kind:           SourceDaemon,
			Locale:         "en_US",
			NATSServers:    []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Archive: ArchiveConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "info",
			File:  "dictapad.log",
		},
		MCP: MCPConfig{
			Name:    "dictapad",
			Version: "0.1.0",
		},
	}
}

// Load reads path over the defaults, applies DICTAPAD_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.Source.Socket = expandHome(cfg.Source.Socket)
	cfg.Archive.Path = expandHome(cfg.Archive.Path)
	cfg.Log.File = expandHome(cfg.Log.File)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SlogLevel maps the configured level name onto slog.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Source.Kind, "DICTAPAD_SOURCE_KIND")
	overrideString(&cfg.Source.Socket, "DICTAPAD_SOURCE_SOCKET")
	overrideString(&cfg.Source.Locale, "DICTAPAD_SOURCE_LOCALE")
	overrideString(&cfg.Source.Device, "DICTAPAD_SOURCE_DEVICE")
	overrideStringSlice(&cfg.Source.NATSServers, "DICTAPAD_SOURCE_NATS_SERVERS")
	overrideString(&cfg.Source.NATSSession, "DICTAPAD_SOURCE_NATS_SESSION")
	overrideString(&cfg.Source.NATSUsername, "DICTAPAD_SOURCE_NATS_USERNAME")
	overrideString(&cfg.Source.NATSPassword, "DICTAPAD_SOURCE_NATS_PASSWORD")
	overrideString(&cfg.Source.NATSToken, "DICTAPAD_SOURCE_NATS_TOKEN")
	overrideInt(&cfg.Source.ConnectTimeout, "DICTAPAD_SOURCE_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Archive.Enabled, "DICTAPAD_ARCHIVE_ENABLED")
	overrideString(&cfg.Archive.Path, "DICTAPAD_ARCHIVE_PATH")
	overrideString(&cfg.Log.Level, "DICTAPAD_LOG_LEVEL")
	overrideString(&cfg.Log.File, "DICTAPAD_LOG_FILE")
	overrideString(&cfg.MCP.Name, "DICTAPAD_MCP_NAME")
	overrideString(&cfg.MCP.Version, "DICTAPAD_MCP_VERSION")
	overrideString(&cfg.Metrics.PrometheusBind, "DICTAPAD_METRICS_PROMETHEUS_BIND")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func validate(cfg Config) error {
	switch cfg.Source.Kind {
	case SourceDaemon, SourceNone:
	case SourceNATS:
		if len(cfg.Source.NATSServers) == 0 {
			return errors.New("source.nats_servers must not be empty when kind=nats")
		}
	default:
		return errors.New("source.kind must be one of daemon|nats|none")
	}
	if cfg.Source.ConnectTimeout <= 0 {
		return errors.New("source.connect_timeout_ms must be positive")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.New("log.level must be one of debug|info|warn|error")
	}
	if cfg.MCP.Name == "" {
		return errors.New("mcp.name must not be empty")
	}
	return nil
}
