package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Observer  ObserverConfig
	Sanitizer SanitizerConfig
}

type ServerConfig struct {
	Port  int
	Token string // bearer token for the read API; empty disables auth
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type ObserverConfig struct {
	Project          string
	MaxContentLength int
}

type SanitizerConfig struct {
	NamePattern string // empty selects the built-in heuristic
	DetectNames bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Observer: ObserverConfig{
			Project:          "AI Agent Observability",
			MaxContentLength: 500,
		},
		Sanitizer: SanitizerConfig{
			DetectNames: true,
		},
	}
}

// Load reads configuration from the JSON file backend and environment
// variables.
//
// The file lives at $XDG_CONFIG_HOME/aiobs/config.json (falling back to
// ~/.config/aiobs/config.json). Environment variables (AIOBS_*) override file
// values. Secrets such as the API token are read from the environment only.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Storage.DataDir == "" {
		return errors.New("invalid config: storage.data_dir is empty")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Observer.MaxContentLength <= 0 {
		return fmt.Errorf("invalid config: observer.max_content_length must be positive, got %d", c.Observer.MaxContentLength)
	}
	if c.Sanitizer.NamePattern != "" {
		if _, err := regexp.Compile(c.Sanitizer.NamePattern); err != nil {
			return fmt.Errorf("invalid config: sanitizer.name_pattern: %w", err)
		}
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", l.Level)
}
