package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the server configuration. Values come from the YAML file
// first, then environment variables, then command-line flags.
type Config struct {
	Port     int    `yaml:"port" env:"TOKEN_WEB_PORT"`
	DBPath   string `yaml:"db_path" env:"TOKEN_WEB_DB"`
	LogPath  string `yaml:"log_path" env:"TOKEN_WEB_LOG"`
	LogLevel string `yaml:"log_level" env:"TOKEN_WEB_LOG_LEVEL"`

	// SessionTTLHours bounds how long suspended sessions are kept.
	SessionTTLHours int `yaml:"session_ttl_hours" env:"TOKEN_WEB_SESSION_TTL_HOURS"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		DBPath:          "./token-web.db",
		LogLevel:        "info",
		SessionTTLHours: 24,
	}
}

// LoadConfig reads the optional YAML file and applies environment
// overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}
