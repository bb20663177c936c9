package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.tradesocket/config.toml.
type Config struct {
	Default   ConfigDefault   `toml:"default"`
	Auth      ConfigAuth      `toml:"auth"`
	Heartbeat ConfigHeartbeat `toml:"heartbeat"`
}

// ConfigDefault holds the endpoint and logging settings.
type ConfigDefault struct {
	URL      string `toml:"url"`
	LogLevel string `toml:"log_level"`
}

// ConfigAuth holds the session identity.
type ConfigAuth struct {
	UserID string `toml:"user_id"`
	Token  string `toml:"token"`
}

// ConfigHeartbeat overrides channel tuning. Durations use Go syntax ("30s").
type ConfigHeartbeat struct {
	PingInterval string `toml:"ping_interval,omitempty"`
	PongTimeout  string `toml:"pong_timeout,omitempty"`
	QueueSize    int    `toml:"queue_size,omitempty"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.tradesocket, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".tradesocket")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return loadConfigFile(path)
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	return saveConfigFile(path, cfg)
}

func saveConfigFile(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "url":
			cfg.Default.URL = value
		case "log_level":
			cfg.Default.LogLevel = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "auth":
		switch field {
		case "user_id":
			cfg.Auth.UserID = value
		case "token":
			cfg.Auth.Token = value
		default:
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
	case "heartbeat":
		switch field {
		case "ping_interval", "pong_timeout":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			if field == "ping_interval" {
				cfg.Heartbeat.PingInterval = value
			} else {
				cfg.Heartbeat.PongTimeout = value
			}
		case "queue_size":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return fmt.Errorf("queue_size must be a positive integer, got %q", value)
			}
			cfg.Heartbeat.QueueSize = n
		default:
			return fmt.Errorf("unknown field %q in section [heartbeat]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, auth, heartbeat)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "tradesocket",
	Short: "Trading terminal realtime channel CLI",
	Long:  "Command-line interface for the tradesocket realtime channel.\nManage configuration, check connectivity, and stream or send messages.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
