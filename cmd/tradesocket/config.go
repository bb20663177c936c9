package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tradeterm/tradesocket"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage tradesocket configuration",
	Long:  "View or modify the tradesocket CLI configuration stored in ~/.tradesocket/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective channel settings",
	Long:  "Print the endpoint, identity, heartbeat and queue settings the CLI will use.\nUnset values show the library default.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println("No configuration file found. Run 'tradesocket init <url>' to create one.")
			return nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Printf("Config:  %s\n", path)
		for _, row := range effectiveSettings(cfg) {
			fmt.Printf("%-20s %s\n", row[0], row[1])
		}
		return nil
	},
}

// effectiveSettings renders cfg as key/value rows with defaults filled in.
func effectiveSettings(cfg *Config) [][2]string {
	token := "(none)"
	if cfg.Auth.Token != "" {
		token = maskKey(cfg.Auth.Token)
	}
	queue := fmt.Sprintf("%d (default)", tradesocket.DefaultQueueSize)
	if cfg.Heartbeat.QueueSize > 0 {
		queue = strconv.Itoa(cfg.Heartbeat.QueueSize)
	}
	return [][2]string{
		{"default.url", valueOrDefault(cfg.Default.URL, "(none)")},
		{"default.log_level", valueOrDefault(cfg.Default.LogLevel, "info (default)")},
		{"auth.user_id", valueOrDefault(cfg.Auth.UserID, "(none)")},
		{"auth.token", token},
		{"heartbeat.ping_interval", valueOrDefault(cfg.Heartbeat.PingInterval, tradesocket.DefaultPingInterval.String()+" (default)")},
		{"heartbeat.pong_timeout", valueOrDefault(cfg.Heartbeat.PongTimeout, tradesocket.DefaultPongTimeout.String()+" (default)")},
		{"heartbeat.queue_size", queue},
	}
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: tradesocket config set auth.user_id 42",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		if key == "auth.token" {
			value = maskKey(value)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
