package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tradeterm/tradesocket"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <url>",
	Short: "Store the server URL in ~/.tradesocket/config.toml",
	Long:  "Initialize the tradesocket CLI by storing the realtime endpoint in the local configuration file.\nhttp(s) URLs are rewritten to ws(s).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := tradesocket.NormalizeURL(args[0])

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.URL = url
		if cfg.Default.LogLevel == "" {
			cfg.Default.LogLevel = "info"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Endpoint %s saved to %s\n", url, path)
		return nil
	},
}
