package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusTimeout time.Duration

func init() {
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "how long to wait for the connection")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connection status",
	Long:  "Display the current configuration, then open the channel and report whether it connects and authenticates.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  URL:       %s\n", valueOrDefault(cfg.Default.URL, "(not set)"))
		fmt.Printf("  Log level: %s\n", valueOrDefault(cfg.Default.LogLevel, "info"))
		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  User ID:   %s\n", valueOrDefault(cfg.Auth.UserID, "(not set)"))
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:     %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:     (not set)")
		}

		if cfg.Default.URL == "" {
			return nil
		}

		s, cfg, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Disconnect()

		ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
		defer cancel()
		s.Initialize(ctx, "")

		fmt.Println()
		fmt.Println("Live status:")
		want := wantState(cfg)
		if err := waitForState(ctx, s, want); err != nil {
			fmt.Printf("  State:     %s\n", s.State())
			fmt.Printf("  Error:     %v\n", err)
			return nil
		}
		fmt.Printf("  State:     %s\n", s.State())
		if c := s.Client(); c != nil {
			fmt.Printf("  Endpoint:  %s\n", c.URL())
			fmt.Printf("  Queued:    %d\n", c.QueueLen())
		}
		return nil
	},
}
