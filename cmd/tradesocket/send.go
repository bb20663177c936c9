package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tradeterm/tradesocket"
)

var sendTimeout time.Duration

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "how long to wait for the session")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <type> [json-payload]",
	Short: "Send one message",
	Long:  "Open the channel, wait for the session and send one message.\nThe payload is a JSON object whose fields are sent next to \"type\".\nExample: tradesocket send place_trade '{\"symbol\":\"BTC\",\"qty\":1}'",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := parseOutbound(args)
		if err != nil {
			return err
		}

		s, cfg, logger, err := openStore()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		defer s.Disconnect()

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()
		s.Initialize(ctx, "")
		if err := waitForState(ctx, s, wantState(cfg)); err != nil {
			return err
		}

		if err := s.SendMessage(msg); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		if c := s.Client(); c != nil && c.QueueLen() > 0 {
			fmt.Printf("Queued %s (session not authenticated)\n", msg.Type)
			return nil
		}
		fmt.Printf("Sent %s\n", msg.Type)
		return nil
	},
}

func parseOutbound(args []string) (tradesocket.Outbound, error) {
	var payload map[string]any
	if len(args) == 2 && args[1] != "" {
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return tradesocket.Outbound{}, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	return tradesocket.NewMessage(args[0], payload), nil
}
