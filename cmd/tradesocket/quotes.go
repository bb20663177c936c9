package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tradeterm/tradesocket"
)

var quoteTypes []string

func init() {
	quotesCmd.Flags().StringSliceVar(&quoteTypes, "type", []string{tradesocket.Wildcard}, "inbound message types to print")
	rootCmd.AddCommand(quotesCmd)
}

var quotesCmd = &cobra.Command{
	Use:   "quotes <id> <timeframe>",
	Short: "Subscribe to quotes and stream them until interrupted",
	Long:  "Send subscribe-custom-quotes for the instrument and timeframe, print inbound messages and unsubscribe on exit.\nExample: tradesocket quotes BTCUSDT 1m",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, timeframe := args[0], args[1]

		s, _, logger, err := openStore()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		defer s.Disconnect()

		for _, t := range quoteTypes {
			unregister := s.OnMessage(t, printMessage)
			defer unregister()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s.Initialize(ctx, "")
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = waitForState(waitCtx, s, tradesocket.FacadeConnected)
		cancel()
		if err != nil && s.State() != tradesocket.FacadeAuthenticated {
			logger.Warn("subscribing before the channel is up", zap.Error(err))
		}

		if err := s.SendMessage(tradesocket.SubscribeQuotes(id, timeframe)); err != nil {
			return fmt.Errorf("subscribe failed: %w", err)
		}
		logger.Info("subscribed", zap.String("id", id), zap.String("timeframe", timeframe))

		<-ctx.Done()
		if err := s.SendMessage(tradesocket.UnsubscribeQuotes(id, timeframe)); err != nil {
			logger.Debug("unsubscribe failed", zap.Error(err))
		}
		return nil
	},
}
