package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tradeterm/tradesocket"
)

func init() {
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen [types...]",
	Short: "Print inbound messages until interrupted",
	Long:  "Open the channel and print every inbound message, or only the given types, as one JSON line each.\nThe channel reconnects on its own; press Ctrl+C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, logger, err := openStore()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		defer s.Disconnect()

		types := args
		if len(types) == 0 {
			types = []string{tradesocket.Wildcard}
		}
		for _, t := range types {
			unregister := s.OnMessage(t, printMessage)
			defer unregister()
		}
		unsubscribe := s.Subscribe(func(st tradesocket.Status) {
			logger.Info("status", zap.Bool("connected", st.IsConnected), zap.String("error", st.Error))
		})
		defer unsubscribe()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s.Initialize(ctx, "")
		<-ctx.Done()
		return nil
	},
}

func printMessage(msg tradesocket.Message) {
	fmt.Fprintln(os.Stdout, string(msg.Raw()))
}
