package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tradeterm/tradesocket"
)

// newLogger builds a console logger on stderr so stdout stays clean for
// message output.
func newLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		zapLevel = zap.DebugLevel
	case "WARN":
		zapLevel = zap.WarnLevel
	case "ERROR":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		zapLevel,
	)
	return zap.New(core)
}

// storeOptions translates the config into channel options.
func storeOptions(cfg *Config, logger *zap.Logger) ([]tradesocket.Option, error) {
	opts := []tradesocket.Option{tradesocket.WithLogger(logger)}
	if cfg.Auth.Token != "" {
		opts = append(opts, tradesocket.WithTokenSource(tradesocket.StaticToken(cfg.Auth.Token)))
	}

	hb := cfg.Heartbeat
	if hb.PingInterval != "" || hb.PongTimeout != "" {
		interval, timeout := tradesocket.DefaultPingInterval, tradesocket.DefaultPongTimeout
		var err error
		if hb.PingInterval != "" {
			if interval, err = time.ParseDuration(hb.PingInterval); err != nil {
				return nil, fmt.Errorf("heartbeat.ping_interval: %w", err)
			}
		}
		if hb.PongTimeout != "" {
			if timeout, err = time.ParseDuration(hb.PongTimeout); err != nil {
				return nil, fmt.Errorf("heartbeat.pong_timeout: %w", err)
			}
		}
		opts = append(opts, tradesocket.WithHeartbeat(interval, timeout))
	}
	if hb.QueueSize > 0 {
		opts = append(opts, tradesocket.WithQueueSize(hb.QueueSize))
	}
	return opts, nil
}

// openStore loads the config and returns a Store for its endpoint along with
// the logger. Callers own both.
func openStore() (*tradesocket.Store, *Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Default.URL == "" {
		return nil, nil, nil, errors.New("no endpoint configured. Run 'tradesocket init <url>' first")
	}

	logger := newLogger(cfg.Default.LogLevel)
	opts, err := storeOptions(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	s := tradesocket.NewStore(cfg.Default.URL, opts...)
	if cfg.Auth.UserID != "" {
		s.SetUserID(cfg.Auth.UserID)
	}
	return s, cfg, logger, nil
}

// wantState is the state commands wait for before sending: authenticated when
// credentials are configured, connected otherwise.
func wantState(cfg *Config) tradesocket.FacadeState {
	if cfg.Auth.UserID != "" && cfg.Auth.Token != "" {
		return tradesocket.FacadeAuthenticated
	}
	return tradesocket.FacadeConnected
}

// waitForState polls s until it reaches want or ctx ends.
func waitForState(ctx context.Context, s *tradesocket.Store, want tradesocket.FacadeState) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.State() == want {
			return nil
		}
		select {
		case <-ctx.Done():
			st := s.Status()
			if st.Error != "" {
				return fmt.Errorf("not %s: %s", want, st.Error)
			}
			return fmt.Errorf("not %s: %w", want, ctx.Err())
		case <-ticker.C:
		}
	}
}

// maskKey shows the first 4 and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
