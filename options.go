package tradesocket

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Defaults for Options.
const (
	DefaultPingInterval          = 30 * time.Second
	DefaultPongTimeout           = 15 * time.Second
	DefaultHeartbeatDelay        = 1 * time.Second
	DefaultWatchdogInterval      = 5 * time.Second
	DefaultMaxPongSilence        = 45 * time.Second
	DefaultInitialReconnectDelay = 1 * time.Second
	DefaultMinReconnectInterval  = 2 * time.Second
	DefaultMaxReconnectInterval  = 30 * time.Second
	DefaultAuthRetryDelay        = 5 * time.Second
	DefaultWriteTimeout          = 10 * time.Second
	DefaultDialTimeout           = 15 * time.Second
)

// DefaultAuthErrorMarkers are matched case-insensitively against the text of
// "error" messages to detect authentication and session failures.
var DefaultAuthErrorMarkers = []string{
	"auth",
	"unauthorized",
	"token",
	"session",
	"авториз",
	"токен",
	"сесси",
}

// TokenSource supplies the bearer token sent with "auth".
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Options configures a Client. The zero value is completed by defaults().
type Options struct {
	PingInterval     time.Duration
	PongTimeout      time.Duration
	HeartbeatDelay   time.Duration
	WatchdogInterval time.Duration
	MaxPongSilence   time.Duration

	InitialReconnectDelay time.Duration
	MinReconnectInterval  time.Duration
	MaxReconnectInterval  time.Duration

	MaxQueueSize     int
	AuthRetryDelay   time.Duration
	AuthErrorMarkers []string

	WriteTimeout time.Duration
	DialTimeout  time.Duration

	Tokens         TokenSource
	Dialer         Dialer
	Clock          Clock
	Logger         *zap.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

func (o *Options) defaults() {
	if o.PingInterval == 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PongTimeout == 0 {
		o.PongTimeout = DefaultPongTimeout
	}
	if o.HeartbeatDelay == 0 {
		o.HeartbeatDelay = DefaultHeartbeatDelay
	}
	if o.WatchdogInterval == 0 {
		o.WatchdogInterval = DefaultWatchdogInterval
	}
	if o.MaxPongSilence == 0 {
		o.MaxPongSilence = DefaultMaxPongSilence
	}
	if o.InitialReconnectDelay == 0 {
		o.InitialReconnectDelay = DefaultInitialReconnectDelay
	}
	if o.MinReconnectInterval == 0 {
		o.MinReconnectInterval = DefaultMinReconnectInterval
	}
	if o.MaxReconnectInterval == 0 {
		o.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	if o.MaxQueueSize == 0 {
		o.MaxQueueSize = DefaultQueueSize
	}
	if o.AuthRetryDelay == 0 {
		o.AuthRetryDelay = DefaultAuthRetryDelay
	}
	if o.AuthErrorMarkers == nil {
		o.AuthErrorMarkers = DefaultAuthErrorMarkers
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Dialer == nil {
		o.Dialer = &WebSocketDialer{}
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MeterProvider == nil {
		o.MeterProvider = otel.GetMeterProvider()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
}

// Option customizes Options.
type Option func(*Options)

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithTokenSource(ts TokenSource) Option {
	return func(o *Options) { o.Tokens = ts }
}

func WithDialer(d Dialer) Option {
	return func(o *Options) { o.Dialer = d }
}

func WithClock(c Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithHeartbeat sets the probe interval and the per-probe reply deadline.
func WithHeartbeat(interval, pongTimeout time.Duration) Option {
	return func(o *Options) {
		o.PingInterval = interval
		o.PongTimeout = pongTimeout
	}
}

// WithWatchdog sets how often the silence watchdog runs and the longest
// tolerated gap between replies.
func WithWatchdog(every, maxSilence time.Duration) Option {
	return func(o *Options) {
		o.WatchdogInterval = every
		o.MaxPongSilence = maxSilence
	}
}

// WithReconnectBackoff sets the backoff base, the minimum gap between
// attempts and the backoff ceiling.
func WithReconnectBackoff(initial, minInterval, maxInterval time.Duration) Option {
	return func(o *Options) {
		o.InitialReconnectDelay = initial
		o.MinReconnectInterval = minInterval
		o.MaxReconnectInterval = maxInterval
	}
}

func WithQueueSize(n int) Option {
	return func(o *Options) { o.MaxQueueSize = n }
}

func WithAuthRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.AuthRetryDelay = d }
}

func WithAuthErrorMarkers(markers ...string) Option {
	return func(o *Options) { o.AuthErrorMarkers = markers }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Options) { o.MeterProvider = mp }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) { o.TracerProvider = tp }
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	o.defaults()
	return o
}
