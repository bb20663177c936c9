package tradesocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ============================================================================
// Connection state
// ============================================================================

// State is the connection lifecycle state of a Client.
type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateOpen           State = "open"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateClosing        State = "closing"
	StateReconnecting   State = "reconnecting"
	StateClosed         State = "closed"
)

// IsOpen reports whether the transport is usable in this state.
func (s State) IsOpen() bool {
	switch s {
	case StateOpen, StateAuthenticating, StateAuthenticated:
		return true
	}
	return false
}

// StateChange is delivered to OnStateChange hooks.
type StateChange struct {
	From State
	To   State
	Err  error
}

// ============================================================================
// Client
// ============================================================================

// Client owns one logical connection: it dials, reads, keeps the transport
// alive with a heartbeat, gates outbound traffic on authentication and
// reconnects with exponential backoff after abnormal closes.
type Client struct {
	url        string
	opts       Options
	logger     *zap.Logger
	clock      Clock
	dispatcher *Dispatcher
	gate       *authGate
	timers     *TaskGroup
	metrics    *metrics
	tracer     trace.Tracer

	hookMu sync.Mutex
	hooks  []func(StateChange)

	mu              sync.Mutex
	state           State
	transport       Transport
	heartbeat       *heartbeat
	gen             uint64
	isConnecting    bool
	dialCancel      context.CancelFunc
	shouldReconnect bool
	reconnect       reconnectState
	lastErr         error
}

// NewClient creates a Client for url. Nothing is dialed until Connect.
func NewClient(url string, opts ...Option) *Client {
	o := buildOptions(opts)
	c := &Client{
		url:        NormalizeURL(url),
		opts:       o,
		logger:     o.Logger.With(zap.String("component", "tradesocket")),
		clock:      o.Clock,
		dispatcher: NewDispatcher(o.Logger),
		timers:     NewTaskGroup(o.Clock),
		metrics:    newMetrics(o.MeterProvider),
		tracer:     o.TracerProvider.Tracer(instrumentationName),
		state:      StateIdle,
	}
	c.gate = newAuthGate(c, &c.opts, c.timers, c.metrics)
	c.gate.observe(c.dispatcher)
	return c
}

// URL returns the normalized endpoint.
func (c *Client) URL() string { return c.url }

// Dispatcher returns the inbound message registry.
func (c *Client) Dispatcher() *Dispatcher { return c.dispatcher }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent connection or authentication failure.
// It is cleared by a successful open.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ShouldReconnect reports whether abnormal closes are retried.
func (c *Client) ShouldReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldReconnect
}

// Authenticated reports whether the server confirmed the session.
func (c *Client) Authenticated() bool { return c.gate.Authenticated() }

// QueueLen returns the number of messages waiting for authentication.
func (c *Client) QueueLen() int { return c.gate.queue.Len() }

// Queued returns the waiting messages in enqueue order.
func (c *Client) Queued() []*PendingOutbound { return c.gate.queue.Snapshot() }

// HeartbeatState returns the liveness monitor snapshot for the current
// connection, or the zero value when not open.
func (c *Client) HeartbeatState() HeartbeatState {
	c.mu.Lock()
	hb := c.heartbeat
	c.mu.Unlock()
	if hb == nil {
		return HeartbeatState{}
	}
	return hb.State()
}

// OnStateChange registers a hook called after every state transition. Hooks
// run without any Client lock held. The returned func removes the hook.
func (c *Client) OnStateChange(h func(StateChange)) (remove func()) {
	c.hookMu.Lock()
	c.hooks = append(c.hooks, h)
	idx := len(c.hooks) - 1
	c.hookMu.Unlock()
	return func() {
		c.hookMu.Lock()
		if idx < len(c.hooks) {
			c.hooks[idx] = nil
		}
		c.hookMu.Unlock()
	}
}

// SetUserID sets the identity used for authentication and authenticates
// right away when the transport is open.
func (c *Client) SetUserID(id string) { c.gate.SetUserID(id) }

// UserID returns the identity set with SetUserID.
func (c *Client) UserID() string { return c.gate.UserID() }

// Send writes msg or queues it until the session is authenticated. Only
// application messages written while authenticated report write failures.
func (c *Client) Send(msg Outbound) error { return c.gate.Send(msg) }

// ============================================================================
// Connect / Disconnect / Reconnect
// ============================================================================

// Connect dials the endpoint and blocks until the transport is open or the
// attempt fails. It returns nil without dialing when an attempt is already in
// flight or the transport is open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.isConnecting || c.state.IsOpen() {
		c.mu.Unlock()
		return nil
	}
	c.isConnecting = true
	c.shouldReconnect = true
	c.gen++
	gen := c.gen
	c.reconnect.lastAttemptAt = c.clock.Now()
	dialCtx, cancel := context.WithCancel(ctx)
	c.dialCancel = cancel
	change := c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()
	c.emit(change)

	ctx, span := c.tracer.Start(ctx, "tradesocket.connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()
	c.metrics.inc(c.metrics.connectAttempts)

	t, err := c.opts.Dialer.Dial(dialCtx, c.url)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		disconnected := !c.shouldReconnect
		c.mu.Unlock()
		if t != nil {
			_ = t.Close(StatusNormalClosure, "superseded")
		}
		if disconnected {
			span.SetStatus(codes.Error, ErrClosedBeforeOpen.Error())
			return ErrClosedBeforeOpen
		}
		span.SetStatus(codes.Error, ErrConnectionCancelled.Error())
		return ErrConnectionCancelled
	}
	c.isConnecting = false
	c.dialCancel = nil

	if err != nil {
		var result error = &ConnectionError{URL: c.url, Err: err}
		if errors.Is(ctx.Err(), context.Canceled) {
			result = errors.Join(ErrConnectionCancelled, ctx.Err())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.gen++
		var change StateChange
		if c.shouldReconnect {
			change = c.setStateLocked(StateReconnecting, result)
			c.scheduleReconnectLocked()
		} else {
			change = c.setStateLocked(StateClosed, result)
		}
		c.mu.Unlock()
		c.logger.Warn("connect failed", zap.String("url", c.url), zap.Error(err))
		c.emit(change)
		return result
	}

	c.transport = t
	c.reconnect.cancelTimer()
	c.reconnect.attempts = 0
	hb := newHeartbeat(&c.opts,
		func() error { return c.writeFrame(gen, []byte(framePing)) },
		func(reason string) { c.heartbeatExpired(gen, reason) },
	)
	c.heartbeat = hb
	change = c.setStateLocked(StateOpen, nil)
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info("connected", zap.String("url", c.url))
	c.emit(change)
	hb.Start()
	go c.readLoop(gen, t, hb)
	c.gate.onOpen()
	return nil
}

// Disconnect closes the transport with a normal closure and disables
// automatic reconnection. Repeated calls are no-ops.
func (c *Client) Disconnect() {
	c.disconnect("client disconnect", nil)
}

func (c *Client) disconnect(reason string, cause error) {
	c.mu.Lock()
	if c.state == StateClosed && !c.shouldReconnect && c.transport == nil && !c.isConnecting {
		c.mu.Unlock()
		return
	}
	c.shouldReconnect = false
	c.reconnect.cancelTimer()
	c.reconnect.attempts = 0
	t := c.detachLocked()
	change := c.setStateLocked(StateClosed, cause)
	c.mu.Unlock()

	c.timers.CancelAll()
	c.gate.reset()
	if t != nil {
		if err := t.Close(StatusNormalClosure, reason); err != nil {
			c.logger.Debug("close failed", zap.Error(err))
		}
	}
	c.logger.Info("disconnected", zap.String("reason", reason))
	c.emit(change)
}

// Reconnect drops the current transport and dials again, resetting the
// attempt counter. When the previous attempt was less than the minimum
// reconnect interval ago, the dial is scheduled for the remaining wait and
// Reconnect returns nil.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.shouldReconnect = true
	c.reconnect.cancelTimer()
	c.reconnect.attempts = 0
	t := c.detachLocked()
	wait := c.reconnect.remaining(c.clock.Now(), c.opts.MinReconnectInterval)
	change := c.setStateLocked(StateReconnecting, nil)
	if wait > 0 {
		c.armReconnectLocked(wait)
	}
	c.mu.Unlock()

	if t != nil {
		_ = t.Close(StatusGoingAway, "reconnect")
	}
	c.gate.onClose()
	c.emit(change)
	if wait > 0 {
		c.logger.Debug("reconnect throttled", zap.Duration("wait", wait))
		return nil
	}
	return c.Connect(ctx)
}

// detachLocked invalidates the current generation: the heartbeat stops, any
// dial in flight is cancelled and the transport is handed back to the caller
// to close outside the lock.
func (c *Client) detachLocked() Transport {
	c.gen++
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.isConnecting = false
	t := c.transport
	c.transport = nil
	return t
}

// ============================================================================
// Reconnection
// ============================================================================

// scheduleReconnectLocked arms the backoff timer for the next attempt. It is
// a no-op while a timer is already pending.
func (c *Client) scheduleReconnectLocked() {
	if c.reconnect.timer != nil {
		return
	}
	c.reconnect.attempts++
	delay := backoffDelay(c.reconnect.attempts, c.opts.InitialReconnectDelay, c.opts.MaxReconnectInterval)
	c.metrics.inc(c.metrics.reconnects)
	c.logger.Info("reconnect scheduled",
		zap.Int("attempt", c.reconnect.attempts),
		zap.Duration("delay", delay),
	)
	c.armReconnectLocked(delay)
}

func (c *Client) armReconnectLocked(d time.Duration) {
	c.reconnect.timer = c.timers.After(d, c.fireReconnect)
}

func (c *Client) fireReconnect() {
	c.mu.Lock()
	c.reconnect.timer = nil
	if !c.shouldReconnect || c.isConnecting || c.state.IsOpen() {
		c.mu.Unlock()
		return
	}
	if wait := c.reconnect.remaining(c.clock.Now(), c.opts.MinReconnectInterval); wait > 0 {
		c.armReconnectLocked(wait)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		c.logger.Debug("reconnect attempt failed", zap.Error(err))
	}
}

// requestReconnect starts the backoff when the client is down but was not
// intentionally disconnected.
func (c *Client) requestReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.shouldReconnect || c.isConnecting || c.state.IsOpen() || c.reconnect.timer != nil {
		return
	}
	c.scheduleReconnectLocked()
}

func (c *Client) heartbeatExpired(gen uint64, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	closing := c.setStateLocked(StateClosing, nil)
	t := c.detachLocked()
	err := &CloseError{Code: StatusHeartbeatTimeout, Reason: reason}
	var change StateChange
	if c.shouldReconnect {
		change = c.setStateLocked(StateReconnecting, err)
		c.scheduleReconnectLocked()
	} else {
		change = c.setStateLocked(StateClosed, err)
	}
	c.mu.Unlock()

	c.metrics.inc(c.metrics.heartbeatTimeouts)
	if t != nil {
		_ = t.Close(StatusHeartbeatTimeout, "heartbeat timeout")
	}
	c.gate.onClose()
	c.emit(closing)
	c.emit(change)
}

// ============================================================================
// Read loop
// ============================================================================

func (c *Client) readLoop(gen uint64, t Transport, hb *heartbeat) {
	for {
		data, err := t.Read(context.Background())
		if err != nil {
			c.handleClose(gen, err)
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			c.metrics.inc(c.metrics.parseErrors)
			c.logger.Debug("dropping frame", zap.Error(err))
			continue
		}
		c.metrics.frame(msg.Type())

		switch m := msg.(type) {
		case *Pong:
			hb.Pong()
			if m.Bare {
				continue
			}
		case *Ping:
			if err := c.writeFrame(gen, []byte(framePong)); err != nil {
				c.logger.Debug("pong reply failed", zap.Error(err))
			}
			continue
		}

		c.dispatcher.Dispatch(msg)

		if st, ok := msg.(*SessionTerminated); ok {
			c.logger.Warn("session terminated by server", zap.String("message", st.Text))
			c.mu.Lock()
			current := gen == c.gen
			c.mu.Unlock()
			if current {
				c.disconnect("session terminated", errors.New("session terminated: "+st.Text))
			}
			return
		}
	}
}

func (c *Client) handleClose(gen uint64, err error) {
	code := closeCode(err)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	closing := c.setStateLocked(StateClosing, nil)
	c.detachLocked()
	var change StateChange
	if code != StatusNormalClosure && c.shouldReconnect {
		change = c.setStateLocked(StateReconnecting, &ConnectionError{URL: c.url, Err: err})
		c.scheduleReconnectLocked()
	} else {
		change = c.setStateLocked(StateClosed, nil)
	}
	c.mu.Unlock()

	c.logger.Info("connection closed", zap.Int("code", code), zap.Error(err))
	c.gate.onClose()
	c.emit(closing)
	c.emit(change)
}

// ============================================================================
// Writes
// ============================================================================

func (c *Client) currentTransport(gen uint64) (Transport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil || (gen != 0 && gen != c.gen) {
		return nil, false
	}
	return c.transport, true
}

func (c *Client) writeFrame(gen uint64, data []byte) error {
	t, ok := c.currentTransport(gen)
	if !ok {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	return t.Write(ctx, data)
}

// ============================================================================
// link (auth gate callbacks)
// ============================================================================

func (c *Client) isOpen() bool { return c.State().IsOpen() }

func (c *Client) writeMessage(msg Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.writeFrame(0, data); err != nil {
		return err
	}
	c.metrics.sent(msg.Type)
	return nil
}

func (c *Client) authChanged(state State, err error) {
	c.mu.Lock()
	if !c.state.IsOpen() {
		c.mu.Unlock()
		return
	}
	change := c.setStateLocked(state, err)
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()
	c.emit(change)
}

// ============================================================================
// State bookkeeping
// ============================================================================

// setStateLocked moves to next and records err as the last error when set.
func (c *Client) setStateLocked(next State, err error) StateChange {
	change := StateChange{From: c.state, To: next, Err: err}
	c.state = next
	if err != nil {
		c.lastErr = err
	}
	return change
}

func (c *Client) emit(change StateChange) {
	if change.From == change.To && change.Err == nil {
		return
	}
	c.logger.Debug("state change",
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
	)
	c.hookMu.Lock()
	hooks := append([]func(StateChange){}, c.hooks...)
	c.hookMu.Unlock()
	for _, h := range hooks {
		if h != nil {
			h(change)
		}
	}
}
