package tradesocket

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// FacadeState is the coarse state the Store exposes to application code.
type FacadeState string

const (
	FacadeIdle          FacadeState = "idle"
	FacadeInitializing  FacadeState = "initializing"
	FacadeConnected     FacadeState = "connected"
	FacadeAuthenticated FacadeState = "authenticated"
)

// Status is the observable projection of the channel.
type Status struct {
	IsConnected bool
	Error       string
}

type storedHandler struct {
	msgType string
	handler HandlerFunc
	sub     *Subscription
}

// Store coordinates one Client for the lifetime of the application. It owns
// every handler registration and replays them on whichever Client is current
// once it opens, and it buffers outbound messages made before any Client
// exists.
//
// Construct it once with NewStore, pass it to the code that needs it and call
// Disconnect on shutdown.
type Store struct {
	opts   []Option
	clock  Clock
	logger *zap.Logger

	mu        sync.Mutex
	url       string
	client    *Client
	unhook    func()
	userID    string
	handlers  []*storedHandler
	outbox    *OutboundQueue
	listeners map[uint64]func(Status)
	nextID    uint64
	last      Status
	emitted   bool
}

// NewStore creates an idle Store. url is used when Initialize is called with
// an empty url and when SendMessage starts the connection lazily.
func NewStore(url string, opts ...Option) *Store {
	o := buildOptions(opts)
	return &Store{
		opts:      opts,
		clock:     o.Clock,
		logger:    o.Logger.With(zap.String("component", "tradesocket.store")),
		url:       url,
		outbox:    NewOutboundQueue(o.MaxQueueSize),
		listeners: make(map[uint64]func(Status)),
	}
}

// Initialize connects to url, or to the Store's url when empty. Concurrent
// and repeated calls for the same url while connecting, connected or
// reconnecting are no-ops. Connection failures are not returned; they show
// up in Status and drive automatic reconnection.
func (s *Store) Initialize(ctx context.Context, url string) {
	s.mu.Lock()
	if url == "" {
		url = s.url
	}
	if url == "" {
		s.mu.Unlock()
		s.logger.Warn("initialize without url ignored")
		return
	}

	var stale *Client
	c := s.client
	if c != nil && c.URL() == NormalizeURL(url) {
		switch c.State() {
		case StateConnecting, StateReconnecting, StateOpen, StateAuthenticating, StateAuthenticated:
			s.mu.Unlock()
			return
		}
	} else {
		if c != nil {
			stale = c
			s.unhook()
			s.detachHandlersLocked()
		}
		c = NewClient(url, s.opts...)
		s.client = c
		s.unhook = c.OnStateChange(func(StateChange) { s.clientChanged(c) })
	}
	s.url = url
	userID := s.userID
	buffered := s.outbox.Drain()
	s.mu.Unlock()

	if stale != nil {
		stale.Disconnect()
	}
	if userID != "" {
		c.SetUserID(userID)
	}
	for _, p := range buffered {
		if err := c.Send(p.Message); err != nil {
			s.logger.Warn("buffered message rejected", zap.String("type", p.Message.Type), zap.Error(err))
		}
	}

	if err := c.Connect(ctx); err != nil {
		s.logger.Warn("initial connect failed", zap.String("url", url), zap.Error(err))
	}
	s.notify()
}

// clientChanged replays buffered handlers when c opens and publishes status.
func (s *Store) clientChanged(c *Client) {
	s.mu.Lock()
	if s.client != c {
		s.mu.Unlock()
		return
	}
	if c.State().IsOpen() {
		d := c.Dispatcher()
		replayed := 0
		for _, h := range s.handlers {
			if h.sub == nil {
				h.sub = d.On(h.msgType, h.handler)
				replayed++
			}
		}
		if replayed > 0 {
			s.logger.Debug("replayed handlers", zap.Int("count", replayed))
		}
	}
	s.mu.Unlock()
	s.notify()
}

// OnMessage registers h for msgType. While disconnected the registration is
// held and applied on the next successful connect. The returned func removes
// the registration wherever it currently lives.
func (s *Store) OnMessage(msgType string, h HandlerFunc) (unregister func()) {
	sh := &storedHandler{msgType: msgType, handler: h}
	s.mu.Lock()
	if s.client != nil && s.client.State().IsOpen() {
		sh.sub = s.client.Dispatcher().On(msgType, h)
	}
	s.handlers = append(s.handlers, sh)
	s.mu.Unlock()
	return func() { s.removeHandler(sh) }
}

func (s *Store) removeHandler(sh *storedHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh.sub != nil {
		sh.sub.Unsubscribe()
		sh.sub = nil
	}
	for i, p := range s.handlers {
		if p == sh {
			s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
			return
		}
	}
}

// detachHandlersLocked takes every live registration off the outgoing
// Client's dispatcher so the next Client to open picks them all up again.
func (s *Store) detachHandlersLocked() {
	for _, h := range s.handlers {
		if h.sub != nil {
			h.sub.Unsubscribe()
			h.sub = nil
		}
	}
}

// SendMessage hands msg to the Client. Without a Client the message is
// buffered and a connection is started in the background.
func (s *Store) SendMessage(msg Outbound) error {
	s.mu.Lock()
	c := s.client
	if c != nil {
		s.mu.Unlock()
		return c.Send(msg)
	}
	if evicted := s.outbox.Push(&PendingOutbound{Message: msg, EnqueuedAt: s.clock.Now()}); evicted != nil {
		s.logger.Warn("store buffer full, dropped oldest message", zap.String("type", evicted.Message.Type))
	}
	url := s.url
	s.mu.Unlock()

	if url != "" {
		go s.Initialize(context.Background(), url)
	}
	return nil
}

// SetUserID sets the identity used to authenticate, now or on next connect.
func (s *Store) SetUserID(id string) {
	s.mu.Lock()
	s.userID = id
	c := s.client
	s.mu.Unlock()
	if c != nil {
		c.SetUserID(id)
	}
}

// Client returns the current Client, or nil while idle.
func (s *Store) Client() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// State returns the facade-level state.
func (s *Store) State() FacadeState {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return FacadeIdle
	}
	switch c.State() {
	case StateAuthenticated:
		return FacadeAuthenticated
	case StateOpen, StateAuthenticating:
		return FacadeConnected
	case StateClosed, StateIdle:
		if !c.ShouldReconnect() {
			return FacadeIdle
		}
	}
	return FacadeInitializing
}

// Status returns the current projection.
func (s *Store) Status() Status {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	return statusOf(c)
}

func statusOf(c *Client) Status {
	if c == nil {
		return Status{}
	}
	st := Status{IsConnected: c.State().IsOpen()}
	if err := c.LastError(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// Subscribe registers listener for Status changes.
func (s *Store) Subscribe(listener func(Status)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// notify publishes the current Status unless it equals the last one sent.
func (s *Store) notify() {
	s.mu.Lock()
	st := statusOf(s.client)
	if s.emitted && st == s.last {
		s.mu.Unlock()
		return
	}
	s.last = st
	s.emitted = true
	listeners := make([]func(Status), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(st)
	}
}

// Disconnect closes the Client and drops handler registrations and buffered
// messages.
func (s *Store) Disconnect() {
	s.mu.Lock()
	c := s.client
	if s.unhook != nil {
		s.unhook()
		s.unhook = nil
	}
	s.client = nil
	s.handlers = nil
	s.outbox.Clear()
	s.mu.Unlock()

	if c != nil {
		c.Disconnect()
		c.Dispatcher().Clear()
	}
	s.notify()
}
