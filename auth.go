package tradesocket

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// link is the part of the Client the auth gate drives.
type link interface {
	isOpen() bool
	writeMessage(msg Outbound) error
	requestReconnect()
	authChanged(state State, err error)
}

// authGate holds outbound traffic until the server confirms the session.
type authGate struct {
	link       link
	tokens     TokenSource
	queue      *OutboundQueue
	timers     *TaskGroup
	clock      Clock
	retryDelay time.Duration
	markers    []string
	logger     *zap.Logger
	metrics    *metrics

	mu            sync.Mutex
	userID        string
	token         string
	authenticated bool
	retry         *Task
}

func newAuthGate(l link, o *Options, timers *TaskGroup, m *metrics) *authGate {
	markers := make([]string, len(o.AuthErrorMarkers))
	for i, mk := range o.AuthErrorMarkers {
		markers[i] = strings.ToLower(mk)
	}
	return &authGate{
		link:       l,
		tokens:     o.Tokens,
		queue:      NewOutboundQueue(o.MaxQueueSize),
		timers:     timers,
		clock:      o.Clock,
		retryDelay: o.AuthRetryDelay,
		markers:    markers,
		logger:     o.Logger,
		metrics:    m,
	}
}

// observe subscribes the gate to the server's auth replies.
func (g *authGate) observe(d *Dispatcher) {
	d.On(TypeAuthSuccess, func(Message) { g.succeeded() })
	d.On(TypeAuth, func(msg Message) {
		res, ok := msg.(*AuthResult)
		if !ok {
			return
		}
		if res.Success {
			g.succeeded()
		} else {
			g.failed(res.Text)
		}
	})
	d.On(TypeError, func(msg Message) {
		se, ok := msg.(*ServerError)
		if ok && g.isAuthError(se.Text) {
			g.failed(se.Text)
		}
	})
}

func (g *authGate) SetUserID(id string) {
	g.mu.Lock()
	g.userID = id
	g.mu.Unlock()
	if g.link.isOpen() {
		g.authenticate()
	}
}

func (g *authGate) UserID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.userID
}

func (g *authGate) Authenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authenticated
}

// authenticate sends "auth" when both a user id and a token are available.
// A missing token is not an error; the next Open or SetUserID retries.
func (g *authGate) authenticate() {
	g.mu.Lock()
	userID := g.userID
	g.mu.Unlock()
	if userID == "" {
		return
	}

	token := ""
	if g.tokens != nil {
		token = g.tokens.Token()
	}
	if token == "" {
		g.logger.Debug("no token available, authentication deferred", zap.String("user_id", userID))
		return
	}

	g.mu.Lock()
	g.token = token
	g.mu.Unlock()

	msg := NewMessage(TypeAuth, map[string]any{
		"userId":   userID,
		"token":    token,
		"clientId": uuid.NewString(),
	})
	if err := g.link.writeMessage(msg); err != nil {
		g.logger.Warn("auth send failed", zap.Error(err))
		return
	}
	g.link.authChanged(StateAuthenticating, nil)
}

// Send applies the gate to msg.
func (g *authGate) Send(msg Outbound) error {
	open := g.link.isOpen()

	g.mu.Lock()
	if open && g.authenticated {
		g.mu.Unlock()
		return g.write(msg)
	}

	switch {
	case msg.Type == TypeAuth:
		g.mu.Unlock()
		if !open {
			return &SendError{Type: msg.Type, Err: ErrNotConnected}
		}
		return g.write(msg)

	case open && IsSubscriptionControl(msg.Type):
		g.mu.Unlock()
		if err := g.write(msg); err != nil {
			g.logger.Debug("subscription send failed, queued", zap.String("type", msg.Type), zap.Error(err))
			g.enqueue(msg)
		}
		return nil

	case open:
		g.enqueueLocked(msg)
		g.mu.Unlock()
		return nil

	default:
		g.enqueueLocked(msg)
		g.mu.Unlock()
		g.link.requestReconnect()
		return nil
	}
}

func (g *authGate) write(msg Outbound) error {
	if err := g.link.writeMessage(msg); err != nil {
		return &SendError{Type: msg.Type, Err: err}
	}
	return nil
}

func (g *authGate) enqueue(msg Outbound) {
	g.mu.Lock()
	g.enqueueLocked(msg)
	g.mu.Unlock()
}

func (g *authGate) enqueueLocked(msg Outbound) {
	g.requeueLocked(&PendingOutbound{Message: msg, EnqueuedAt: g.clock.Now()})
}

func (g *authGate) requeueLocked(p *PendingOutbound) {
	if evicted := g.queue.Push(p); evicted != nil {
		g.metrics.inc(g.metrics.queueEvictions)
		g.logger.Warn("outbound queue full, dropped oldest message",
			zap.String("type", evicted.Message.Type),
			zap.Time("enqueued_at", evicted.EnqueuedAt),
		)
	}
}

func (g *authGate) succeeded() {
	g.mu.Lock()
	g.authenticated = true
	g.retry.Cancel()
	g.retry = nil
	pending := g.queue.Drain()
	g.mu.Unlock()

	g.link.authChanged(StateAuthenticated, nil)
	g.flush(pending)
}

// flush sends queued messages in order, skipping repeats of an identical
// (type, payload) pair. A failed write goes back to the queue.
func (g *authGate) flush(pending []*PendingOutbound) {
	if len(pending) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(pending))
	sent := 0
	for _, p := range pending {
		key := p.Message.dedupeKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if err := g.link.writeMessage(p.Message); err != nil {
			g.logger.Warn("flush send failed, requeued", zap.String("type", p.Message.Type), zap.Error(err))
			g.mu.Lock()
			g.requeueLocked(p)
			g.mu.Unlock()
			continue
		}
		sent++
	}
	g.logger.Debug("outbound queue flushed", zap.Int("queued", len(pending)), zap.Int("sent", sent))
}

func (g *authGate) failed(reason string) {
	g.mu.Lock()
	g.authenticated = false
	dropped := g.queue.Clear()
	g.retry.Cancel()
	g.retry = nil
	if g.userID != "" {
		g.retry = g.timers.After(g.retryDelay, g.retryAuth)
	}
	g.mu.Unlock()

	g.metrics.inc(g.metrics.authFailures)
	g.logger.Warn("authentication rejected",
		zap.String("reason", reason),
		zap.Int("dropped", dropped),
	)
	g.link.authChanged(StateOpen, &AuthenticationError{Reason: reason})
}

func (g *authGate) retryAuth() {
	g.mu.Lock()
	g.retry = nil
	g.mu.Unlock()
	if g.link.isOpen() {
		g.authenticate()
	}
}

func (g *authGate) isAuthError(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range g.markers {
		if m != "" && strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func (g *authGate) onOpen() {
	g.authenticate()
}

func (g *authGate) onClose() {
	g.mu.Lock()
	g.authenticated = false
	g.retry.Cancel()
	g.retry = nil
	g.mu.Unlock()
}

// reset clears the session and the queue.
func (g *authGate) reset() {
	g.mu.Lock()
	g.authenticated = false
	g.token = ""
	g.retry.Cancel()
	g.retry = nil
	g.mu.Unlock()
	g.queue.Clear()
}
