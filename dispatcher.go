package tradesocket

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// HandlerFunc receives a dispatched inbound message.
type HandlerFunc func(Message)

// Subscription is the handle returned by Dispatcher.On. It is the identity
// used for removal.
type Subscription struct {
	d       *Dispatcher
	msgType string
	handler HandlerFunc
}

// Type returns the message type the subscription was registered for.
func (s *Subscription) Type() string { return s.msgType }

// Unsubscribe removes the registration. Repeated calls are no-ops.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.d != nil {
		s.d.Off(s)
	}
}

// Dispatcher routes inbound messages to handlers keyed by message type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]*Subscription
	logger   *zap.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[string][]*Subscription),
		logger:   logger,
	}
}

// On appends h to the handlers for msgType. Use Wildcard to see every message.
func (d *Dispatcher) On(msgType string, h HandlerFunc) *Subscription {
	sub := &Subscription{d: d, msgType: msgType, handler: h}
	d.mu.Lock()
	d.handlers[msgType] = append(d.handlers[msgType], sub)
	d.mu.Unlock()
	return sub
}

// Off removes sub. It reports whether the subscription was registered.
func (d *Dispatcher) Off(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.handlers[sub.msgType]
	for i, s := range list {
		if s == sub {
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(d.handlers, sub.msgType)
			} else {
				d.handlers[sub.msgType] = next
			}
			return true
		}
	}
	return false
}

// Len returns the number of handlers registered for msgType.
func (d *Dispatcher) Len(msgType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[msgType])
}

// Clear removes every registration.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.handlers = make(map[string][]*Subscription)
	d.mu.Unlock()
}

// Dispatch calls the handlers for msg.Type() followed by the wildcard
// handlers. A panicking handler is logged and skipped.
func (d *Dispatcher) Dispatch(msg Message) {
	d.mu.RLock()
	exact := d.handlers[msg.Type()]
	wild := d.handlers[Wildcard]
	targets := make([]*Subscription, 0, len(exact)+len(wild))
	targets = append(targets, exact...)
	if msg.Type() != Wildcard {
		targets = append(targets, wild...)
	}
	d.mu.RUnlock()

	for _, sub := range targets {
		d.invoke(sub, msg)
	}
}

func (d *Dispatcher) invoke(sub *Subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message handler panicked",
				zap.String("type", msg.Type()),
				zap.String("registered_for", sub.msgType),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	sub.handler(msg)
}
