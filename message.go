package tradesocket

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ============================================================================
// Message types
// ============================================================================

// Control message types understood by the channel itself.
const (
	TypeAuth              = "auth"
	TypeAuthSuccess       = "auth_success"
	TypeError             = "error"
	TypePong              = "pong"
	TypeSessionTerminated = "session_terminated"
	TypeSubscribeQuotes   = "subscribe-custom-quotes"
	TypeUnsubscribeQuotes = "unsubscribe-custom-quotes"

	// Wildcard matches every inbound message in the Dispatcher.
	Wildcard = "*"
)

const (
	framePing = "ping"
	framePong = "pong"
)

// IsSubscriptionControl reports whether a message type bypasses the auth gate.
func IsSubscriptionControl(msgType string) bool {
	switch msgType {
	case TypeSubscribeQuotes, TypeUnsubscribeQuotes:
		return true
	}
	return strings.Contains(msgType, "subscribe")
}

// ============================================================================
// Inbound messages
// ============================================================================

// Message is an inbound server message. The set of implementations is closed:
// control messages get their own variant and everything else arrives as
// *Unknown, which business handlers decode themselves.
type Message interface {
	Type() string
	Raw() json.RawMessage
	Decode(v any) error
	message()
}

type envelope struct {
	typ string
	raw json.RawMessage
}

func (e envelope) Type() string         { return e.typ }
func (e envelope) Raw() json.RawMessage { return e.raw }
func (e envelope) Decode(v any) error   { return json.Unmarshal(e.raw, v) }
func (envelope) message()               {}

// AuthSuccess confirms the session.
type AuthSuccess struct {
	envelope
	UserID string
}

// AuthResult is an "auth" reply carrying an explicit success flag.
type AuthResult struct {
	envelope
	Success bool
	Text    string
}

// ServerError is a generic server error; its text may describe an
// authentication or session problem.
type ServerError struct {
	envelope
	Text string
}

// Pong is a heartbeat reply. Bare is set for the plain-text form.
type Pong struct {
	envelope
	Bare bool
}

// Ping is a bare-text probe sent by the server.
type Ping struct {
	envelope
}

// SessionTerminated tells the client its session was ended server-side.
type SessionTerminated struct {
	envelope
	Text string
}

// Unknown is any message type the channel has no semantics for.
type Unknown struct {
	envelope
}

type wireHeader struct {
	Type    string `json:"type"`
	Success *bool  `json:"success"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// ParseMessage validates a raw frame and returns its variant.
func ParseMessage(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	switch string(trimmed) {
	case framePong:
		return &Pong{envelope: envelope{typ: TypePong, raw: json.RawMessage(`{"type":"pong"}`)}, Bare: true}, nil
	case framePing:
		return &Ping{envelope: envelope{typ: framePing, raw: json.RawMessage(`{"type":"ping"}`)}}, nil
	}

	var h wireHeader
	if err := json.Unmarshal(trimmed, &h); err != nil {
		return nil, &ParseError{Frame: preview(trimmed), Err: err}
	}
	if h.Type == "" {
		return nil, &ParseError{Frame: preview(trimmed), Err: errors.New("missing type")}
	}

	env := envelope{typ: h.Type, raw: json.RawMessage(append([]byte(nil), trimmed...))}
	switch h.Type {
	case TypeAuthSuccess:
		return &AuthSuccess{envelope: env, UserID: h.UserID}, nil
	case TypeAuth:
		return &AuthResult{envelope: env, Success: h.Success != nil && *h.Success, Text: h.Message}, nil
	case TypeError:
		return &ServerError{envelope: env, Text: h.Message}, nil
	case TypePong:
		return &Pong{envelope: env}, nil
	case TypeSessionTerminated:
		return &SessionTerminated{envelope: env, Text: h.Message}, nil
	}
	return &Unknown{envelope: env}, nil
}

func preview(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// ============================================================================
// Outbound messages
// ============================================================================

// Outbound is a client-to-server message. On the wire the payload fields are
// flattened next to "type".
type Outbound struct {
	Type    string
	Payload map[string]any
}

// NewMessage builds an outbound message.
func NewMessage(msgType string, payload map[string]any) Outbound {
	return Outbound{Type: msgType, Payload: payload}
}

// SubscribeQuotes builds a quote subscription request.
func SubscribeQuotes(id, timeframe string) Outbound {
	return NewMessage(TypeSubscribeQuotes, map[string]any{"id": id, "timeframe": timeframe})
}

// UnsubscribeQuotes builds the matching unsubscribe request.
func UnsubscribeQuotes(id, timeframe string) Outbound {
	return NewMessage(TypeUnsubscribeQuotes, map[string]any{"id": id, "timeframe": timeframe})
}

func (o Outbound) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(o.Payload)+1)
	for k, v := range o.Payload {
		m[k] = v
	}
	m["type"] = o.Type
	return json.Marshal(m)
}

// dedupeKey identifies identical messages. encoding/json sorts map keys, so
// equal payloads always serialize the same way.
func (o Outbound) dedupeKey() string {
	b, err := json.Marshal(o.Payload)
	if err != nil {
		return o.Type + "\x00" + err.Error()
	}
	return o.Type + "\x00" + string(b)
}

// PendingOutbound is a message waiting in the outbound queue.
type PendingOutbound struct {
	Message    Outbound
	EnqueuedAt time.Time
}
