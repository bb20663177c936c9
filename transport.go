package tradesocket

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nhooyr.io/websocket"
)

// Close codes used by the channel.
const (
	StatusNormalClosure    = 1000
	StatusGoingAway        = 1001
	StatusAbnormalClosure  = 1006
	StatusHeartbeatTimeout = 4000
)

// Transport is an open, message-oriented connection.
type Transport interface {
	// Read blocks until the next frame. When the connection ends it returns
	// an error, preferably a *CloseError carrying the close code.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer dials WebSocket transports.
type WebSocketDialer struct {
	Options   *websocket.DialOptions
	ReadLimit int64
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, resp, err := websocket.Dial(ctx, url, d.Options)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial (status %s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: int(ce.Code), Reason: ce.Reason, Err: err}
		}
		return nil, &CloseError{Code: StatusAbnormalClosure, Err: err}
	}
	return data, nil
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	return t.conn.Close(websocket.StatusCode(code), reason)
}

// NormalizeURL rewrites http(s) URLs to their ws(s) equivalents.
func NormalizeURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}
