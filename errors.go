package tradesocket

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionCancelled is returned by Connect when the attempt was
	// superseded by a newer one or the caller's context ended first.
	ErrConnectionCancelled = errors.New("tradesocket: connection attempt cancelled")

	// ErrClosedBeforeOpen is returned by Connect when Disconnect was called
	// while the transport was still being dialed.
	ErrClosedBeforeOpen = errors.New("tradesocket: connection closed before open")

	// ErrNotConnected is wrapped by SendError when there is no open transport.
	ErrNotConnected = errors.New("tradesocket: not connected")
)

// ConnectionError is a transport-level failure while dialing or reading.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tradesocket: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthenticationError is reported when the server rejects the session.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return "tradesocket: authentication failed"
	}
	return "tradesocket: authentication failed: " + e.Reason
}

// SendError is returned when an application message could not be written.
type SendError struct {
	Type string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("tradesocket: send %q: %v", e.Type, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ParseError describes an inbound frame that is neither valid JSON with a
// type field nor a recognized bare control frame.
type ParseError struct {
	Frame string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tradesocket: parse frame %q: %v", e.Frame, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CloseError carries the close code observed when a transport stops reading.
type CloseError struct {
	Code   int
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("tradesocket: closed with %d: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("tradesocket: closed with %d", e.Code)
}

func (e *CloseError) Unwrap() error { return e.Err }

// closeCode extracts the close code from a read error. Errors that carry no
// code are treated as an abnormal closure.
func closeCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return StatusAbnormalClosure
}
