package tradesocket

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================================================
// Fake clock
// ============================================================================

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	when  time.Time
	seq   int
	f     func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, when: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves time forward by d, firing due timers in order. Callbacks run
// on the caller's goroutine without the clock lock held, so they may arm new
// timers; those fire too when they fall inside the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool {
			if c.timers[i].when.Equal(c.timers[j].when) {
				return c.timers[i].seq < c.timers[j].seq
			}
			return c.timers[i].when.Before(c.timers[j].when)
		})
		if len(c.timers) == 0 || c.timers[0].when.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		next := c.timers[0]
		c.timers = c.timers[1:]
		c.now = next.when
		c.mu.Unlock()

		next.f()
	}
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// ============================================================================
// Fake transport
// ============================================================================

type fakeTransport struct {
	in   chan []byte
	done chan struct{}

	mu         sync.Mutex
	sent       [][]byte
	closed     bool
	closeCode  int
	remoteCode int
	writeErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (t *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.done:
		t.mu.Lock()
		code := t.remoteCode
		if code == 0 {
			code = t.closeCode
		}
		t.mu.Unlock()
		return nil, &CloseError{Code: code, Reason: "closed"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Write(_ context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("write on closed transport")
	}
	if t.writeErr != nil {
		return t.writeErr
	}
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close(code int, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.closeCode = code
	close(t.done)
	return nil
}

// serverClose simulates the peer ending the connection with code.
func (t *fakeTransport) serverClose(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.remoteCode = code
	close(t.done)
}

func (t *fakeTransport) push(frame string) {
	t.in <- []byte(frame)
}

func (t *fakeTransport) closedWith() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode, t.closed
}

// frames returns the raw frames written so far.
func (t *fakeTransport) frames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	for i, b := range t.sent {
		out[i] = string(b)
	}
	return out
}

// sentOfType returns the decoded JSON messages of the given type.
func (t *fakeTransport) sentOfType(msgType string) []map[string]any {
	var out []map[string]any
	for _, f := range t.frames() {
		var m map[string]any
		if json.Unmarshal([]byte(f), &m) != nil {
			continue
		}
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (t *fakeTransport) pings() int {
	n := 0
	for _, f := range t.frames() {
		if f == framePing {
			n++
		}
	}
	return n
}

// ============================================================================
// Fake dialer
// ============================================================================

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	fail       error
	block      chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	block := d.block
	fail := d.fail
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	return t, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

// ============================================================================
// Setup
// ============================================================================

const testURL = "ws://trade.test/ws"

type harness struct {
	clock  *fakeClock
	dialer *fakeDialer
	logger *zap.Logger
}

// newHarness uses a no-op logger: read loops may still log briefly after a
// test returns.
func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		clock:  newFakeClock(),
		dialer: &fakeDialer{},
		logger: zap.NewNop(),
	}
}

func (h *harness) options(extra ...Option) []Option {
	return append([]Option{
		WithClock(h.clock),
		WithDialer(h.dialer),
		WithLogger(h.logger),
	}, extra...)
}

func (h *harness) client(extra ...Option) *Client {
	return NewClient(testURL, h.options(extra...)...)
}

// connected returns a client with an open transport.
func (h *harness) connected(t *testing.T, extra ...Option) (*Client, *fakeTransport) {
	t.Helper()
	c := h.client(extra...)
	require.NoError(t, c.Connect(context.Background()))
	require.True(t, c.State().IsOpen())
	t.Cleanup(c.Disconnect)
	return c, h.dialer.last()
}

const waitFor = 2 * time.Second
const poll = 5 * time.Millisecond
