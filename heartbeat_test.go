package tradesocket

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type heartbeatSpy struct {
	mu       sync.Mutex
	sends    int
	sendErr  error
	expiries []string
}

func (p *heartbeatSpy) send() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends++
	return p.sendErr
}

func (p *heartbeatSpy) expire(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiries = append(p.expiries, reason)
}

func (p *heartbeatSpy) counts() (int, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sends, append([]string(nil), p.expiries...)
}

func newTestHeartbeat(clk *fakeClock, opts ...Option) (*heartbeat, *heartbeatSpy) {
	o := buildOptions(append([]Option{WithClock(clk)}, opts...))
	p := &heartbeatSpy{}
	return newHeartbeat(&o, p.send, p.expire), p
}

func TestHeartbeatPongBeforeDeadline(t *testing.T) {
	clk := newFakeClock()
	hb, p := newTestHeartbeat(clk)
	start := clk.Now()
	hb.Start()
	defer hb.Stop()

	clk.Advance(DefaultHeartbeatDelay)
	sends, _ := p.counts()
	assert.Equal(t, 1, sends)
	assert.True(t, hb.State().Outstanding)
	assert.Equal(t, clk.Now(), hb.State().LastPingSentAt)

	clk.Advance(2 * time.Second)
	hb.Pong()
	assert.False(t, hb.State().Outstanding)
	assert.Equal(t, clk.Now(), hb.State().LastPongReceivedAt)

	clk.Advance(DefaultPongTimeout)
	_, expiries := p.counts()
	assert.Empty(t, expiries)

	// periodic probe at 30s
	clk.Advance(start.Add(DefaultPingInterval).Sub(clk.Now()))
	sends, _ = p.counts()
	assert.Equal(t, 2, sends)
}

func TestHeartbeatPongTimeout(t *testing.T) {
	clk := newFakeClock()
	hb, p := newTestHeartbeat(clk)
	hb.Start()

	clk.Advance(DefaultHeartbeatDelay)
	clk.Advance(DefaultPongTimeout - time.Millisecond)
	_, expiries := p.counts()
	assert.Empty(t, expiries)

	clk.Advance(time.Millisecond)
	_, expiries = p.counts()
	require.Equal(t, []string{"pong timeout"}, expiries)

	clk.Advance(5 * time.Minute)
	sends, expiries := p.counts()
	assert.Equal(t, 1, sends, "stopped after expiry")
	assert.Len(t, expiries, 1)
}

func TestHeartbeatWatchdog(t *testing.T) {
	clk := newFakeClock()
	hb, p := newTestHeartbeat(clk, WithHeartbeat(DefaultPingInterval, 60*time.Second))
	hb.Start()

	clk.Advance(49 * time.Second)
	sends, expiries := p.counts()
	assert.Equal(t, 1, sends, "probe at 30s is skipped while a pong is outstanding")
	assert.Empty(t, expiries)

	clk.Advance(time.Second)
	_, expiries = p.counts()
	require.Len(t, expiries, 1)
	assert.Contains(t, expiries[0], "no pong")
}

func TestHeartbeatSendFailureExpires(t *testing.T) {
	clk := newFakeClock()
	hb, p := newTestHeartbeat(clk)
	p.sendErr = errors.New("broken pipe")
	hb.Start()

	clk.Advance(DefaultHeartbeatDelay)
	_, expiries := p.counts()
	assert.Equal(t, []string{"ping write failed"}, expiries)
	assert.Equal(t, 0, clk.Pending())
}

func TestHeartbeatStop(t *testing.T) {
	clk := newFakeClock()
	hb, p := newTestHeartbeat(clk)
	hb.Start()
	hb.Stop()
	hb.Pong()

	clk.Advance(10 * time.Minute)
	sends, expiries := p.counts()
	assert.Zero(t, sends)
	assert.Empty(t, expiries)
	assert.True(t, hb.State().LastPongReceivedAt.IsZero())
}

// ============================================================================
// Through the client
// ============================================================================

func TestClientHeartbeatKeepsConnection(t *testing.T) {
	h := newHarness(t)
	c, tr := h.connected(t)

	h.clock.Advance(DefaultHeartbeatDelay)
	assert.Equal(t, 1, tr.pings())

	tr.push("pong")
	require.Eventually(t, func() bool { return !c.HeartbeatState().Outstanding }, waitFor, poll)

	h.clock.Advance(DefaultPongTimeout)
	assert.True(t, c.State().IsOpen())
	assert.Equal(t, 1, h.dialer.dials())
}

func TestClientHeartbeatTimeoutReconnects(t *testing.T) {
	h := newHarness(t)
	c, tr := h.connected(t)
	rec := &stateRecorder{}
	c.OnStateChange(rec.record)

	h.clock.Advance(DefaultHeartbeatDelay)
	h.clock.Advance(DefaultPongTimeout)

	code, closed := tr.closedWith()
	require.True(t, closed)
	assert.Equal(t, StatusHeartbeatTimeout, code)
	assert.Equal(t, StateReconnecting, c.State())
	assert.Equal(t, []State{StateClosing, StateReconnecting}, rec.states())
	var ce *CloseError
	require.ErrorAs(t, c.LastError(), &ce)
	assert.Equal(t, StatusHeartbeatTimeout, ce.Code)

	h.clock.Advance(DefaultInitialReconnectDelay)
	assert.Equal(t, 2, h.dialer.dials())
	assert.True(t, c.State().IsOpen())
}

func TestClientHeartbeatWatchdog(t *testing.T) {
	h := newHarness(t)
	c, tr := h.connected(t, WithHeartbeat(DefaultPingInterval, 60*time.Second))

	h.clock.Advance(49 * time.Second)
	assert.True(t, c.State().IsOpen())

	h.clock.Advance(time.Second)
	code, closed := tr.closedWith()
	require.True(t, closed)
	assert.Equal(t, StatusHeartbeatTimeout, code)
	assert.Equal(t, StateReconnecting, c.State())
}

func TestClientAnswersServerPing(t *testing.T) {
	h := newHarness(t)
	_, tr := h.connected(t)

	tr.push("ping")
	require.Eventually(t, func() bool {
		for _, f := range tr.frames() {
			if f == framePong {
				return true
			}
		}
		return false
	}, waitFor, poll)
}

func TestClientJSONPongIsDispatched(t *testing.T) {
	h := newHarness(t)
	c, tr := h.connected(t)

	got := make(chan Message, 1)
	c.Dispatcher().On(TypePong, func(m Message) { got <- m })

	h.clock.Advance(DefaultHeartbeatDelay)
	tr.push(`{"type":"pong"}`)

	select {
	case m := <-got:
		assert.False(t, m.(*Pong).Bare)
	case <-time.After(waitFor):
		t.Fatal("pong not dispatched")
	}
	assert.False(t, c.HeartbeatState().Outstanding)
}
