package tradesocket

import "time"

// maxBackoffExponent caps the doubling at 2^5.
const maxBackoffExponent = 5

// backoffDelay returns the wait before reconnect attempt n (1-based):
// min(maxDelay, initial * 2^min(n-1, 5)).
func backoffDelay(n int, initial, maxDelay time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	exp := n - 1
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	d := initial * time.Duration(1<<exp)
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// reconnectState tracks automatic reconnection for one Client.
type reconnectState struct {
	attempts      int
	lastAttemptAt time.Time
	timer         *Task
}

// remaining returns how long to wait before an attempt is allowed, given the
// minimum spacing between attempts.
func (r *reconnectState) remaining(now time.Time, minInterval time.Duration) time.Duration {
	if r.lastAttemptAt.IsZero() {
		return 0
	}
	if wait := minInterval - now.Sub(r.lastAttemptAt); wait > 0 {
		return wait
	}
	return 0
}

func (r *reconnectState) cancelTimer() {
	if r.timer != nil {
		r.timer.Cancel()
		r.timer = nil
	}
}
