package tradesocket

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HeartbeatState is a snapshot of the liveness monitor.
type HeartbeatState struct {
	LastPingSentAt     time.Time
	LastPongReceivedAt time.Time
	Outstanding        bool
}

// heartbeat probes an open transport with bare "ping" frames. It never acts
// on the connection itself: expiry is reported through onExpire.
type heartbeat struct {
	clock        Clock
	tasks        *TaskGroup
	interval     time.Duration
	timeout      time.Duration
	initialDelay time.Duration
	watchEvery   time.Duration
	maxSilence   time.Duration
	send         func() error
	onExpire     func(reason string)
	logger       *zap.Logger

	mu          sync.Mutex
	startedAt   time.Time
	lastPing    time.Time
	lastPong    time.Time
	deadline    *Task
	deadlineAt  time.Time
	probeSeq    uint64
	deadlineSeq uint64
	stopped     bool
}

func newHeartbeat(o *Options, send func() error, onExpire func(string)) *heartbeat {
	return &heartbeat{
		clock:        o.Clock,
		tasks:        NewTaskGroup(o.Clock),
		interval:     o.PingInterval,
		timeout:      o.PongTimeout,
		initialDelay: o.HeartbeatDelay,
		watchEvery:   o.WatchdogInterval,
		maxSilence:   o.MaxPongSilence,
		send:         send,
		onExpire:     onExpire,
		logger:       o.Logger,
	}
}

func (h *heartbeat) Start() {
	h.mu.Lock()
	h.startedAt = h.clock.Now()
	h.mu.Unlock()

	h.tasks.After(h.initialDelay, h.probe)
	h.tasks.Every(h.interval, h.probe)
	h.tasks.Every(h.watchEvery, h.watch)
}

func (h *heartbeat) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.deadline = nil
	h.mu.Unlock()
	h.tasks.CancelAll()
}

// Pong records a reply and clears the outstanding deadline.
func (h *heartbeat) Pong() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.lastPong = h.clock.Now()
	if h.deadline != nil {
		h.deadline.Cancel()
		h.deadline = nil
	}
}

func (h *heartbeat) State() HeartbeatState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HeartbeatState{
		LastPingSentAt:     h.lastPing,
		LastPongReceivedAt: h.lastPong,
		Outstanding:        h.deadline != nil,
	}
}

func (h *heartbeat) probe() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	now := h.clock.Now()
	if h.deadline != nil {
		if !now.Before(h.deadlineAt) {
			h.expireLocked("pong deadline passed before next probe")
			return
		}
		h.mu.Unlock()
		h.logger.Debug("heartbeat probe skipped, previous pong outstanding")
		return
	}
	h.probeSeq++
	seq := h.probeSeq
	h.lastPing = now
	h.deadlineAt = now.Add(h.timeout)
	h.deadlineSeq = seq
	h.deadline = h.tasks.After(h.timeout, func() { h.deadlineExpired(seq) })
	h.mu.Unlock()

	if err := h.send(); err != nil {
		h.logger.Warn("heartbeat ping failed", zap.Error(err))
		h.mu.Lock()
		if h.stopped {
			h.mu.Unlock()
			return
		}
		h.expireLocked("ping write failed")
	}
}

func (h *heartbeat) deadlineExpired(seq uint64) {
	h.mu.Lock()
	if h.stopped || h.deadline == nil || h.deadlineSeq != seq {
		h.mu.Unlock()
		return
	}
	h.expireLocked("pong timeout")
}

func (h *heartbeat) watch() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	last := h.lastPong
	if last.IsZero() {
		last = h.startedAt
	}
	if silence := h.clock.Now().Sub(last); silence > h.maxSilence {
		h.expireLocked("no pong for " + silence.String())
		return
	}
	h.mu.Unlock()
}

// expireLocked stops the monitor, releases h.mu and reports expiry once.
func (h *heartbeat) expireLocked(reason string) {
	h.stopped = true
	h.deadline = nil
	h.mu.Unlock()
	h.tasks.CancelAll()
	h.logger.Warn("heartbeat expired", zap.String("reason", reason))
	h.onExpire(reason)
}
