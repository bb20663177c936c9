package tradesocket

import (
	"sync"
	"time"
)

// Clock is the time source used for every timer the channel starts.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// TaskGroup owns a set of scheduled callbacks so they can be cancelled
// together. A cancelled task never runs, even when its timer had already
// fired and the callback was waiting for the group lock.
type TaskGroup struct {
	clock Clock

	mu    sync.Mutex
	tasks map[*Task]struct{}
}

// Task is one scheduled callback in a TaskGroup.
type Task struct {
	group     *TaskGroup
	timer     Timer
	repeat    bool
	cancelled bool
}

// NewTaskGroup creates an empty group on the given clock.
func NewTaskGroup(clock Clock) *TaskGroup {
	if clock == nil {
		clock = systemClock{}
	}
	return &TaskGroup{clock: clock, tasks: make(map[*Task]struct{})}
}

// After runs f once after d.
func (g *TaskGroup) After(d time.Duration, f func()) *Task {
	t := &Task{group: g}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks[t] = struct{}{}
	t.timer = g.clock.AfterFunc(d, func() {
		if g.claim(t) {
			f()
		}
	})
	return t
}

// Every runs f every d until cancelled. The next run is armed after f returns.
func (g *TaskGroup) Every(d time.Duration, f func()) *Task {
	t := &Task{group: g, repeat: true}
	var tick func()
	tick = func() {
		if !g.claim(t) {
			return
		}
		f()
		g.mu.Lock()
		if !t.cancelled {
			t.timer = g.clock.AfterFunc(d, tick)
		}
		g.mu.Unlock()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks[t] = struct{}{}
	t.timer = g.clock.AfterFunc(d, tick)
	return t
}

// claim reports whether a fired task may run and forgets one-shot tasks.
func (g *TaskGroup) claim(t *Task) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.cancelled {
		return false
	}
	if !t.repeat {
		t.cancelled = true
		delete(g.tasks, t)
	}
	return true
}

func (g *TaskGroup) cancel(t *Task) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.cancelled = true
	delete(g.tasks, t)
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

// CancelAll cancels every pending task. The group stays usable.
func (g *TaskGroup) CancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for t := range g.tasks {
		t.cancelled = true
		if t.timer != nil {
			t.timer.Stop()
		}
	}
	g.tasks = make(map[*Task]struct{})
}

// Len returns the number of live tasks.
func (g *TaskGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// Cancel stops the task. It reports false when the task already ran or was
// cancelled before.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	return t.group.cancel(t)
}
