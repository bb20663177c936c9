package tradesocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskGroupAfter(t *testing.T) {
	clk := newFakeClock()
	g := NewTaskGroup(clk)
	runs := 0
	task := g.After(time.Second, func() { runs++ })
	assert.Equal(t, 1, g.Len())

	clk.Advance(999 * time.Millisecond)
	assert.Equal(t, 0, runs)
	clk.Advance(time.Millisecond)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 0, g.Len())
	assert.False(t, task.Cancel(), "already ran")
}

func TestTaskGroupEvery(t *testing.T) {
	clk := newFakeClock()
	g := NewTaskGroup(clk)
	runs := 0
	task := g.Every(10*time.Second, func() { runs++ })

	clk.Advance(35 * time.Second)
	assert.Equal(t, 3, runs)

	assert.True(t, task.Cancel())
	clk.Advance(time.Minute)
	assert.Equal(t, 3, runs)
	assert.Equal(t, 0, clk.Pending())
}

func TestTaskGroupCancelAll(t *testing.T) {
	clk := newFakeClock()
	g := NewTaskGroup(clk)
	runs := 0
	g.After(time.Second, func() { runs++ })
	g.Every(time.Second, func() { runs++ })

	g.CancelAll()
	clk.Advance(time.Minute)
	assert.Equal(t, 0, runs)
	assert.Equal(t, 0, g.Len())

	g.After(time.Second, func() { runs++ })
	clk.Advance(time.Second)
	assert.Equal(t, 1, runs, "group is reusable after CancelAll")
}

func TestTaskCancelledFromSiblingCallback(t *testing.T) {
	clk := newFakeClock()
	g := NewTaskGroup(clk)
	ran := false
	var victim *Task
	g.After(time.Second, func() { victim.Cancel() })
	victim = g.After(time.Second, func() { ran = true })

	clk.Advance(time.Second)
	assert.False(t, ran)
}

func TestEveryStopsWhenCancelledInsideCallback(t *testing.T) {
	clk := newFakeClock()
	g := NewTaskGroup(clk)
	runs := 0
	g.Every(time.Second, func() {
		runs++
		g.CancelAll()
	})
	clk.Advance(10 * time.Second)
	assert.Equal(t, 1, runs)
}

func TestNilTaskCancel(t *testing.T) {
	var task *Task
	assert.False(t, task.Cancel())
}
