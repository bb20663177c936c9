package tradesocket

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(i int) *PendingOutbound {
	return &PendingOutbound{Message: NewMessage("place_trade", map[string]any{"n": i})}
}

func TestOutboundQueueDropsOldest(t *testing.T) {
	q := NewOutboundQueue(DefaultQueueSize)
	var evicted []*PendingOutbound
	for i := 1; i <= 51; i++ {
		if e := q.Push(pending(i)); e != nil {
			evicted = append(evicted, e)
		}
	}

	require.Len(t, evicted, 1)
	assert.Equal(t, 1, evicted[0].Message.Payload["n"])
	assert.Equal(t, 50, q.Len())

	items := q.Snapshot()
	assert.Equal(t, 2, items[0].Message.Payload["n"])
	assert.Equal(t, 51, items[49].Message.Payload["n"])
	assert.Equal(t, 50, q.Len(), "snapshot does not consume")
}

func TestOutboundQueueDrainAndClear(t *testing.T) {
	q := NewOutboundQueue(3)
	for i := 0; i < 3; i++ {
		q.Push(pending(i))
	}

	out := q.Drain()
	require.Len(t, out, 3)
	for i, p := range out {
		assert.Equal(t, i, p.Message.Payload["n"], fmt.Sprintf("position %d", i))
	}
	assert.Equal(t, 0, q.Len())

	q.Push(pending(9))
	q.Push(pending(10))
	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain())
}

func TestOutboundQueueDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultQueueSize, NewOutboundQueue(0).Cap())
	assert.Equal(t, 7, NewOutboundQueue(7).Cap())
}
