package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/bmslink/internal/bms"
)

type collect struct {
	mu  sync.Mutex
	got []Reading
	err error
}

func (c *collect) Publish(_ context.Context, r Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, r)
	return c.err
}

func (c *collect) readings() []Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Reading(nil), c.got...)
}

func packReading() Reading {
	return Reading{
		Time:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Device:    "DXB-1A2B",
		Telemetry: bms.SimulatedPack(),
	}
}

func TestFanoutContinuesPastFailingSink(t *testing.T) {
	bad := &collect{err: errors.New("down")}
	good := &collect{}

	f := NewFanout(nil)
	f.Add("bad", bad)
	f.Add("good", good)
	require.Equal(t, 2, f.Len())

	assert.NoError(t, f.Publish(context.Background(), packReading()))
	assert.Len(t, bad.readings(), 1)
	assert.Len(t, good.readings(), 1)
}

func TestSinkFunc(t *testing.T) {
	var n int
	s := SinkFunc(func(context.Context, Reading) error { n++; return nil })
	require.NoError(t, s.Publish(context.Background(), packReading()))
	assert.Equal(t, 1, n)
}

func TestQueueDropsWhenFull(t *testing.T) {
	sink := &collect{}
	q := NewQueue(sink, 2, nil)

	assert.True(t, q.Offer(packReading()))
	assert.True(t, q.Offer(packReading()))
	assert.False(t, q.Offer(packReading()))
	assert.Equal(t, int64(1), q.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx)
	assert.Len(t, sink.readings(), 2, "queued readings are drained on shutdown")
}

func TestQueueDelivers(t *testing.T) {
	sink := &collect{}
	q := NewQueue(sink, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	q.Offer(packReading())
	require.Eventually(t, func() bool { return len(sink.readings()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
