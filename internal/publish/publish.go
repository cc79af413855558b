// Package publish delivers telemetry readings to outward sinks: the
// terminal, a CBOR recording, Redis and Prometheus gauges.
package publish

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chaz8081/bmslink/internal/bms"
)

// Reading is one telemetry item from one device.
type Reading struct {
	Time      time.Time
	Device    string
	Telemetry bms.Telemetry
}

// Sink consumes readings.
type Sink interface {
	Publish(ctx context.Context, r Reading) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Reading) error

func (f SinkFunc) Publish(ctx context.Context, r Reading) error { return f(ctx, r) }

type namedSink struct {
	name string
	sink Sink
}

// Fanout delivers each reading to every registered sink. A failing sink is
// logged and does not stop the others.
type Fanout struct {
	logger *zap.Logger
	sinks  []namedSink
}

// NewFanout returns an empty fanout.
func NewFanout(logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{logger: logger}
}

// Add registers s under name. Not safe to call concurrently with Publish.
func (f *Fanout) Add(name string, s Sink) {
	f.sinks = append(f.sinks, namedSink{name: name, sink: s})
}

// Len returns the number of registered sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish never returns an error.
func (f *Fanout) Publish(ctx context.Context, r Reading) error {
	for _, s := range f.sinks {
		if err := s.sink.Publish(ctx, r); err != nil {
			f.logger.Warn("sink failed", zap.String("sink", s.name), zap.String("device", r.Device), zap.Error(err))
		}
	}
	return nil
}

// Queue hands readings from a caller that must not block to a sink running
// on its own goroutine. Readings offered while the buffer is full are
// dropped.
type Queue struct {
	sink    Sink
	logger  *zap.Logger
	ch      chan Reading
	dropped atomic.Int64
}

// NewQueue returns a queue feeding sink. Call Run to start delivery.
func NewQueue(sink Sink, buffer int, logger *zap.Logger) *Queue {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{sink: sink, logger: logger, ch: make(chan Reading, buffer)}
}

// Offer enqueues r and reports whether it was accepted.
func (q *Queue) Offer(r Reading) bool {
	select {
	case q.ch <- r:
		return true
	default:
		if n := q.dropped.Add(1); n == 1 || n%100 == 0 {
			q.logger.Warn("publish queue full, dropping readings", zap.Int64("dropped", n))
		}
		return false
	}
}

// Dropped returns how many readings Offer rejected.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Run delivers queued readings until ctx is done, then drains what is
// already queued.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case r := <-q.ch:
			q.deliver(ctx, r)
		case <-ctx.Done():
			for {
				select {
				case r := <-q.ch:
					q.deliver(context.Background(), r)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) deliver(ctx context.Context, r Reading) {
	if err := q.sink.Publish(ctx, r); err != nil {
		q.logger.Warn("publish failed", zap.Error(err))
	}
}
