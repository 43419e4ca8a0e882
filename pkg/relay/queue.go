// Package relay forwards a derived subset of the pipeline's state to the
// remote collector without ever blocking its producers.
package relay

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	droppedCounter metric.Int64Counter
	pushCounter    metric.Int64Counter
)

func init() {
	var err error
	meter := otel.Meter("github.com/RafhaelMaglunob/pistream-cloud/pkg/relay")
	droppedCounter, err = meter.Int64Counter("relay.queue.dropped",
		metric.WithDescription("Items discarded by full relay queues"),
	)
	if err != nil {
		slog.Error("Failed to create relay metrics", "error", err)
	}
	pushCounter, _ = meter.Int64Counter("relay.pushes",
		metric.WithDescription("Push attempts to the collector"),
	)
}

// Policy decides what a full queue does with an incoming item.
type Policy int

const (
	// DropNewest rejects the incoming item and keeps what is queued.
	DropNewest Policy = iota
	// KeepNewest drains the queue and keeps only the incoming item.
	KeepNewest
)

func (p Policy) String() string {
	if p == DropNewest {
		return "drop_newest"
	}
	return "keep_newest"
}

// Queue is a bounded FIFO whose Offer never blocks.
type Queue[T any] struct {
	class  string
	policy Policy
	ch     chan T
	mu     sync.Mutex // serializes KeepNewest producers
	attrs  metric.MeasurementOption
}

func NewQueue[T any](class string, capacity int, policy Policy) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		class:  class,
		policy: policy,
		ch:     make(chan T, capacity),
		attrs:  metric.WithAttributes(attribute.String("class", class)),
	}
}

func (q *Queue[T]) Class() string { return q.class }
func (q *Queue[T]) Len() int      { return len(q.ch) }
func (q *Queue[T]) Cap() int      { return cap(q.ch) }

// Offer enqueues v. It reports false when v itself was dropped.
func (q *Queue[T]) Offer(v T) bool {
	if q.policy == DropNewest {
		select {
		case q.ch <- v:
			return true
		default:
			droppedCounter.Add(context.Background(), 1, q.attrs)
			return false
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		select {
		case q.ch <- v:
			return true
		default:
		}
		// Full: throw away everything queued so only v remains.
		n := q.drain()
		droppedCounter.Add(context.Background(), int64(n), q.attrs)
	}
}

// Latest removes every queued item and returns the newest one.
func (q *Queue[T]) Latest() (T, bool) {
	var last T
	found := false
	for {
		select {
		case v := <-q.ch:
			last, found = v, true
		default:
			return last, found
		}
	}
}

func (q *Queue[T]) drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}
