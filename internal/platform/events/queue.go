package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned when an event is dropped because the broker has
// fallen behind.
var ErrQueueFull = errors.New("event queue full")

// publishTimeout bounds a single delivery attempt made by the queue.
const publishTimeout = 10 * time.Second

// Queue hands events to an underlying Publisher from a single background
// goroutine. Publish never waits on the broker: when the buffer is full the
// event is dropped and ErrQueueFull returned.
type Queue struct {
	next   Publisher
	logger zerolog.Logger
	events chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewQueue(next Publisher, size int, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		next:   next,
		logger: logger,
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for ev := range q.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := q.next.Publish(ctx, ev); err != nil {
			q.logger.Warn().Err(err).Str("type", ev.Type).Str("center_id", ev.CenterID).Msg("publish event failed")
		}
		cancel()
	}
}

// Publish stamps and enqueues ev. The context is not used for delivery, so an
// event outlives the request that produced it.
func (q *Queue) Publish(_ context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errors.New("event queue closed")
	}
	select {
	case q.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events, delivers what is queued and closes the
// underlying publisher.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.events)
	q.mu.Unlock()

	<-q.done
	return q.next.Close()
}
