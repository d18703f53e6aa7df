package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
)

var ErrQueueClosed = errors.New("event queue closed")

// EventQueue sits between the detector and the scorer. It validates and optionally
// throttles events, then keeps them in a fixed-size ring. When the ring is full the
// oldest unconsumed event is evicted so a push never blocks.
//
// It is designed for many producers and a single consumer.
type EventQueue struct {
	log     *logger.Logger
	metrics domrepo.Metrics

	mu     sync.Mutex
	ring   []models.Event
	head   int
	size   int
	closed bool

	ready   chan struct{}
	dropped atomic.Uint64

	minInterval time.Duration
	lastSeen    map[string]time.Time // symbol|kind -> last accepted
	now         func() time.Time
}

type QueueOption func(*EventQueue)

// WithMinReemitInterval drops a (symbol, kind) event seen again within d. Zero disables it.
func WithMinReemitInterval(d time.Duration) QueueOption {
	return func(q *EventQueue) { q.minInterval = d }
}

// WithClock overrides time.Now for throttling.
func WithClock(now func() time.Time) QueueOption {
	return func(q *EventQueue) { q.now = now }
}

func NewEventQueue(capacity int, log *logger.Logger, metrics domrepo.Metrics, opts ...QueueOption) *EventQueue {
	if capacity <= 0 {
		capacity = 10000
	}
	q := &EventQueue{
		log:      log,
		metrics:  metrics,
		ring:     make([]models.Event, capacity),
		ready:    make(chan struct{}, 1),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push enqueues ev, evicting the oldest entry if the queue is full.
func (q *EventQueue) Push(ev models.Event) error {
	if err := validateEvent(ev); err != nil {
		q.metrics.RecordEventDropped("invalid")
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if !q.allowLocked(ev) {
		q.mu.Unlock()
		q.metrics.RecordEventDropped("throttled")
		return nil
	}

	var evicted *models.Event
	if q.size == len(q.ring) {
		old := q.ring[q.head]
		evicted = &old
		q.ring[q.head] = models.Event{}
		q.head = (q.head + 1) % len(q.ring)
		q.size--
	}
	q.ring[(q.head+q.size)%len(q.ring)] = ev
	q.size++
	depth := q.size
	q.mu.Unlock()

	q.signal()
	q.metrics.RecordQueueDepth("events", depth)

	if evicted != nil {
		n := q.dropped.Add(1)
		q.metrics.RecordEventDropped("queue_full")
		q.log.Warn("event queue full, dropped oldest",
			logger.String("symbol", evicted.Symbol),
			logger.String("kind", string(evicted.Kind)),
			logger.Int64("dropped_total", int64(n)),
		)
	}
	return nil
}

// TryPop removes the oldest event without waiting.
func (q *EventQueue) TryPop() (models.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return models.Event{}, false
	}
	ev := q.ring[q.head]
	q.ring[q.head] = models.Event{}
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	return ev, true
}

// Pop blocks until an event is available, the queue is closed and drained, or ctx is done.
func (q *EventQueue) Pop(ctx context.Context) (models.Event, error) {
	for {
		if ev, ok := q.TryPop(); ok {
			return ev, nil
		}
		if q.Closed() {
			return models.Event{}, ErrQueueClosed
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return models.Event{}, ctx.Err()
		}
	}
}

// Ready fires after a push or close. Consumers drain with TryPop after it fires.
func (q *EventQueue) Ready() <-chan struct{} { return q.ready }

// Close stops accepting pushes. Queued events can still be consumed.
func (q *EventQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *EventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *EventQueue) Cap() int { return len(q.ring) }

// Dropped is the number of events evicted because the queue was full.
func (q *EventQueue) Dropped() uint64 { return q.dropped.Load() }

func (q *EventQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *EventQueue) allowLocked(ev models.Event) bool {
	if q.minInterval <= 0 {
		return true
	}
	key := ev.Symbol + "|" + string(ev.Kind)
	now := q.now()
	if last, ok := q.lastSeen[key]; ok && now.Sub(last) < q.minInterval {
		return false
	}
	q.lastSeen[key] = now
	return true
}

func validateEvent(ev models.Event) error {
	if ev.Symbol == "" {
		return fmt.Errorf("event symbol empty")
	}
	if !ev.Kind.Valid() {
		return fmt.Errorf("event kind %q invalid", ev.Kind)
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp missing")
	}
	if ev.Detail != nil && ev.Detail.Kind() != ev.Kind {
		return fmt.Errorf("event detail %q does not match kind %q", ev.Detail.Kind(), ev.Kind)
	}
	return nil
}
