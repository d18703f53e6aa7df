package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalFlow/internal/domain/models"
	drepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
)

// EventRecorder batches detected events into the analytics log. The detector hands
// events over without waiting; a full buffer drops the event.
type EventRecorder struct {
	pub     drepo.EventPublisher
	store   drepo.EventLog
	metrics drepo.Metrics
	log     *logger.Logger
	backend string
	batchSz int
	batchTO time.Duration

	mu     sync.RWMutex
	in     chan models.EventRecord
	closed bool
	done   chan struct{}
}

// NewEventRecorder routes batches to pub when backend is "kafka" and to store otherwise.
func NewEventRecorder(
	pub drepo.EventPublisher,
	store drepo.EventLog,
	metrics drepo.Metrics,
	log *logger.Logger,
	backend string,
	batchSz int,
	batchTO time.Duration,
	bufferSz int,
) *EventRecorder {
	return &EventRecorder{
		pub:     pub,
		store:   store,
		metrics: metrics,
		log:     log,
		backend: backend,
		batchSz: batchSz,
		batchTO: batchTO,
		in:      make(chan models.EventRecord, bufferSz),
		done:    make(chan struct{}),
	}
}

// Record queues ev for the next batch.
func (r *EventRecorder) Record(ev models.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.in <- ev.Record():
	default:
		r.metrics.RecordEventDropped("log_buffer_full")
	}
}

// Start launches the batching loop.
func (r *EventRecorder) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *EventRecorder) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.batchTO)
	defer ticker.Stop()

	batch := make([]models.EventRecord, 0, r.batchSz)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		// flushes outlive the caller's ctx so shutdown can still write the tail
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := r.ProcessBatch(fctx, batch); err != nil {
			r.log.Error("event log flush failed", logger.Int("events", len(batch)), logger.Error(err))
		}
		cancel()
		batch = make([]models.EventRecord, 0, r.batchSz)
	}

	for {
		select {
		case rec, ok := <-r.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= r.batchSz {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// ProcessBatch writes a batch to the configured backend.
func (r *EventRecorder) ProcessBatch(ctx context.Context, batch []models.EventRecord) error {
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	var err error
	switch r.backend {
	case "kafka":
		err = r.pub.PublishBatch(ctx, batch)
	case "clickhouse", "memory":
		err = r.store.StoreBatch(ctx, batch)
	default:
		err = fmt.Errorf("unknown event log backend: %s", r.backend)
	}
	if err != nil {
		r.metrics.RecordError("event_log_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	r.metrics.RecordLatency("event_log_batch", time.Since(start).Seconds())
	return nil
}

// Stop flushes what is buffered and waits for the loop to exit or ctx to expire.
func (r *EventRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.in)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
