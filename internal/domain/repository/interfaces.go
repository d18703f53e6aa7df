package repository

import (
	"context"
	"time"

	"SignalFlow/internal/domain/models"
)

// SignalStore is the durable record of every emitted signal.
type SignalStore interface {
	// Record commits the signal before returning.
	Record(ctx context.Context, s *models.Signal) (*models.Signal, error)
	// UpdateOutcome sets the outcome only while it is still unset.
	// It reports false with a nil error when an outcome was already present.
	UpdateOutcome(ctx context.Context, id string, u models.OutcomeUpdate) (bool, error)
	Get(ctx context.Context, id string) (*models.Signal, error)
	List(ctx context.Context, f models.SignalFilter) ([]*models.Signal, error)
	ListOpen(ctx context.Context) ([]*models.Signal, error)
	Stats(ctx context.Context, f models.StatsFilter) (*models.SignalStats, error)
	StatsBySymbol(ctx context.Context, f models.StatsFilter) ([]*models.SignalStats, error)
	Health(ctx context.Context) error
	Close() error
}

// EventLog is the append-only analytics record of detected events.
type EventLog interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, events []models.EventRecord) error
	Query(ctx context.Context, symbol string, kind models.EventKind, limit int) ([]models.EventRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// EventPublisher ships event records to a stream.
type EventPublisher interface {
	PublishBatch(ctx context.Context, events []models.EventRecord) error
	Close() error
}

// PriceSource returns the latest mark price for a symbol.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// DeliveryLog remembers which notification keys were delivered.
type DeliveryLog interface {
	Delivered(ctx context.Context, key string) (bool, error)
	MarkDelivered(ctx context.Context, rec models.DeliveryRecord) error
}

// RetryQueue holds failed notifications until their next attempt is due. It is unbounded.
type RetryQueue interface {
	Push(ctx context.Context, e models.QueueEntry) error
	PopDue(ctx context.Context, now time.Time, max int) ([]models.QueueEntry, error)
	DeadLetter(ctx context.Context, e models.QueueEntry) error
	Len(ctx context.Context) (int, error)
}

// SignalCache keeps the latest signal per symbol for fast reads.
type SignalCache interface {
	PutLatest(ctx context.Context, s *models.Signal) error
	Latest(ctx context.Context, symbol string) (*models.Signal, error)
}

// Metrics is the process-wide metrics sink. Implementations are safe for concurrent use.
type Metrics interface {
	RecordEvent(symbol string, kind models.EventKind)
	RecordEventDropped(reason string)
	RecordSignal(symbol string, dir models.Direction, score float64)
	RecordSignalRejected(reason string)
	RecordOutcome(symbol string, outcome models.Outcome, returnPct float64)
	RecordNotification(result string)
	RecordQueueDepth(queue string, depth int)
	RecordSubscribers(n int)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	Snapshot() map[string]float64
}
