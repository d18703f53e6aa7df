package repository

import (
	"context"
	"fmt"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/queue"
)

// DelayRetryQueue stores notification entries in a delay queue keyed by next attempt time.
type DelayRetryQueue struct {
	q queue.DelayQueue
}

func NewDelayRetryQueue(q queue.DelayQueue) *DelayRetryQueue {
	return &DelayRetryQueue{q: q}
}

var _ domrepo.RetryQueue = (*DelayRetryQueue)(nil)

func (r *DelayRetryQueue) Push(ctx context.Context, e models.QueueEntry) error {
	b, err := queue.Encode(e)
	if err != nil {
		return err
	}
	return r.q.Schedule(ctx, b, e.NextAttemptAt)
}

// PopDue skips payloads that no longer decode; they could only come from an older format.
func (r *DelayRetryQueue) PopDue(ctx context.Context, now time.Time, max int) ([]models.QueueEntry, error) {
	raw, err := r.q.PopDue(ctx, now, max)
	if err != nil {
		return nil, err
	}
	out := make([]models.QueueEntry, 0, len(raw))
	for _, b := range raw {
		e, err := queue.Decode[models.QueueEntry](b)
		if err != nil {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (r *DelayRetryQueue) DeadLetter(ctx context.Context, e models.QueueEntry) error {
	b, err := queue.Encode(e)
	if err != nil {
		return err
	}
	if err := r.q.DeadLetter(ctx, b); err != nil {
		return fmt.Errorf("dead letter %s: %w", e.Key, err)
	}
	return nil
}

func (r *DelayRetryQueue) Len(ctx context.Context) (int, error) {
	return r.q.Len(ctx)
}
