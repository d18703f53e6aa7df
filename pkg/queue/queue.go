package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DelayQueue holds opaque payloads until their due time. It is unbounded.
// Payloads that exhaust their retries are parked in a dead-letter list.
type DelayQueue interface {
	Schedule(ctx context.Context, payload []byte, due time.Time) error
	// PopDue removes and returns up to max payloads whose due time is not after now, earliest first.
	PopDue(ctx context.Context, now time.Time, max int) ([][]byte, error)
	DeadLetter(ctx context.Context, payload []byte) error
	Len(ctx context.Context) (int, error)
	DeadLen(ctx context.Context) (int, error)
}

// Decode unmarshals a payload produced by Encode.
func Decode[T any](payload []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &v, nil
}

func Encode(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
