package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// popDueScript takes due members and removes them in one step so that
// concurrent consumers never see the same payload twice.
var popDueScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #items > 0 then
	redis.call('ZREM', KEYS[1], unpack(items))
end
return items
`)

// RedisDelayQueue keeps scheduled payloads in a sorted set scored by due time in
// milliseconds, and dead letters in a list.
type RedisDelayQueue struct {
	client    *redis.Client
	keyPrefix string
}

// RedisQueueOption configures RedisDelayQueue.
type RedisQueueOption func(*RedisDelayQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisDelayQueue) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

func NewRedisDelayQueue(client *redis.Client, opts ...RedisQueueOption) *RedisDelayQueue {
	q := &RedisDelayQueue{client: client, keyPrefix: "signalflow:queue"}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var _ DelayQueue = (*RedisDelayQueue)(nil)

func (r *RedisDelayQueue) Schedule(ctx context.Context, payload []byte, due time.Time) error {
	err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd retry: %w", err)
	}
	return nil
}

func (r *RedisDelayQueue) PopDue(ctx context.Context, now time.Time, max int) ([][]byte, error) {
	if max <= 0 {
		max = 100
	}
	res, err := popDueScript.Run(ctx, r.client, []string{r.retryKey()},
		strconv.FormatInt(now.UnixMilli(), 10), max).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop due: %w", err)
	}
	out := make([][]byte, len(res))
	for i, s := range res {
		out[i] = []byte(s)
	}
	return out, nil
}

func (r *RedisDelayQueue) DeadLetter(ctx context.Context, payload []byte) error {
	if err := r.client.LPush(ctx, r.deadLetterKey(), payload).Err(); err != nil {
		return fmt.Errorf("lpush dlq: %w", err)
	}
	return nil
}

func (r *RedisDelayQueue) Len(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.retryKey()).Result()
	return int(n), err
}

func (r *RedisDelayQueue) DeadLen(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.deadLetterKey()).Result()
	return int(n), err
}

func (r *RedisDelayQueue) retryKey() string {
	return fmt.Sprintf("%s:retry", r.keyPrefix)
}

func (r *RedisDelayQueue) deadLetterKey() string {
	return fmt.Sprintf("%s:dlq", r.keyPrefix)
}
