package pricefeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/util"
)

// RedisSource reads {symbol}:mark_price and falls back to the close of
// {symbol}:kline:{tf}.
type RedisSource struct {
	client  *redis.Client
	primary domrepo.Timeframe
}

func NewRedisSource(client *redis.Client, primary domrepo.Timeframe) *RedisSource {
	return &RedisSource{client: client, primary: primary}
}

var _ domrepo.PriceSource = (*RedisSource)(nil)

func (s *RedisSource) Name() string { return "redis" }

func (s *RedisSource) Price(ctx context.Context, symbol string) (float64, error) {
	mark, err := s.client.HGet(ctx, symbol+":mark_price", "mark_price").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read mark price: %w", err)
	}
	if p, ok := positive(mark); ok {
		return p, nil
	}

	last, err := s.client.HGet(ctx, fmt.Sprintf("%s:kline:%s", symbol, s.primary), "c").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read kline close: %w", err)
	}
	if p, ok := positive(last); ok {
		return p, nil
	}
	return 0, domrepo.ErrUnavailable
}

func positive(s string) (float64, bool) {
	v, ok := util.ParseFloat(s)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}
