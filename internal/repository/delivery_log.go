package repository

import (
	"context"
	"errors"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/cache"
)

// CacheDeliveryLog remembers delivered notification keys in the cache service for ttl.
type CacheDeliveryLog struct {
	cache cache.Service
	ttl   time.Duration
}

func NewCacheDeliveryLog(c cache.Service, ttl time.Duration) *CacheDeliveryLog {
	return &CacheDeliveryLog{cache: c, ttl: ttl}
}

var _ domrepo.DeliveryLog = (*CacheDeliveryLog)(nil)

func deliveryKey(key string) string {
	return cache.GenerateKey("delivered", key)
}

func (d *CacheDeliveryLog) Delivered(ctx context.Context, key string) (bool, error) {
	return d.cache.Exists(ctx, deliveryKey(key))
}

func (d *CacheDeliveryLog) MarkDelivered(ctx context.Context, rec models.DeliveryRecord) error {
	if rec.Key == "" {
		return domrepo.ErrInvalidInput
	}
	return d.cache.Set(ctx, deliveryKey(rec.Key), rec, d.ttl)
}

// CacheSignalCache keeps the newest signal per symbol.
type CacheSignalCache struct {
	cache cache.Service
	ttl   time.Duration
}

func NewCacheSignalCache(c cache.Service, ttl time.Duration) *CacheSignalCache {
	return &CacheSignalCache{cache: c, ttl: ttl}
}

var _ domrepo.SignalCache = (*CacheSignalCache)(nil)

func latestKey(symbol string) string {
	return cache.GenerateKey("latest", symbol)
}

func (c *CacheSignalCache) PutLatest(ctx context.Context, s *models.Signal) error {
	return c.cache.Set(ctx, latestKey(s.Symbol), s, c.ttl)
}

func (c *CacheSignalCache) Latest(ctx context.Context, symbol string) (*models.Signal, error) {
	var s models.Signal
	if err := c.cache.Get(ctx, latestKey(symbol), &s); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, domrepo.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}
