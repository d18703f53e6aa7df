package pricefeed

import (
	"context"
	"errors"
	"fmt"

	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
)

// NamedSource is a PriceSource that can name itself in logs.
type NamedSource interface {
	domrepo.PriceSource
	Name() string
}

// Chain tries each source in order and returns the first positive price.
type Chain struct {
	sources []NamedSource
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewChain(metrics domrepo.Metrics, log *logger.Logger, sources ...NamedSource) *Chain {
	if log == nil {
		log = logger.NewNop()
	}
	return &Chain{sources: sources, metrics: metrics, log: log}
}

var _ domrepo.PriceSource = (*Chain)(nil)

func (c *Chain) Price(ctx context.Context, symbol string) (float64, error) {
	var errs []error
	for _, src := range c.sources {
		p, err := src.Price(ctx, symbol)
		if err == nil && p > 0 {
			if c.metrics != nil {
				c.metrics.RecordLastPrice(symbol, p)
			}
			return p, nil
		}
		if err == nil {
			err = domrepo.ErrUnavailable
		}
		if !errors.Is(err, domrepo.ErrUnavailable) {
			c.log.Debug("price source failed",
				logger.String("source", src.Name()),
				logger.String("symbol", symbol),
				logger.Error(err),
			)
		}
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return 0, domrepo.ErrUnavailable
	}
	return 0, fmt.Errorf("no price for %s: %w", symbol, errors.Join(errs...))
}
