package pricefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	domrepo "SignalFlow/internal/domain/repository"
)

// RESTSource asks the exchange directly for the mark price.
type RESTSource struct {
	client *resty.Client
}

func NewRESTSource(baseURL string, timeout time.Duration) *RESTSource {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	return &RESTSource{client: client}
}

var _ domrepo.PriceSource = (*RESTSource)(nil)

type premiumIndex struct {
	Symbol    string `json:"symbol"`
	MarkPrice string `json:"markPrice"`
}

func (s *RESTSource) Name() string { return "rest" }

func (s *RESTSource) Price(ctx context.Context, symbol string) (float64, error) {
	var out premiumIndex
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/fapi/v1/premiumIndex")
	if err != nil {
		return 0, fmt.Errorf("premium index %s: %w", symbol, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("premium index %s: status %d", symbol, resp.StatusCode())
	}
	p, ok := positive(out.MarkPrice)
	if !ok {
		return 0, domrepo.ErrUnavailable
	}
	return p, nil
}
