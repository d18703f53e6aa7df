package marketdata

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	applogger "SignalFlow/pkg/logger"
)

// RedisSource reads the feature hashes written by the external feature engine.
type RedisSource struct {
	client  *redis.Client
	primary domrepo.Timeframe
	l       *applogger.Logger
}

func NewRedisSource(client *redis.Client, primary domrepo.Timeframe, l *applogger.Logger) *RedisSource {
	if l == nil {
		l = applogger.NewNop()
	}
	return &RedisSource{client: client, primary: primary, l: l}
}

var _ domrepo.FeatureSource = (*RedisSource)(nil)

// Snapshot reads {symbol}:features.
func (s *RedisSource) Snapshot(ctx context.Context, symbol string) (*models.FeatureSnapshot, error) {
	return s.read(ctx, symbol, symbol+":features", string(s.primary))
}

// TimeframeSnapshot reads {symbol}:features:{tf}.
func (s *RedisSource) TimeframeSnapshot(ctx context.Context, symbol string, tf domrepo.Timeframe) (*models.FeatureSnapshot, error) {
	return s.read(ctx, symbol, fmt.Sprintf("%s:features:%s", symbol, tf), string(tf))
}

func (s *RedisSource) read(ctx context.Context, symbol, key, tf string) (*models.FeatureSnapshot, error) {
	start := time.Now()
	h, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(h) == 0 {
		return nil, domrepo.ErrNotFound
	}
	snap, err := ParseFeatureHash(symbol, tf, h)
	if err != nil {
		s.l.Warn("malformed feature hash",
			applogger.String("key", key),
			applogger.Error(err),
		)
		return nil, err
	}
	s.l.Debug("features read",
		applogger.String("key", key),
		applogger.Int("fields", len(h)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return snap, nil
}

// ParseFeatureHash converts the string fields of a feature hash into a snapshot.
// Missing fields stay zero; fields that are present but not numbers are an error.
func ParseFeatureHash(symbol, tf string, h map[string]string) (*models.FeatureSnapshot, error) {
	p := hashParser{h: h}
	snap := &models.FeatureSnapshot{
		Symbol:    symbol,
		Timeframe: tf,
		Structure: models.StructureState(h["structure_state"]),
		Breakout:  parseBias(h["breakout"]),

		EMASlope:       p.float("ema_slope"),
		VWAPDistance:   p.float("vwap_distance"),
		ATR:            p.float("atr"),
		RangeExpansion: p.float("range_expansion"),
		BreakoutLevel:  p.float("breakout_level"),
		LiqTotalUSD:    p.float("liq_total_usd"),
		LiqRatio:       p.float("liq_ratio"),
		OIDelta:        p.float("oi_delta"),
		OBImbalance:    p.float("ob_imbalance"),
		FundingRate:    p.float("funding_rate"),
		FundingZScore:  p.float("funding_zscore"),
		MarkPrice:      p.float("mark_price"),
		ClosePrice:     p.float("close"),
	}
	if v, ok := h["timeframe"]; ok && v != "" && tf == "" {
		snap.Timeframe = v
	}
	_, snap.HasFundingZ = h["funding_zscore"]
	_, snap.HasOBImbalance = h["ob_imbalance"]
	_, snap.HasLiquidations = h["liq_total_usd"]

	if ts := p.float("ts"); ts > 0 {
		sec, frac := math.Modf(ts)
		snap.Timestamp = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	if p.err != nil {
		return nil, p.err
	}
	return snap, nil
}

type hashParser struct {
	h   map[string]string
	err error
}

func (p *hashParser) float(field string) float64 {
	v, ok := p.h[field]
	if !ok || v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		if p.err == nil {
			p.err = fmt.Errorf("field %s: %q is not a number", field, v)
		}
		return 0
	}
	return f
}

func parseBias(s string) models.Bias {
	switch models.Bias(s) {
	case models.BiasBullish, models.BiasBearish:
		return models.Bias(s)
	}
	return models.BiasNone
}
