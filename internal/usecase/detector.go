package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
	"SignalFlow/pkg/util"
)

// EventSink accepts detected events without blocking.
type EventSink interface {
	Push(ev models.Event) error
}

// EventRecorderSink receives a copy of every event for the analytics log.
type EventRecorderSink interface {
	Record(ev models.Event)
}

type DetectorConfig struct {
	Symbols                 []string
	Interval                time.Duration
	LiqSpikeThreshold       float64
	LiqWindow               int
	OIExpansionThreshold    float64 // percent
	ATRExpansionThreshold   float64
	ImbalanceFlipThreshold  float64
	FundingExtremeThreshold float64
	FundingWindow           int
	ReadTimeout             time.Duration
}

// minLiqSamples is how many observations the liquidation window needs before
// the z-score rule replaces the ratio-to-previous rule.
const minLiqSamples = 5

type symbolState struct {
	prev    *models.FeatureSnapshot
	liq     *util.Ring[float64]
	funding *util.Ring[float64]
}

// EventDetector samples feature snapshots and turns threshold crossings into events.
type EventDetector struct {
	cfg      DetectorConfig
	features domrepo.FeatureSource
	sink     EventSink
	recorder EventRecorderSink
	metrics  domrepo.Metrics
	log      *logger.Logger
	now      func() time.Time

	mu    sync.Mutex
	state map[string]*symbolState
}

func NewEventDetector(cfg DetectorConfig, features domrepo.FeatureSource, sink EventSink, recorder EventRecorderSink, metrics domrepo.Metrics, log *logger.Logger) *EventDetector {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = cfg.Interval
	}
	return &EventDetector{
		cfg:      cfg,
		features: features,
		sink:     sink,
		recorder: recorder,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		state:    make(map[string]*symbolState),
	}
}

// Run scans every symbol once per interval until ctx is done.
func (d *EventDetector) Run(ctx context.Context) {
	d.log.Info("event detector started",
		logger.Strings("symbols", d.cfg.Symbols),
		logger.Duration("interval_ms", d.cfg.Interval),
	)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("event detector stopped")
			return
		case <-ticker.C:
			for _, sym := range d.cfg.Symbols {
				if ctx.Err() != nil {
					return
				}
				if _, err := d.Scan(ctx, sym); err != nil && !errors.Is(err, context.Canceled) {
					d.metrics.RecordError("detector_scan")
					d.log.Warn("detector scan failed", logger.String("symbol", sym), logger.Error(err))
				}
			}
		}
	}
}

// Scan reads one snapshot for symbol, evaluates every rule and emits what fired.
// A failed read is not retried; the next tick samples again.
func (d *EventDetector) Scan(ctx context.Context, symbol string) ([]models.Event, error) {
	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, d.cfg.ReadTimeout)
	snap, err := d.features.Snapshot(rctx, symbol)
	cancel()
	if err != nil {
		return nil, err
	}
	events := d.Evaluate(snap)
	for _, ev := range events {
		if err := d.sink.Push(ev); err != nil {
			d.log.Warn("event rejected by queue",
				logger.String("symbol", ev.Symbol),
				logger.String("kind", string(ev.Kind)),
				logger.Error(err),
			)
			continue
		}
		d.metrics.RecordEvent(ev.Symbol, ev.Kind)
		if d.recorder != nil {
			d.recorder.Record(ev)
		}
		d.log.Debug("event detected",
			logger.String("symbol", ev.Symbol),
			logger.String("kind", string(ev.Kind)),
			logger.Float64("strength", ev.Strength),
		)
	}
	d.metrics.RecordLatency("detector_scan", time.Since(start).Seconds())
	return events, nil
}

// Evaluate applies the rules to snap against the symbol's history, then folds snap
// into that history.
func (d *EventDetector) Evaluate(snap *models.FeatureSnapshot) []models.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.stateLocked(snap.Symbol)
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}

	var out []models.Event
	emit := func(kind models.EventKind, strength float64, detail models.EventDetail) {
		out = append(out, models.Event{
			ID:        uuid.NewString(),
			Symbol:    snap.Symbol,
			Kind:      kind,
			Timestamp: ts,
			Strength:  strength,
			Detail:    detail,
		})
	}

	if detail, z, ok := d.liquidationSpike(st, snap); ok {
		emit(models.EventLiquidationSpike, z, detail)
	}
	if pct := snap.OIDelta * 100; math.Abs(snap.OIDelta) > d.cfg.OIExpansionThreshold/100 {
		emit(models.EventOIExpansion, math.Abs(pct), models.OIExpansionDetail{DeltaPct: pct})
	}
	if snap.RangeExpansion > d.cfg.ATRExpansionThreshold {
		emit(models.EventATRExpansion, snap.RangeExpansion, models.ATRExpansionDetail{RangeExpansion: snap.RangeExpansion})
	}
	if b := snap.Breakout; b != models.BiasNone && (st.prev == nil || st.prev.Breakout != b) {
		emit(models.EventStructureBreakout, 1, models.BreakoutDetail{Direction: b, Level: snap.BreakoutLevel})
	}
	if detail, ok := d.imbalanceFlip(st, snap); ok {
		emit(models.EventImbalanceFlip, math.Abs(detail.To-detail.From), detail)
	}
	if detail, ok := d.fundingExtreme(st, snap); ok {
		emit(models.EventFundingExtreme, math.Abs(detail.ZScore), detail)
	}

	cp := *snap
	st.prev = &cp
	return out
}

func (d *EventDetector) stateLocked(symbol string) *symbolState {
	st, ok := d.state[symbol]
	if !ok {
		st = &symbolState{
			liq:     util.NewRing[float64](d.cfg.LiqWindow),
			funding: util.NewRing[float64](d.cfg.FundingWindow),
		}
		d.state[symbol] = st
	}
	return st
}

func (d *EventDetector) liquidationSpike(st *symbolState, snap *models.FeatureSnapshot) (models.LiquidationSpikeDetail, float64, bool) {
	if !snap.HasLiquidations {
		return models.LiquidationSpikeDetail{}, 0, false
	}
	cur := snap.LiqTotalUSD
	window := st.liq.Values()
	st.liq.Push(cur)

	var strength float64
	var fired bool
	if len(window) >= minLiqSamples {
		strength = util.ZScore(window, cur)
		fired = strength > d.cfg.LiqSpikeThreshold
	} else if prev, ok := lastOf(window); ok && prev > 0 {
		strength = cur / prev
		fired = cur > prev*d.cfg.LiqSpikeThreshold
	}
	if !fired {
		return models.LiquidationSpikeDetail{}, 0, false
	}
	side := models.BiasBullish
	if snap.LiqRatio > 1 {
		side = models.BiasBearish
	}
	return models.LiquidationSpikeDetail{
		TotalUSD: cur,
		Ratio:    snap.LiqRatio,
		ZScore:   strength,
		Side:     side,
	}, strength, true
}

func (d *EventDetector) imbalanceFlip(st *symbolState, snap *models.FeatureSnapshot) (models.ImbalanceFlipDetail, bool) {
	if !snap.HasOBImbalance || st.prev == nil || !st.prev.HasOBImbalance {
		return models.ImbalanceFlipDetail{}, false
	}
	from, to := st.prev.OBImbalance, snap.OBImbalance
	if from == 0 || (from > 0) == (to > 0) || to == 0 || math.Abs(to) < d.cfg.ImbalanceFlipThreshold {
		return models.ImbalanceFlipDetail{}, false
	}
	dir := models.BiasBullish
	if to < 0 {
		dir = models.BiasBearish
	}
	return models.ImbalanceFlipDetail{From: from, To: to, Direction: dir}, true
}

func (d *EventDetector) fundingExtreme(st *symbolState, snap *models.FeatureSnapshot) (models.FundingExtremeDetail, bool) {
	window := st.funding.Values()
	st.funding.Push(snap.FundingRate)

	z := snap.FundingZScore
	if !snap.HasFundingZ {
		if len(window) < 2 {
			return models.FundingExtremeDetail{}, false
		}
		z = util.ZScore(window, snap.FundingRate)
	}
	if math.Abs(z) <= d.cfg.FundingExtremeThreshold {
		return models.FundingExtremeDetail{}, false
	}
	// crowded longs pay funding, so an extreme positive reading leans bearish
	side := models.BiasBullish
	if z > 0 {
		side = models.BiasBearish
	}
	return models.FundingExtremeDetail{Rate: snap.FundingRate, ZScore: z, Side: side}, true
}

func lastOf(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	return xs[len(xs)-1], true
}
