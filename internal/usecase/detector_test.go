package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
	"SignalFlow/pkg/metrics"
)

type snapshotFeed struct {
	snaps map[string]*models.FeatureSnapshot
	err   error
}

func (f *snapshotFeed) Snapshot(_ context.Context, symbol string) (*models.FeatureSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.snaps[symbol]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return s, nil
}

func (f *snapshotFeed) TimeframeSnapshot(ctx context.Context, symbol string, _ domrepo.Timeframe) (*models.FeatureSnapshot, error) {
	return f.Snapshot(ctx, symbol)
}

// stalledFeatures blocks every read until the caller's context ends.
type stalledFeatures struct{}

func (stalledFeatures) Snapshot(ctx context.Context, _ string) (*models.FeatureSnapshot, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledFeatures) TimeframeSnapshot(ctx context.Context, _ string, _ domrepo.Timeframe) (*models.FeatureSnapshot, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type sliceSink struct {
	events []models.Event
	err    error
}

func (s *sliceSink) Push(ev models.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

type sliceRecorder struct{ events []models.Event }

func (r *sliceRecorder) Record(ev models.Event) { r.events = append(r.events, ev) }

func testDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Symbols:                 []string{"BTCUSDT"},
		Interval:                time.Second,
		LiqSpikeThreshold:       3.0,
		LiqWindow:               20,
		OIExpansionThreshold:    5.0,
		ATRExpansionThreshold:   1.5,
		ImbalanceFlipThreshold:  0.3,
		FundingExtremeThreshold: 2.5,
		FundingWindow:           20,
	}
}

func newTestDetector(feed domrepo.FeatureSource, sink EventSink, rec EventRecorderSink) (*EventDetector, *metrics.Recorder) {
	m := metrics.New(prometheus.NewRegistry())
	return NewEventDetector(testDetectorConfig(), feed, sink, rec, m, logger.NewNop()), m
}

func kindsOf(events []models.Event) []models.EventKind {
	out := make([]models.EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func snapAt(ts time.Time) *models.FeatureSnapshot {
	return &models.FeatureSnapshot{Symbol: "BTCUSDT", Timestamp: ts}
}

func TestDetectorOIAndATR(t *testing.T) {
	d, _ := newTestDetector(nil, nil, nil)
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	s := snapAt(ts)
	s.OIDelta = 0.06
	s.RangeExpansion = 1.8
	events := d.Evaluate(s)
	require.Len(t, events, 2)

	assert.Equal(t, models.EventOIExpansion, events[0].Kind)
	assert.InDelta(t, 6.0, events[0].Strength, 1e-9)
	assert.InDelta(t, 6.0, events[0].Detail.(models.OIExpansionDetail).DeltaPct, 1e-9)
	assert.Equal(t, ts, events[0].Timestamp)
	assert.NotEmpty(t, events[0].ID)

	assert.Equal(t, models.EventATRExpansion, events[1].Kind)
	assert.InDelta(t, 1.8, events[1].Strength, 1e-9)

	// exactly at the threshold does not fire
	s = snapAt(ts)
	s.OIDelta = -0.05
	s.RangeExpansion = 1.5
	assert.Empty(t, d.Evaluate(s))

	s = snapAt(ts)
	s.OIDelta = -0.08
	events = d.Evaluate(s)
	require.Len(t, events, 1)
	assert.InDelta(t, 8.0, events[0].Strength, 1e-9)
	assert.InDelta(t, -8.0, events[0].Detail.(models.OIExpansionDetail).DeltaPct, 1e-9)
}

func TestDetectorBreakoutFiresOnChange(t *testing.T) {
	d, _ := newTestDetector(nil, nil, nil)
	ts := time.Now()

	s := snapAt(ts)
	s.Breakout = models.BiasBullish
	s.BreakoutLevel = 50500
	events := d.Evaluate(s)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventStructureBreakout, events[0].Kind)
	assert.Equal(t, models.BiasBullish, events[0].Bias())
	assert.Equal(t, 50500.0, events[0].Detail.(models.BreakoutDetail).Level)

	// same breakout on the next sample is not a new event
	assert.Empty(t, d.Evaluate(s))

	s2 := snapAt(ts)
	s2.Breakout = models.BiasBearish
	events = d.Evaluate(s2)
	require.Len(t, events, 1)
	assert.Equal(t, models.BiasBearish, events[0].Bias())
}

func TestDetectorImbalanceFlip(t *testing.T) {
	d, _ := newTestDetector(nil, nil, nil)
	ts := time.Now()

	mk := func(v float64) *models.FeatureSnapshot {
		s := snapAt(ts)
		s.OBImbalance = v
		s.HasOBImbalance = true
		return s
	}

	assert.Empty(t, d.Evaluate(mk(0.4)))
	events := d.Evaluate(mk(-0.5))
	require.Len(t, events, 1)
	detail := events[0].Detail.(models.ImbalanceFlipDetail)
	assert.Equal(t, 0.4, detail.From)
	assert.Equal(t, -0.5, detail.To)
	assert.Equal(t, models.BiasBearish, detail.Direction)
	assert.InDelta(t, 0.9, events[0].Strength, 1e-9)

	// flip back but too weak
	assert.Empty(t, d.Evaluate(mk(0.1)))
	// no sign change
	assert.Empty(t, d.Evaluate(mk(0.6)))
}

func TestDetectorLiquidationSpike(t *testing.T) {
	d, _ := newTestDetector(nil, nil, nil)
	ts := time.Now()

	mk := func(usd, ratio float64) *models.FeatureSnapshot {
		s := snapAt(ts)
		s.LiqTotalUSD = usd
		s.LiqRatio = ratio
		s.HasLiquidations = true
		return s
	}

	assert.Empty(t, d.Evaluate(mk(1000, 1)))
	// short window: compare with the previous reading
	events := d.Evaluate(mk(4000, 2.5))
	require.Len(t, events, 1)
	detail := events[0].Detail.(models.LiquidationSpikeDetail)
	assert.InDelta(t, 4.0, events[0].Strength, 1e-9)
	assert.Equal(t, models.BiasBearish, detail.Side)

	for _, v := range []float64{1000, 1100, 900} {
		assert.Empty(t, d.Evaluate(mk(v, 1)))
	}
	// window holds 1000,4000,1000,1100,900: z-score rule from here on
	events = d.Evaluate(mk(20000, 0.4))
	require.Len(t, events, 1)
	detail = events[0].Detail.(models.LiquidationSpikeDetail)
	assert.Greater(t, detail.ZScore, 3.0)
	assert.Equal(t, models.BiasBullish, detail.Side)
}

func TestDetectorFundingExtreme(t *testing.T) {
	d, _ := newTestDetector(nil, nil, nil)
	ts := time.Now()

	s := snapAt(ts)
	s.FundingRate = 0.001
	s.FundingZScore = 3.1
	s.HasFundingZ = true
	events := d.Evaluate(s)
	require.Len(t, events, 1)
	detail := events[0].Detail.(models.FundingExtremeDetail)
	assert.Equal(t, models.BiasBearish, detail.Side)
	assert.InDelta(t, 3.1, events[0].Strength, 1e-9)

	s.FundingZScore = -2.6
	events = d.Evaluate(s)
	require.Len(t, events, 1)
	assert.Equal(t, models.BiasBullish, events[0].Bias())

	s.FundingZScore = 2.5
	assert.Empty(t, d.Evaluate(s))
}

func TestDetectorFundingWindowZScore(t *testing.T) {
	d, _ := newTestDetector(nil, nil, nil)
	ts := time.Now()

	for _, r := range []float64{0.0001, -0.0001, 0.0001, -0.0001} {
		s := snapAt(ts)
		s.FundingRate = r
		assert.Empty(t, d.Evaluate(s))
	}
	s := snapAt(ts)
	s.FundingRate = -0.0009
	events := d.Evaluate(s)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventFundingExtreme, events[0].Kind)
	assert.Equal(t, models.BiasBullish, events[0].Bias())
}

func TestDetectorSymbolsAreIndependent(t *testing.T) {
	d, _ := newTestDetector(nil, nil, nil)
	ts := time.Now()

	a := snapAt(ts)
	a.Breakout = models.BiasBullish
	require.Len(t, d.Evaluate(a), 1)

	b := &models.FeatureSnapshot{Symbol: "ETHUSDT", Timestamp: ts, Breakout: models.BiasBullish}
	events := d.Evaluate(b)
	require.Len(t, events, 1)
	assert.Equal(t, "ETHUSDT", events[0].Symbol)
}

func TestDetectorScanPushesAndRecords(t *testing.T) {
	s := snapAt(time.Now())
	s.OIDelta = 0.1
	s.Breakout = models.BiasBearish
	feed := &snapshotFeed{snaps: map[string]*models.FeatureSnapshot{"BTCUSDT": s}}
	sink := &sliceSink{}
	rec := &sliceRecorder{}
	d, m := newTestDetector(feed, sink, rec)

	events, err := d.Scan(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, []models.EventKind{models.EventOIExpansion, models.EventStructureBreakout}, kindsOf(events))
	assert.Len(t, sink.events, 2)
	assert.Len(t, rec.events, 2)
	assert.Equal(t, 2.0, m.Snapshot()["events_detected"])
}

func TestDetectorScanRejectedPushNotRecorded(t *testing.T) {
	s := snapAt(time.Now())
	s.RangeExpansion = 3
	feed := &snapshotFeed{snaps: map[string]*models.FeatureSnapshot{"BTCUSDT": s}}
	rec := &sliceRecorder{}
	d, m := newTestDetector(feed, &sliceSink{err: errors.New("closed")}, rec)

	events, err := d.Scan(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Empty(t, rec.events)
	assert.Zero(t, m.Snapshot()["events_detected"])
}

func TestDetectorScanReadError(t *testing.T) {
	d, _ := newTestDetector(&snapshotFeed{err: errors.New("redis down")}, &sliceSink{}, nil)
	_, err := d.Scan(context.Background(), "BTCUSDT")
	assert.Error(t, err)

	d, _ = newTestDetector(&snapshotFeed{}, &sliceSink{}, nil)
	_, err = d.Scan(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
}

func TestDetectorScanBoundsSnapshotRead(t *testing.T) {
	cfg := testDetectorConfig()
	cfg.ReadTimeout = 20 * time.Millisecond
	d := NewEventDetector(cfg, stalledFeatures{}, &sliceSink{}, nil, metrics.New(prometheus.NewRegistry()), logger.NewNop())

	start := time.Now()
	_, err := d.Scan(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
