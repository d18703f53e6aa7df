package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
)

func bull() *models.FeatureSnapshot {
	return &models.FeatureSnapshot{EMASlope: 0.002, VWAPDistance: 0.01, Structure: models.StructureUptrend}
}

func bear() *models.FeatureSnapshot {
	return &models.FeatureSnapshot{EMASlope: -0.002, VWAPDistance: -0.01, Structure: models.StructureDowntrend}
}

func flat() *models.FeatureSnapshot {
	return &models.FeatureSnapshot{Structure: models.StructureRange}
}

func TestTimeframeVote(t *testing.T) {
	a := TimeframeVote("5m", bull())
	assert.Equal(t, models.Long, a.Direction)
	assert.Equal(t, 3, a.Bull)

	a = TimeframeVote("5m", &models.FeatureSnapshot{EMASlope: 0.002, Breakout: models.BiasBearish})
	assert.Equal(t, models.Short, a.Direction)
	assert.Equal(t, 2, a.Bear)

	assert.Empty(t, TimeframeVote("1h", flat()).Direction)
}

func TestAlignTimeframes(t *testing.T) {
	votes := func(snaps ...*models.FeatureSnapshot) []models.TimeframeAlignment {
		out := make([]models.TimeframeAlignment, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, TimeframeVote("x", s))
		}
		return out
	}

	res := AlignTimeframes(votes(bull(), flat(), flat(), bear()), 2)
	assert.False(t, res.Aligned)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 4, res.Total)

	res = AlignTimeframes(votes(bull(), bull(), flat(), bear()), 2)
	assert.True(t, res.Aligned)
	assert.Equal(t, models.Long, res.Direction)
	assert.InDelta(t, 0.5, res.Score, 1e-9)

	res = AlignTimeframes(votes(bear(), bear(), bear(), bear()), 2)
	assert.True(t, res.Aligned)
	assert.Equal(t, models.Short, res.Direction)
	assert.Equal(t, 1.0, res.Score)

	res = AlignTimeframes(votes(bull(), bull(), bear(), bear()), 2)
	assert.False(t, res.Aligned)
}

type tfFeatures struct {
	byTF map[domrepo.Timeframe]*models.FeatureSnapshot
	err  error
}

func (f *tfFeatures) Snapshot(context.Context, string) (*models.FeatureSnapshot, error) {
	return nil, domrepo.ErrNotFound
}

func (f *tfFeatures) TimeframeSnapshot(_ context.Context, _ string, tf domrepo.Timeframe) (*models.FeatureSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.byTF[tf]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return s, nil
}

func TestMTFCheckerOneOfFour(t *testing.T) {
	tfs := []domrepo.Timeframe{domrepo.TF1m, domrepo.TF5m, domrepo.TF15m, domrepo.TF1h}
	f := &tfFeatures{byTF: map[domrepo.Timeframe]*models.FeatureSnapshot{
		domrepo.TF1m: bull(), domrepo.TF5m: flat(), domrepo.TF15m: flat(), domrepo.TF1h: flat(),
	}}

	res, err := NewMTFChecker(f, tfs, 2, time.Second).Check(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, res.Aligned)
	assert.Len(t, res.Timeframes, 4)
}

func TestMTFCheckerFailsOnMissingTimeframe(t *testing.T) {
	f := &tfFeatures{byTF: map[domrepo.Timeframe]*models.FeatureSnapshot{domrepo.TF1m: bull()}}
	_, err := NewMTFChecker(f, []domrepo.Timeframe{domrepo.TF1m, domrepo.TF5m}, 1, time.Second).Check(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	f = &tfFeatures{err: errors.New("redis down")}
	_, err = NewMTFChecker(f, []domrepo.Timeframe{domrepo.TF1m}, 1, time.Second).Check(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestMTFCheckerBoundsEachRead(t *testing.T) {
	start := time.Now()
	_, err := NewMTFChecker(stalledFeatures{}, []domrepo.Timeframe{domrepo.TF1m, domrepo.TF5m}, 1, 20*time.Millisecond).
		Check(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
