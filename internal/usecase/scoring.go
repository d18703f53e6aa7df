package usecase

import (
	"math"

	"SignalFlow/internal/domain/models"
)

// ScoreResult is the outcome of scoring one snapshot plus its buffered events.
type ScoreResult struct {
	Components models.Components
	Votes      models.Votes
	Direction  models.Direction
	Score      float64
}

// ComputeScore derives the seven sub-scores, collects direction votes and aggregates
// them with w. It has no side effects.
func ComputeScore(f *models.FeatureSnapshot, events []models.Event, w models.Weights) ScoreResult {
	var c models.Components
	var v models.Votes

	c.Trend = trendScore(f.EMASlope, &v)
	c.VWAP = vwapScore(f.VWAPDistance, &v)
	c.Liquidation = liquidationScore(f.LiqRatio, &v)
	c.Volatility = clamp01(math.Max(f.RangeExpansion-1, 0) / 2)
	c.OpenInterest = oiScore(f.OIDelta)
	c.Structure = structureScore(f.Structure, f.Breakout, &v)
	c.EventQuality = eventQuality(events, &v)

	return ScoreResult{
		Components: c,
		Votes:      v,
		Direction:  v.Direction(),
		Score:      c.Aggregate(w),
	}
}

func trendScore(slope float64, v *models.Votes) float64 {
	if math.Abs(slope) <= 0.001 {
		return 0
	}
	vote(v, slope > 0)
	return clamp01(math.Abs(slope) / 0.01)
}

func vwapScore(dist float64, v *models.Votes) float64 {
	if dist == 0 {
		return 0
	}
	vote(v, dist > 0)
	return clamp01(math.Abs(dist) / 0.02)
}

// liquidationScore reads the long/short liquidation ratio. Heavy long liquidations
// are bearish pressure, heavy short liquidations bullish.
func liquidationScore(ratio float64, v *models.Votes) float64 {
	switch {
	case ratio > 1.3:
		v.Bear++
		return clamp01((ratio - 1) / 2)
	case ratio > 0 && ratio < 0.7:
		v.Bull++
		return clamp01((1 - ratio) / 0.5)
	default:
		return 0.2
	}
}

func oiScore(delta float64) float64 {
	s := clamp01(math.Abs(delta) * 10)
	if delta < -0.02 {
		s *= 0.5
	}
	return s
}

func structureScore(state models.StructureState, breakout models.Bias, v *models.Votes) float64 {
	var s float64
	switch state {
	case models.StructureUptrend:
		s = 0.6
		v.Bull++
	case models.StructureDowntrend:
		s = 0.6
		v.Bear++
	}
	switch breakout {
	case models.BiasBullish:
		s += 0.4
		v.Bull++
	case models.BiasBearish:
		s += 0.4
		v.Bear++
	}
	return clamp01(s)
}

func eventQuality(events []models.Event, v *models.Votes) float64 {
	kinds := make(map[models.EventKind]struct{}, len(events))
	for _, e := range events {
		kinds[e.Kind] = struct{}{}
		switch e.Bias() {
		case models.BiasBullish:
			v.Bull++
		case models.BiasBearish:
			v.Bear++
		}
	}
	return clamp01(float64(len(kinds)) / 4)
}

func vote(v *models.Votes, bull bool) {
	if bull {
		v.Bull++
	} else {
		v.Bear++
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
