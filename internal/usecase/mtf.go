package usecase

import (
	"context"
	"fmt"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
)

// TimeframeVote classifies a single timeframe snapshot.
func TimeframeVote(tf string, f *models.FeatureSnapshot) models.TimeframeAlignment {
	a := models.TimeframeAlignment{Timeframe: tf}
	switch {
	case f.EMASlope > 0.001:
		a.Bull++
	case f.EMASlope < -0.001:
		a.Bear++
	}
	switch {
	case f.VWAPDistance > 0.005:
		a.Bull++
	case f.VWAPDistance < -0.005:
		a.Bear++
	}
	switch f.Structure {
	case models.StructureUptrend:
		a.Bull++
	case models.StructureDowntrend:
		a.Bear++
	}
	switch f.Breakout {
	case models.BiasBullish:
		a.Bull += 2
	case models.BiasBearish:
		a.Bear += 2
	}
	switch {
	case a.Bull > a.Bear:
		a.Direction = models.Long
	case a.Bear > a.Bull:
		a.Direction = models.Short
	}
	return a
}

// AlignTimeframes folds per-timeframe votes into an MTF result. A side is aligned
// when at least minAligned timeframes agree and it strictly outnumbers the other.
func AlignTimeframes(votes []models.TimeframeAlignment, minAligned int) models.MTFResult {
	res := models.MTFResult{Total: len(votes), Timeframes: votes}
	var bull, bear int
	for _, v := range votes {
		switch v.Direction {
		case models.Long:
			bull++
		case models.Short:
			bear++
		}
	}
	switch {
	case bull >= minAligned && bull > bear:
		res.Aligned, res.Direction, res.Count = true, models.Long, bull
	case bear >= minAligned && bear > bull:
		res.Aligned, res.Direction, res.Count = true, models.Short, bear
	default:
		res.Count = max(bull, bear)
	}
	if res.Total > 0 {
		res.Score = float64(res.Count) / float64(res.Total)
		if res.Aligned && res.Count == res.Total && res.Total >= 3 {
			res.Score += 0.2
		}
		res.Score = clamp01(res.Score)
	}
	return res
}

// defaultReadTimeout bounds a single feature or price read when none is configured.
const defaultReadTimeout = 2 * time.Second

// MTFChecker reads each configured timeframe and computes alignment.
type MTFChecker struct {
	features    domrepo.FeatureSource
	timeframes  []domrepo.Timeframe
	minAligned  int
	readTimeout time.Duration
}

func NewMTFChecker(features domrepo.FeatureSource, timeframes []domrepo.Timeframe, minAligned int, readTimeout time.Duration) *MTFChecker {
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &MTFChecker{features: features, timeframes: timeframes, minAligned: minAligned, readTimeout: readTimeout}
}

// Check fails if any timeframe cannot be read, so the gate never passes on partial data.
func (m *MTFChecker) Check(ctx context.Context, symbol string) (models.MTFResult, error) {
	votes := make([]models.TimeframeAlignment, 0, len(m.timeframes))
	for _, tf := range m.timeframes {
		rctx, cancel := context.WithTimeout(ctx, m.readTimeout)
		snap, err := m.features.TimeframeSnapshot(rctx, symbol, tf)
		cancel()
		if err != nil {
			return models.MTFResult{}, fmt.Errorf("mtf %s %s: %w", symbol, tf, err)
		}
		votes = append(votes, TimeframeVote(string(tf), snap))
	}
	return AlignTimeframes(votes, m.minAligned), nil
}
