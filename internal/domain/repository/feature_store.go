package repository

import (
	"context"

	"SignalFlow/internal/domain/models"
)

// Timeframe is a feature resolution bucket.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// FeatureSource provides read-only access to externally computed feature snapshots.
type FeatureSource interface {
	// Snapshot returns the primary snapshot for the symbol.
	Snapshot(ctx context.Context, symbol string) (*models.FeatureSnapshot, error)
	// TimeframeSnapshot returns the snapshot for one timeframe.
	TimeframeSnapshot(ctx context.Context, symbol string, tf Timeframe) (*models.FeatureSnapshot, error)
}
