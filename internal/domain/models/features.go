package models

import "time"

// StructureState is the swing structure reported by the feature engine.
type StructureState string

const (
	StructureUptrend   StructureState = "uptrend"
	StructureDowntrend StructureState = "downtrend"
	StructureRange     StructureState = "range"
)

// FeatureSnapshot is one point-in-time view of the externally computed features for a symbol.
// Has* flags distinguish a missing field from a zero value.
type FeatureSnapshot struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time

	EMASlope       float64
	VWAPDistance   float64
	ATR            float64
	RangeExpansion float64
	Structure      StructureState
	Breakout       Bias
	BreakoutLevel  float64

	LiqTotalUSD float64
	LiqRatio    float64

	OIDelta float64 // fractional change

	OBImbalance float64

	FundingRate     float64
	FundingZScore   float64
	HasFundingZ     bool
	HasOBImbalance  bool
	HasLiquidations bool

	MarkPrice  float64
	ClosePrice float64
}

// Price is the mark price, falling back to the last close.
func (f FeatureSnapshot) Price() float64 {
	if f.MarkPrice > 0 {
		return f.MarkPrice
	}
	return f.ClosePrice
}
