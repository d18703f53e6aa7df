package models

import (
	"fmt"
	"time"
)

// EventKind names one of the discrete market conditions the detector recognises.
type EventKind string

const (
	EventLiquidationSpike  EventKind = "liquidation_spike"
	EventOIExpansion       EventKind = "oi_expansion"
	EventATRExpansion      EventKind = "atr_expansion"
	EventStructureBreakout EventKind = "structure_breakout"
	EventImbalanceFlip     EventKind = "imbalance_flip"
	EventFundingExtreme    EventKind = "funding_extreme"
)

// EventKinds lists every kind in a stable order.
var EventKinds = []EventKind{
	EventLiquidationSpike,
	EventOIExpansion,
	EventATRExpansion,
	EventStructureBreakout,
	EventImbalanceFlip,
	EventFundingExtreme,
}

func (k EventKind) Valid() bool {
	switch k {
	case EventLiquidationSpike, EventOIExpansion, EventATRExpansion,
		EventStructureBreakout, EventImbalanceFlip, EventFundingExtreme:
		return true
	}
	return false
}

func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// Bias is a directional hint carried by some events.
type Bias string

const (
	BiasNone    Bias = ""
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
)

// EventDetail is the kind-specific payload of an Event.
type EventDetail interface {
	Kind() EventKind
	Bias() Bias
	Map() map[string]any
}

type LiquidationSpikeDetail struct {
	TotalUSD float64
	Ratio    float64
	ZScore   float64
	Side     Bias
}

func (LiquidationSpikeDetail) Kind() EventKind { return EventLiquidationSpike }
func (d LiquidationSpikeDetail) Bias() Bias    { return d.Side }
func (d LiquidationSpikeDetail) Map() map[string]any {
	return map[string]any{"liq_total_usd": d.TotalUSD, "liq_ratio": d.Ratio, "zscore": d.ZScore, "bias": string(d.Side)}
}

type OIExpansionDetail struct {
	DeltaPct float64
}

func (OIExpansionDetail) Kind() EventKind { return EventOIExpansion }
func (OIExpansionDetail) Bias() Bias      { return BiasNone }
func (d OIExpansionDetail) Map() map[string]any {
	return map[string]any{"oi_delta_pct": d.DeltaPct}
}

type ATRExpansionDetail struct {
	RangeExpansion float64
}

func (ATRExpansionDetail) Kind() EventKind { return EventATRExpansion }
func (ATRExpansionDetail) Bias() Bias      { return BiasNone }
func (d ATRExpansionDetail) Map() map[string]any {
	return map[string]any{"range_expansion": d.RangeExpansion}
}

type BreakoutDetail struct {
	Direction Bias
	Level     float64
}

func (BreakoutDetail) Kind() EventKind { return EventStructureBreakout }
func (d BreakoutDetail) Bias() Bias    { return d.Direction }
func (d BreakoutDetail) Map() map[string]any {
	return map[string]any{"direction": string(d.Direction), "level": d.Level}
}

type ImbalanceFlipDetail struct {
	From      float64
	To        float64
	Direction Bias
}

func (ImbalanceFlipDetail) Kind() EventKind { return EventImbalanceFlip }
func (d ImbalanceFlipDetail) Bias() Bias    { return d.Direction }
func (d ImbalanceFlipDetail) Map() map[string]any {
	return map[string]any{"from": d.From, "to": d.To, "direction": string(d.Direction)}
}

type FundingExtremeDetail struct {
	Rate   float64
	ZScore float64
	Side   Bias
}

func (FundingExtremeDetail) Kind() EventKind { return EventFundingExtreme }
func (d FundingExtremeDetail) Bias() Bias    { return d.Side }
func (d FundingExtremeDetail) Map() map[string]any {
	return map[string]any{"funding_rate": d.Rate, "zscore": d.ZScore, "bias": string(d.Side)}
}

// Event is an immutable detection emitted once and consumed at most once by the scorer.
type Event struct {
	ID        string
	Symbol    string
	Kind      EventKind
	Timestamp time.Time
	Strength  float64
	Detail    EventDetail
}

// Bias is the detail's directional hint, or none when the event has no detail.
func (e Event) Bias() Bias {
	if e.Detail == nil {
		return BiasNone
	}
	return e.Detail.Bias()
}

// DetailMap flattens the detail for storage and wire formats.
func (e Event) DetailMap() map[string]any {
	if e.Detail == nil {
		return map[string]any{}
	}
	return e.Detail.Map()
}

// EventRecord is the stored shape of an event.
type EventRecord struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Symbol    string         `json:"symbol"`
	EventType string         `json:"event_type"`
	Strength  float64        `json:"strength"`
	Details   map[string]any `json:"details"`
}

func (e Event) Record() EventRecord {
	return EventRecord{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Symbol:    e.Symbol,
		EventType: string(e.Kind),
		Strength:  e.Strength,
		Details:   e.DetailMap(),
	}
}
