package models

import (
	"fmt"
	"time"
)

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

func (d Direction) Valid() bool { return d == Long || d == Short }

func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Sign is +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

func ParseDirection(s string) (Direction, error) {
	d := Direction(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

// Components are the seven normalised sub-scores behind an aggregate score.
type Components struct {
	Trend        float64 `json:"trend"`
	Liquidation  float64 `json:"liquidation"`
	Volatility   float64 `json:"volatility"`
	VWAP         float64 `json:"vwap"`
	OpenInterest float64 `json:"open_interest"`
	Structure    float64 `json:"structure"`
	EventQuality float64 `json:"event_quality"`
}

// Weights for the aggregate score. They sum to 1.
type Weights struct {
	Trend, Liquidation, Volatility, VWAP, OpenInterest, Structure, EventQuality float64
}

var DefaultWeights = Weights{
	Trend:        0.20,
	Liquidation:  0.15,
	Volatility:   0.15,
	VWAP:         0.10,
	OpenInterest: 0.15,
	Structure:    0.15,
	EventQuality: 0.10,
}

func (c Components) Aggregate(w Weights) float64 {
	return c.Trend*w.Trend +
		c.Liquidation*w.Liquidation +
		c.Volatility*w.Volatility +
		c.VWAP*w.VWAP +
		c.OpenInterest*w.OpenInterest +
		c.Structure*w.Structure +
		c.EventQuality*w.EventQuality
}

// Votes counts directional evidence collected while scoring.
type Votes struct {
	Bull int `json:"bull"`
	Bear int `json:"bear"`
}

// Direction is long when bulls are at least as many as bears.
func (v Votes) Direction() Direction {
	if v.Bull >= v.Bear {
		return Long
	}
	return Short
}

// TimeframeAlignment is the vote of a single timeframe.
type TimeframeAlignment struct {
	Timeframe string    `json:"timeframe"`
	Direction Direction `json:"direction,omitempty"` // empty when neutral
	Bull      int       `json:"bull"`
	Bear      int       `json:"bear"`
}

// MTFResult is the cross-timeframe agreement attached to a signal.
type MTFResult struct {
	Aligned    bool                 `json:"aligned"`
	Direction  Direction            `json:"direction,omitempty"`
	Count      int                  `json:"count"`
	Total      int                  `json:"total"`
	Score      float64              `json:"score"`
	Timeframes []TimeframeAlignment `json:"timeframes"`
}

// Signal is a scored, directional trade idea with fixed entry, target and stop.
type Signal struct {
	ID            string      `json:"id"`
	Symbol        string      `json:"symbol"`
	Direction     Direction   `json:"direction"`
	Score         float64     `json:"score"`
	MTFScore      float64     `json:"mtf_score"`
	EntryPrice    float64     `json:"entry_price"`
	TargetPrice   float64     `json:"tp_price"`
	StopPrice     float64     `json:"sl_price"`
	ATR           float64     `json:"atr"`
	Components    Components  `json:"components"`
	Votes         Votes       `json:"votes"`
	TriggerEvents []EventKind `json:"trigger_events"`
	MTF           *MTFResult  `json:"mtf,omitempty"`
	CreatedAt     time.Time   `json:"timestamp"`

	Outcome    *Outcome   `json:"outcome"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	ClosePrice *float64   `json:"close_price,omitempty"`
	ReturnPct  *float64   `json:"return_pct,omitempty"`
}

func (s *Signal) IsOpen() bool { return s.Outcome == nil }

// Clone returns a deep copy so callers can hand signals across goroutines.
func (s *Signal) Clone() *Signal {
	c := *s
	c.TriggerEvents = append([]EventKind(nil), s.TriggerEvents...)
	if s.MTF != nil {
		m := *s.MTF
		m.Timeframes = append([]TimeframeAlignment(nil), s.MTF.Timeframes...)
		c.MTF = &m
	}
	if s.Outcome != nil {
		o := *s.Outcome
		c.Outcome = &o
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		c.ClosedAt = &t
	}
	if s.ClosePrice != nil {
		p := *s.ClosePrice
		c.ClosePrice = &p
	}
	if s.ReturnPct != nil {
		r := *s.ReturnPct
		c.ReturnPct = &r
	}
	return &c
}

// Apply writes a terminal transition into the signal.
func (s *Signal) Apply(u OutcomeUpdate) {
	o := u.Outcome
	closed := u.ClosedAt
	price := u.ClosePrice
	ret := u.ReturnPct
	s.Outcome = &o
	s.ClosedAt = &closed
	s.ClosePrice = &price
	s.ReturnPct = &ret
}

// Duration is the time between creation and close, zero while open.
func (s *Signal) Duration() time.Duration {
	if s.ClosedAt == nil {
		return 0
	}
	return s.ClosedAt.Sub(s.CreatedAt)
}

// RiskReward is the ratio of target distance to stop distance.
func (s *Signal) RiskReward() float64 {
	risk := abs(s.EntryPrice - s.StopPrice)
	if risk == 0 {
		return 0
	}
	return abs(s.TargetPrice-s.EntryPrice) / risk
}

// OutcomeUpdate is the single terminal write for a signal.
type OutcomeUpdate struct {
	Outcome    Outcome
	ClosedAt   time.Time
	ClosePrice float64
	ReturnPct  float64
}

// Levels derives target and stop from entry and ATR.
// Long: entry+atr*tp, entry-atr*sl. Short mirrors both.
func Levels(dir Direction, entry, atr, tpMult, slMult float64) (target, stop float64) {
	sign := dir.Sign()
	return entry + sign*atr*tpMult, entry - sign*atr*slMult
}

// HitTarget reports whether price has reached the target for the direction.
func HitTarget(dir Direction, price, target float64) bool {
	if dir == Long {
		return price >= target
	}
	return price <= target
}

// HitStop reports whether price has reached the stop for the direction.
func HitStop(dir Direction, price, stop float64) bool {
	if dir == Long {
		return price <= stop
	}
	return price >= stop
}

// ReturnPct is the direction-aware percentage move from entry to exit.
func ReturnPct(dir Direction, entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	return dir.Sign() * (exit - entry) / entry * 100
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
