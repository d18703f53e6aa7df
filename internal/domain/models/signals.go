package models

import "time"

// SignalStats summarises signal performance. Wins are tp_hit, losses are sl_hit.
type SignalStats struct {
	Symbol         string  `json:"symbol,omitempty"`
	Total          int     `json:"total"`
	Open           int     `json:"open"`
	Closed         int     `json:"closed"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	Expired        int     `json:"expired"`
	Manual         int     `json:"manual"`
	Reversed       int     `json:"reversed"`
	Longs          int     `json:"longs"`
	Shorts         int     `json:"shorts"`
	WinRate        float64 `json:"win_rate"`
	AvgReturnPct   float64 `json:"avg_return_pct"`
	AvgDurationSec float64 `json:"avg_duration_sec"`
	AvgScore       float64 `json:"avg_score"`
}

// StatsFilter narrows stats and listings. Zero values mean no constraint.
type StatsFilter struct {
	Symbol string
	Since  time.Time
}

// SignalFilter drives list queries.
type SignalFilter struct {
	Symbol   string
	Outcome  *Outcome
	OpenOnly bool
	Limit    int
	Offset   int
}

// OpenSignalView is an open signal with its live mark.
type OpenSignalView struct {
	Signal        *Signal `json:"signal"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPct float64 `json:"unrealized_pct"`
	AgeSec        float64 `json:"age_sec"`
}
