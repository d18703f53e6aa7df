package repository

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TF1m, TF5m, TF15m, TF1h, TF4h, TF1d:
		return true
	default:
		return false
	}
}

// DefaultTimeframe is the primary resolution for scoring.
func DefaultTimeframe() Timeframe { return TF5m }

// NormalizeTimeframe converts a raw string to a valid timeframe, or the default.
func NormalizeTimeframe(s string) Timeframe {
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// ParseTimeframes keeps the valid entries in order and drops duplicates.
func ParseTimeframes(raw []string) []Timeframe {
	seen := make(map[Timeframe]struct{}, len(raw))
	out := make([]Timeframe, 0, len(raw))
	for _, s := range raw {
		tf := Timeframe(s)
		if !IsValidTimeframe(tf) {
			continue
		}
		if _, ok := seen[tf]; ok {
			continue
		}
		seen[tf] = struct{}{}
		out = append(out, tf)
	}
	return out
}
