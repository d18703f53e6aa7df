package http

import (
	"time"

	xutil "SignalFlow/pkg/util"
)

// ParseSince accepts an absolute time or a lookback duration such as "24h".
func ParseSince(s string, now time.Time) time.Time { return xutil.ParseSince(s, now) }
