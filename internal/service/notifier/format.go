package notifier

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"

	"SignalFlow/internal/domain/models"
	"SignalFlow/pkg/cache"
	"SignalFlow/pkg/util"
)

// Fingerprint identifies a signal notification: md5 of symbol, direction,
// creation time in nanoseconds and score at four decimals.
func Fingerprint(s *models.Signal) string {
	return cache.HashKey(fmt.Sprintf("%s:%s:%d:%s",
		s.Symbol, s.Direction, s.CreatedAt.UnixNano(), decimal.NewFromFloat(s.Score).StringFixed(4)))
}

// OutcomeKey identifies the single notification for a signal's terminal state.
func OutcomeKey(id string, o models.Outcome) string {
	return fmt.Sprintf("outcome:%s:%s", id, o)
}

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// FormatSignal renders the Telegram HTML for a new signal.
func FormatSignal(s *models.Signal) string {
	var b strings.Builder
	b.WriteString(title(s))
	b.WriteString("\n")
	writeBody(&b, s)
	return b.String()
}

// FormatOutcome renders the Telegram HTML for a closed signal.
func FormatOutcome(s *models.Signal) string {
	var b strings.Builder
	b.WriteString(title(s))
	if s.Outcome != nil {
		info := s.Outcome.Info()
		fmt.Fprintf(&b, " %s %s", info.Emoji, info.Label)
	}
	b.WriteString("\n")
	writeBody(&b, s)

	b.WriteString("\n")
	if s.ClosePrice != nil {
		fmt.Fprintf(&b, "Close: <b>%s</b>\n", fixed(*s.ClosePrice, 4))
	}
	if s.ClosedAt != nil {
		fmt.Fprintf(&b, "⏱️ Duration: %s\n", util.HumanDuration(s.Duration()))
	}
	if s.ReturnPct != nil {
		ret := decimal.NewFromFloat(*s.ReturnPct).Round(2)
		emoji, sign := "📉", ""
		if ret.IsPositive() {
			emoji, sign = "📈", "+"
		}
		fmt.Fprintf(&b, "%s Return: %s%s%%\n", emoji, sign, ret.StringFixed(2))
	}
	return strings.TrimRight(b.String(), "\n")
}

func title(s *models.Signal) string {
	arrow := "🟢"
	if s.Direction == models.Short {
		arrow = "🔴"
	}
	return fmt.Sprintf("%s <b>%s Signal: %s</b>", arrow, strings.ToUpper(string(s.Direction)), html.EscapeString(s.Symbol))
}

func writeBody(b *strings.Builder, s *models.Signal) {
	triggers := make([]string, len(s.TriggerEvents))
	for i, k := range s.TriggerEvents {
		triggers[i] = string(k)
	}
	fmt.Fprintf(b, "Score: <b>%s</b>\n", fixed(s.Score, 2))
	if len(triggers) > 0 {
		fmt.Fprintf(b, "Triggers: %s\n", html.EscapeString(strings.Join(triggers, ", ")))
	}
	if s.MTF != nil && s.MTF.Total > 0 {
		fmt.Fprintf(b, "MTF: %d/%d aligned\n", s.MTF.Count, s.MTF.Total)
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "🎯 Entry: <b>%s</b>\n", fixed(s.EntryPrice, 4))
	fmt.Fprintf(b, "✅ TP: <b>%s</b>\n", fixed(s.TargetPrice, 4))
	fmt.Fprintf(b, "❌ SL: <b>%s</b>\n", fixed(s.StopPrice, 4))
	if s.ATR > 0 {
		fmt.Fprintf(b, "ATR: %s  |  R:R = %s\n", fixed(s.ATR, 4), fixed(s.RiskReward(), 1))
	}
}
