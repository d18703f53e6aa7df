package models

import "fmt"

// Outcome is the terminal state of a signal. An open signal has no outcome.
type Outcome string

const (
	OutcomeTPHit    Outcome = "tp_hit"
	OutcomeSLHit    Outcome = "sl_hit"
	OutcomeExpired  Outcome = "expired"
	OutcomeManual   Outcome = "manual"
	OutcomeReversed Outcome = "reversed"
)

// OutcomeInfo describes one terminal state.
type OutcomeInfo struct {
	// Automatic outcomes are reached by the lifecycle tracker on price or time.
	// The rest are administrative.
	Automatic bool
	Win       bool
	Label     string
	Emoji     string
}

var outcomeTable = map[Outcome]OutcomeInfo{
	OutcomeTPHit:    {Automatic: true, Win: true, Label: "TARGET HIT", Emoji: "✅"},
	OutcomeSLHit:    {Automatic: true, Label: "STOP LOSS", Emoji: "❌"},
	OutcomeExpired:  {Automatic: true, Label: "EXPIRED", Emoji: "⏰"},
	OutcomeManual:   {Label: "MANUAL CLOSE", Emoji: "✋"},
	OutcomeReversed: {Label: "REVERSED", Emoji: "\U0001f504"},
}

// Outcomes lists every terminal state in display order.
var Outcomes = []Outcome{OutcomeTPHit, OutcomeSLHit, OutcomeExpired, OutcomeManual, OutcomeReversed}

func (o Outcome) Valid() bool {
	_, ok := outcomeTable[o]
	return ok
}

func (o Outcome) Info() OutcomeInfo {
	return outcomeTable[o]
}

func (o Outcome) String() string { return string(o) }

func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown outcome %q", s)
	}
	return o, nil
}
