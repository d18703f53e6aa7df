package models

// Requests for the query API. Bound by echo, defaulted, then validated.

type ListSignalsRequest struct {
	Symbol  string `query:"symbol" json:"symbol" validate:"omitempty,symbol"`
	Outcome string `query:"outcome" json:"outcome" validate:"omitempty,oneof=open tp_hit sl_hit expired manual reversed"`
	Limit   int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
	Offset  int    `query:"offset" json:"offset" validate:"gte=0"`
}

type StatsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"omitempty,symbol"`
	Since  string `query:"since" json:"since" validate:"omitempty,since"`
}

type ListEventsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"omitempty,symbol"`
	Type   string `query:"type" json:"type" validate:"omitempty,oneof=liquidation_spike oi_expansion atr_expansion structure_breakout imbalance_flip funding_extreme"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type CloseSignalRequest struct {
	Price float64 `json:"price" validate:"gte=0"`
}
