package engine

import (
	"time"

	"deribit-core/internal/position"
	"deribit-core/internal/risk"
	"deribit-core/internal/strategy"
)

// Status is a point-in-time snapshot of the engine for the API layer.
type Status struct {
	Running        bool                `json:"running"`
	Instrument     string              `json:"instrument"`
	Strategy       strategy.Kind       `json:"strategy"`
	RiskLevel      risk.Level          `json:"risk_level"`
	CurrentPrice   float64             `json:"current_price"`
	Bid            float64             `json:"bid"`
	Ask            float64             `json:"ask"`
	HistorySize    int                 `json:"history_size"`
	OpenPositions  []position.Position `json:"open_positions"`
	UnrealizedPnl  float64             `json:"unrealized_pnl"`
	Risk           risk.Metrics        `json:"risk"`
	VolatilityHigh bool                `json:"volatility_high"`
	Trending       bool                `json:"trending"`
	StartedAt      time.Time           `json:"started_at,omitempty"`
}

// Condition compares the market price against a mandatory order's target.
type Condition string

const (
	CondEqual          Condition = "eq"
	CondLess           Condition = "lt"
	CondGreater        Condition = "gt"
	CondLessOrEqual    Condition = "lte"
	CondGreaterOrEqual Condition = "gte"
)

// MandatoryOrder is a one-shot conditional order armed by the operator:
// when the market price satisfies the condition against the target value,
// the order fires once and disarms.
type MandatoryOrder struct {
	TargetValue   float64   `json:"target_value"`
	Condition     Condition `json:"condition"`
	Direction     string    `json:"direction"`
	Amount        float64   `json:"amount"`
	IsMarketOrder bool      `json:"is_market_order"`
	LimitPrice    float64   `json:"limit_price"`
}
