package risk

import (
	"fmt"
	"strings"
	"time"
)

// Level selects one of the built-in parameter presets.
type Level string

const (
	Conservative Level = "conservative"
	Moderate     Level = "moderate"
	Aggressive   Level = "aggressive"
)

// ParseLevel maps a config string to a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(s)) {
	case Conservative:
		return Conservative, nil
	case Moderate:
		return Moderate, nil
	case Aggressive:
		return Aggressive, nil
	default:
		return "", fmt.Errorf("risk: unknown level %q", s)
	}
}

// Params is one immutable risk configuration. Selecting a level substitutes
// the whole struct atomically; nothing mutates a preset in place.
type Params struct {
	PositionSize     float64       // fraction of account per position
	StopLoss         float64       // loss fraction that closes a position
	TakeProfit       float64       // profit fraction that closes a position
	TrailingStop     float64       // drawdown fraction from peak PnL
	LookbackPeriod   int           // window for indicators
	Threshold        float64       // mean-reversion entry threshold
	MinTradeInterval time.Duration // spacing between entries
	MaxPositionSize  float64       // cap on summed open amounts
	MaxOpenPositions int
	DailyProfitTarget float64
	DailyLossLimit    float64
}

var presets = map[Level]Params{
	Conservative: {
		PositionSize:      0.01,
		StopLoss:          0.02,
		TakeProfit:        0.04,
		TrailingStop:      0.01,
		LookbackPeriod:    20,
		Threshold:         1.5,
		MinTradeInterval:  300 * time.Second,
		MaxPositionSize:   0.05,
		MaxOpenPositions:  3,
		DailyProfitTarget: 0.05,
		DailyLossLimit:    0.03,
	},
	Moderate: {
		PositionSize:      0.02,
		StopLoss:          0.03,
		TakeProfit:        0.06,
		TrailingStop:      0.015,
		LookbackPeriod:    14,
		Threshold:         2.0,
		MinTradeInterval:  180 * time.Second,
		MaxPositionSize:   0.1,
		MaxOpenPositions:  5,
		DailyProfitTarget: 0.08,
		DailyLossLimit:    0.05,
	},
	Aggressive: {
		PositionSize:      0.03,
		StopLoss:          0.05,
		TakeProfit:        0.1,
		TrailingStop:      0.02,
		LookbackPeriod:    10,
		Threshold:         2.5,
		MinTradeInterval:  60 * time.Second,
		MaxPositionSize:   0.2,
		MaxOpenPositions:  8,
		DailyProfitTarget: 0.15,
		DailyLossLimit:    0.1,
	},
}

// PresetFor returns the parameter set for a level.
func PresetFor(level Level) Params {
	return presets[level]
}
