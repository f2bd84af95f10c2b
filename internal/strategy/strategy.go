package strategy

import (
	"fmt"
	"math"
	"strings"

	"deribit-core/internal/indicators"
	"deribit-core/internal/risk"
	"deribit-core/pkg/deribit"
)

// Kind selects the signal generator.
type Kind string

const (
	Momentum      Kind = "momentum"
	MeanReversion Kind = "mean_reversion"
	Breakout      Kind = "breakout"
)

// Parse maps a config string to a Kind.
func Parse(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case Momentum:
		return Momentum, nil
	case MeanReversion:
		return MeanReversion, nil
	case Breakout:
		return Breakout, nil
	default:
		return "", fmt.Errorf("strategy: unknown kind %q", s)
	}
}

// Evaluate runs the active strategy over the price window. The window's last
// element is the current price. The bool result reports whether a signal
// fired; without one the direction is meaningless.
func Evaluate(kind Kind, prices []float64, params risk.Params) (deribit.Direction, bool) {
	if len(prices) < params.LookbackPeriod {
		return "", false
	}
	price := prices[len(prices)-1]

	switch kind {
	case Momentum:
		rsi := indicators.RSI(prices, params.LookbackPeriod)
		if rsi > 70 {
			return deribit.DirectionSell, true
		}
		if rsi < 30 {
			return deribit.DirectionBuy, true
		}
	case MeanReversion:
		sma := indicators.SMA(prices, params.LookbackPeriod)
		if sma == 0 {
			return "", false
		}
		deviation := (price - sma) / sma
		if math.Abs(deviation) > params.Threshold {
			if deviation > 0 {
				return deribit.DirectionSell, true
			}
			return deribit.DirectionBuy, true
		}
	case Breakout:
		if indicators.DetectBreakout(prices[:len(prices)-1], price) && len(prices) >= 2 {
			if price > prices[len(prices)-2] {
				return deribit.DirectionBuy, true
			}
			return deribit.DirectionSell, true
		}
	}
	return "", false
}

// InitialDirection picks the side of the seed position placed when trading
// starts, from RSI extremes and the short/long SMA crossover. With no clear
// read it defaults to buy.
func InitialDirection(prices []float64, params risk.Params) deribit.Direction {
	if len(prices) < params.LookbackPeriod {
		return deribit.DirectionBuy
	}
	rsi := indicators.RSI(prices, params.LookbackPeriod)
	shortSMA := indicators.SMA(prices, params.LookbackPeriod)
	longSMA := indicators.SMA(prices, len(prices))

	if rsi < 30 || shortSMA > longSMA {
		return deribit.DirectionBuy
	}
	if rsi > 70 || shortSMA < longSMA {
		return deribit.DirectionSell
	}
	return deribit.DirectionBuy
}
