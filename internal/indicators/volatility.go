package indicators

import "math"

// Volatility is the standard deviation of the last period values around
// their own mean. Fewer points than the period returns 0.
func Volatility(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	window := values[len(values)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(period))
}
