package indicators

// SMA calculates the simple moving average of the last period values.
// Fewer points than the period returns the most recent value.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if period <= 0 || len(values) < period {
		return values[len(values)-1]
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}
