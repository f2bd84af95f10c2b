package indicators

// rsiEpsilon floors the average loss so a pure-gain window stays finite.
const rsiEpsilon = 0.0001

// RSI computes the Relative Strength Index over the last period deltas.
// Fewer than period+1 prices returns the neutral value 50.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 50
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	if avgLoss < rsiEpsilon {
		avgLoss = rsiEpsilon
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
