package indicators

// DetectBreakout reports whether price clears the window's range by more
// than 2% of that range on either side.
func DetectBreakout(window []float64, price float64) bool {
	if len(window) == 0 {
		return false
	}
	high := window[0]
	low := window[0]
	for _, v := range window[1:] {
		if v > high {
			high = v
		}
		if v < low {
			low = v
		}
	}
	margin := 0.02 * (high - low)
	return price > high+margin || price < low-margin
}
