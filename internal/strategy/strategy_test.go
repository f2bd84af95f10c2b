package strategy

import (
	"testing"

	"deribit-core/internal/risk"
	"deribit-core/pkg/deribit"
)

// ramp builds a strictly monotonic price window of the given length.
func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestParse(t *testing.T) {
	if k, err := Parse("Mean_Reversion"); err != nil || k != MeanReversion {
		t.Fatalf("Parse = %v, %v", k, err)
	}
	if _, err := Parse("martingale"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestMomentumSignals(t *testing.T) {
	params := risk.PresetFor(risk.Moderate) // lookback 14

	t.Run("overbought sells", func(t *testing.T) {
		dir, ok := Evaluate(Momentum, ramp(50000, 10, 20), params)
		if !ok || dir != deribit.DirectionSell {
			t.Fatalf("dir=%v ok=%v, want sell signal", dir, ok)
		}
	})

	t.Run("oversold buys", func(t *testing.T) {
		dir, ok := Evaluate(Momentum, ramp(50000, -10, 20), params)
		if !ok || dir != deribit.DirectionBuy {
			t.Fatalf("dir=%v ok=%v, want buy signal", dir, ok)
		}
	})

	t.Run("balanced market stays flat", func(t *testing.T) {
		// Alternating equal gains and losses pin RSI to 50.
		window := make([]float64, 20)
		for i := range window {
			window[i] = 50000
			if i%2 == 1 {
				window[i] = 50010
			}
		}
		if _, ok := Evaluate(Momentum, window, params); ok {
			t.Fatal("balanced market should not signal")
		}
	})

	t.Run("short window stays flat", func(t *testing.T) {
		if _, ok := Evaluate(Momentum, ramp(50000, 10, 5), params); ok {
			t.Fatal("short window should not signal")
		}
	})
}

func TestMeanReversionSignals(t *testing.T) {
	params := risk.PresetFor(risk.Moderate)
	params.Threshold = 0.01 // 1% deviation for a testable trigger

	base := make([]float64, 14)
	for i := range base {
		base[i] = 50000
	}

	t.Run("above the mean sells", func(t *testing.T) {
		window := append(append([]float64{}, base...), 51000)
		dir, ok := Evaluate(MeanReversion, window, params)
		if !ok || dir != deribit.DirectionSell {
			t.Fatalf("dir=%v ok=%v, want sell", dir, ok)
		}
	})

	t.Run("below the mean buys", func(t *testing.T) {
		window := append(append([]float64{}, base...), 49000)
		dir, ok := Evaluate(MeanReversion, window, params)
		if !ok || dir != deribit.DirectionBuy {
			t.Fatalf("dir=%v ok=%v, want buy", dir, ok)
		}
	})

	t.Run("inside the threshold stays flat", func(t *testing.T) {
		window := append(append([]float64{}, base...), 50100)
		if _, ok := Evaluate(MeanReversion, window, params); ok {
			t.Fatal("small deviation should not signal")
		}
	})
}

func TestBreakoutSignals(t *testing.T) {
	params := risk.PresetFor(risk.Aggressive) // lookback 10

	window := []float64{100, 102, 98, 101, 100, 99, 101, 100, 102, 98}

	t.Run("upside breakout follows the move", func(t *testing.T) {
		dir, ok := Evaluate(Breakout, append(append([]float64{}, window...), 106.1), params)
		if !ok || dir != deribit.DirectionBuy {
			t.Fatalf("dir=%v ok=%v, want buy", dir, ok)
		}
	})

	t.Run("downside breakout follows the move", func(t *testing.T) {
		dir, ok := Evaluate(Breakout, append(append([]float64{}, window...), 93), params)
		if !ok || dir != deribit.DirectionSell {
			t.Fatalf("dir=%v ok=%v, want sell", dir, ok)
		}
	})

	t.Run("inside the range stays flat", func(t *testing.T) {
		if _, ok := Evaluate(Breakout, append(append([]float64{}, window...), 101), params); ok {
			t.Fatal("in-range price should not signal")
		}
	})
}

func TestInitialDirection(t *testing.T) {
	params := risk.PresetFor(risk.Moderate)

	t.Run("short history defaults to buy", func(t *testing.T) {
		if got := InitialDirection(ramp(50000, 1, 3), params); got != deribit.DirectionBuy {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("uptrend buys", func(t *testing.T) {
		// Short SMA above long SMA on a rising window.
		if got := InitialDirection(ramp(50000, 10, 30), params); got != deribit.DirectionBuy {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("oversold downtrend buys", func(t *testing.T) {
		if got := InitialDirection(ramp(50000, -10, 30), params); got != deribit.DirectionBuy {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("neutral momentum below trend sells", func(t *testing.T) {
		// Sixteen flat values at 50500, then a balanced oscillation whose
		// mean sits below them: RSI stays mid-range while the short SMA
		// drops under the long SMA.
		window := make([]float64, 0, 30)
		for i := 0; i < 16; i++ {
			window = append(window, 50500)
		}
		window = append(window,
			50450, 50500, 50440, 50490, 50430, 50480, 50420,
			50470, 50410, 50460, 50400, 50450, 50390, 50440)
		if got := InitialDirection(window, params); got != deribit.DirectionSell {
			t.Fatalf("got %v", got)
		}
	})
}
