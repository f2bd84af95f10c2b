package engine

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"deribit-core/internal/events"
	"deribit-core/internal/indicators"
	"deribit-core/internal/position"
	"deribit-core/internal/risk"
	"deribit-core/internal/strategy"
	"deribit-core/pkg/deribit"
)

// sizeScale converts the preset's account fraction into contract amounts.
const sizeScale = 1000

// highVolRatio is the volatility-to-price ratio above which position sizes
// shrink and the volatility flag raises.
const highVolRatio = 0.02

// defaultWarmup is how long Start lets the feed fill the indicator window
// before placing the seed order.
const defaultWarmup = 5 * time.Second

// Engine drives the trading loop for one instrument: it consumes price
// ticks, maintains the indicator window, asks the active strategy for a
// signal, applies the risk gates, and delegates entries and exits to the
// position manager. All mutable state lives behind one mutex; the lock is
// never held across a network call.
type Engine struct {
	instrument string
	gateway    position.OrderPlacer
	riskMgr    *risk.Manager
	positions  *position.Manager
	bus        *events.Bus
	warmup     time.Duration

	mu           sync.Mutex
	running      bool
	startedAt    time.Time
	strategyKind strategy.Kind
	priceHistory []float64
	currentPrice float64
	bid          float64
	ask          float64

	mandatory          *MandatoryOrder
	mandatoryTriggered bool
}

// Config carries the engine's construction settings.
type Config struct {
	Instrument string
	Strategy   strategy.Kind
}

// New builds an engine. Start arms it; ticks are consumed via Run or fed
// directly through UpdatePrice.
func New(cfg Config, gateway position.OrderPlacer, riskMgr *risk.Manager, positions *position.Manager, bus *events.Bus) *Engine {
	return &Engine{
		instrument:   cfg.Instrument,
		gateway:      gateway,
		riskMgr:      riskMgr,
		positions:    positions,
		bus:          bus,
		warmup:       defaultWarmup,
		strategyKind: cfg.Strategy,
	}
}

// SetWarmup overrides the seed warm-up interval, for tests.
func (e *Engine) SetWarmup(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warmup = d
}

// Run subscribes to price ticks and feeds them into the engine until the
// context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticks, unsub := e.bus.Subscribe(events.EventPriceTick, 64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ticks:
			if !ok {
				return
			}
			tick, isTick := payload.(events.PriceTick)
			if !isTick || tick.Instrument != e.instrument {
				continue
			}
			e.UpdatePrice(ctx, tick.Mid, tick.Bid, tick.Ask)
		}
	}
}

// Start arms the trading loop, waits the warm-up interval for the feed to
// fill the indicator window, and seeds an initial position from the RSI /
// SMA-crossover heuristics. A short window after warm-up falls back to a buy
// at the default size rather than failing.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.startedAt = time.Now()
	warmup := e.warmup
	e.mu.Unlock()

	log.Printf("engine: started instrument=%s strategy=%s", e.instrument, e.strategyKind)

	if warmup > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(warmup):
		}
	}

	e.mu.Lock()
	params := e.riskMgr.Params()
	history := append([]float64(nil), e.priceHistory...)
	bid, ask := e.bid, e.ask
	e.mu.Unlock()

	if bid <= 0 || ask <= 0 {
		log.Print("engine: no market data after warm-up, skipping seed position")
		return
	}
	direction := deribit.DirectionBuy
	if len(history) >= params.LookbackPeriod {
		direction = strategy.InitialDirection(history, params)
	} else {
		log.Print("engine: short history after warm-up, seeding a default buy")
	}
	amount := e.optimalOrderSize(history, params)
	if _, ok := e.positions.Enter(ctx, direction, amount, bid, ask); !ok {
		log.Print("engine: seed position entry failed")
	}
}

// Stop disarms the loop and flattens every open position.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	bid, ask := e.bid, e.ask
	e.mu.Unlock()

	e.positions.CloseAll(ctx, bid, ask)
	log.Printf("engine: stopped, total pnl %.4f", e.riskMgr.Snapshot().TotalPnl)
}

// UpdatePrice folds one tick into the indicator window, re-marks open
// positions, checks the armed mandatory order, and looks for a new signal.
func (e *Engine) UpdatePrice(ctx context.Context, price, bid, ask float64) {
	e.mu.Lock()
	e.currentPrice = price
	e.bid = bid
	e.ask = ask
	e.priceHistory = append(e.priceHistory, price)
	// Twice the lookback keeps the trend helper's long window alive.
	maxHistory := e.riskMgr.Params().LookbackPeriod * 2
	if len(e.priceHistory) > maxHistory {
		e.priceHistory = e.priceHistory[len(e.priceHistory)-maxHistory:]
	}
	running := e.running
	e.mu.Unlock()

	if !running {
		return
	}
	e.positions.UpdatePnl(ctx, bid, ask)
	e.checkMandatoryOrder(ctx, price)
	e.ProcessSignal(ctx)
}

// ProcessSignal evaluates the active strategy and enters a position when a
// signal fires and every gate passes. Only one position is held at a time.
func (e *Engine) ProcessSignal(ctx context.Context) {
	if e.riskMgr.Stopped() {
		// A tripped daily limit halts the whole loop, not just new entries.
		e.Stop(ctx)
		return
	}
	if !e.riskMgr.CanTradeNow(time.Now()) {
		return
	}
	allowed, reason := e.riskMgr.AllowEntry(e.positions.OpenCount(), e.positions.TotalSize())
	if !allowed {
		if reason != "" {
			log.Printf("engine: entry denied: %s", reason)
		}
		return
	}

	e.mu.Lock()
	params := e.riskMgr.Params()
	history := append([]float64(nil), e.priceHistory...)
	bid, ask := e.bid, e.ask
	kind := e.strategyKind
	e.mu.Unlock()

	if len(history) < params.LookbackPeriod {
		return
	}

	direction, fired := strategy.Evaluate(kind, history, params)
	if !fired {
		return
	}
	if e.positions.OpenCount() > 0 {
		return
	}

	log.Printf("engine: %s signal for %s", direction, e.instrument)
	e.bus.Publish(events.EventSignal, events.SignalEvent{
		Instrument: e.instrument,
		Strategy:   string(kind),
		Direction:  string(direction),
		Price:      history[len(history)-1],
		Time:       time.Now(),
	})

	amount := e.adjustPositionSize(params.PositionSize*sizeScale, history, params)
	e.positions.Enter(ctx, direction, amount, bid, ask)
}

// SetStrategy swaps the signal generator and resets the indicator window.
func (e *Engine) SetStrategy(kind strategy.Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategyKind = kind
	e.priceHistory = nil
	log.Printf("engine: strategy updated to %s", kind)
}

// SetRiskLevel swaps the active risk preset.
func (e *Engine) SetRiskLevel(level risk.Level) {
	e.riskMgr.SetLevel(level)
}

// Status returns a snapshot for the API layer.
func (e *Engine) Status() Status {
	e.mu.Lock()
	history := append([]float64(nil), e.priceHistory...)
	params := e.riskMgr.Params()
	st := Status{
		Running:      e.running,
		Instrument:   e.instrument,
		Strategy:     e.strategyKind,
		CurrentPrice: e.currentPrice,
		Bid:          e.bid,
		Ask:          e.ask,
		HistorySize:  len(history),
		StartedAt:    e.startedAt,
	}
	e.mu.Unlock()

	st.OpenPositions = e.positions.Open()
	st.UnrealizedPnl = e.positions.UnrealizedPnl()
	st.Risk = e.riskMgr.Snapshot()
	st.RiskLevel = st.Risk.Level
	st.VolatilityHigh = volatilityHigh(history, params)
	st.Trending = marketTrending(history, params)
	return st
}

// optimalOrderSize sizes the seed position: volatility shrinks it, the
// estimated per-trade risk is capped at half the daily loss limit, and the
// result never drops below one contract.
func (e *Engine) optimalOrderSize(history []float64, params risk.Params) float64 {
	base := params.PositionSize * sizeScale
	if len(history) < params.LookbackPeriod {
		return base
	}

	vol := indicators.Volatility(history, params.LookbackPeriod)
	avg := indicators.SMA(history, params.LookbackPeriod)
	if avg <= 0 {
		return base
	}
	ratio := vol / avg
	if ratio > highVolRatio {
		base *= math.Max(0.5, 1-ratio/highVolRatio)
	}

	maxRiskPerTrade := params.DailyLossLimit / 2
	if estRisk := math.Abs(vol * base); estRisk > maxRiskPerTrade {
		base = (maxRiskPerTrade / estRisk) * base
	}
	return math.Max(base, 1)
}

// adjustPositionSize scales an entry down in proportion to excess
// volatility, with a floor at half the base size.
func (e *Engine) adjustPositionSize(base float64, history []float64, params risk.Params) float64 {
	if len(history) < params.LookbackPeriod {
		return base
	}
	vol := indicators.Volatility(history, params.LookbackPeriod)
	avg := indicators.SMA(history, params.LookbackPeriod)
	if avg <= 0 {
		return base
	}
	if ratio := vol / avg; ratio > highVolRatio {
		return base * math.Max(0.5, highVolRatio/ratio)
	}
	return base
}

func volatilityHigh(history []float64, params risk.Params) bool {
	if len(history) < params.LookbackPeriod {
		return false
	}
	vol := indicators.Volatility(history, params.LookbackPeriod)
	avg := indicators.SMA(history, params.LookbackPeriod)
	return avg > 0 && vol/avg > highVolRatio
}

func marketTrending(history []float64, params risk.Params) bool {
	if len(history) < params.LookbackPeriod*2 {
		return false
	}
	short := indicators.SMA(history, params.LookbackPeriod)
	long := indicators.SMA(history, params.LookbackPeriod*2)
	return long > 0 && math.Abs(short-long)/long > 0.01
}
