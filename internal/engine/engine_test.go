package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"deribit-core/internal/events"
	"deribit-core/internal/position"
	"deribit-core/internal/risk"
	"deribit-core/internal/strategy"
	"deribit-core/pkg/deribit"
)

type fakeGateway struct {
	mu     sync.Mutex
	orders []deribit.OrderRequest
	nextID int
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req deribit.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	g.nextID++
	return string(rune('a' + g.nextID - 1)), nil
}

func (g *fakeGateway) placed() []deribit.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]deribit.OrderRequest(nil), g.orders...)
}

func newTestEngine(gw *fakeGateway, level risk.Level, kind strategy.Kind) (*Engine, *risk.Manager, *position.Manager) {
	bus := events.NewBus()
	riskMgr := risk.NewManager(level, bus)
	posMgr := position.NewManager(gw, "BTC-PERPETUAL", riskMgr, bus)
	posMgr.SetSleep(func(time.Duration) {})
	eng := New(Config{Instrument: "BTC-PERPETUAL", Strategy: kind}, gw, riskMgr, posMgr, bus)
	eng.SetWarmup(0)
	return eng, riskMgr, posMgr
}

// feed pushes a tick with a 10-wide spread around mid.
func feed(eng *Engine, ctx context.Context, mid float64) {
	eng.UpdatePrice(ctx, mid, mid-5, mid+5)
}

func TestMomentumSignalEntersOnce(t *testing.T) {
	gw := &fakeGateway{}
	eng, _, posMgr := newTestEngine(gw, risk.Aggressive, strategy.Momentum) // lookback 10
	ctx := context.Background()
	eng.Start(ctx)

	// A falling tape drives RSI oversold; one buy entry, then the spacing
	// gate and the single-position rule keep further entries out.
	price := 50000.0
	for i := 0; i < 25; i++ {
		feed(eng, ctx, price)
		price -= 20
	}

	orders := gw.placed()
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want exactly 1", len(orders))
	}
	if orders[0].Direction != deribit.DirectionBuy {
		t.Fatalf("direction = %v, want buy", orders[0].Direction)
	}
	if posMgr.OpenCount() != 1 {
		t.Fatalf("open = %d, want 1", posMgr.OpenCount())
	}
}

func TestStartSeedsFallbackBuyOnShortHistory(t *testing.T) {
	gw := &fakeGateway{}
	eng, _, _ := newTestEngine(gw, risk.Aggressive, strategy.Momentum) // lookback 10
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		feed(eng, ctx, 50000)
	}
	eng.Start(ctx)

	orders := gw.placed()
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want the seed entry", len(orders))
	}
	if orders[0].Direction != deribit.DirectionBuy {
		t.Fatalf("direction = %v, want the buy fallback", orders[0].Direction)
	}
	if orders[0].Amount != 30 { // aggressive position size 0.03 at default scale
		t.Fatalf("amount = %v, want 30", orders[0].Amount)
	}
}

func TestNotRunningIgnoresSignals(t *testing.T) {
	gw := &fakeGateway{}
	eng, _, _ := newTestEngine(gw, risk.Aggressive, strategy.Momentum)
	ctx := context.Background()

	price := 50000.0
	for i := 0; i < 25; i++ {
		feed(eng, ctx, price)
		price -= 20
	}
	if len(gw.placed()) != 0 {
		t.Fatal("engine must not trade before Start")
	}
}

func TestHistoryCappedAtTwiceLookback(t *testing.T) {
	gw := &fakeGateway{}
	eng, _, _ := newTestEngine(gw, risk.Aggressive, strategy.Momentum) // lookback 10
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		feed(eng, ctx, 50000+float64(i%2)*10)
	}
	if got := eng.Status().HistorySize; got != 20 {
		t.Fatalf("history = %d, want 20", got)
	}
}

func TestStopFlattensPositions(t *testing.T) {
	gw := &fakeGateway{}
	eng, _, posMgr := newTestEngine(gw, risk.Aggressive, strategy.Momentum)
	ctx := context.Background()
	eng.Start(ctx)

	price := 50000.0
	for i := 0; i < 25; i++ {
		feed(eng, ctx, price)
		price -= 20
	}
	if posMgr.OpenCount() != 1 {
		t.Fatalf("open = %d before stop", posMgr.OpenCount())
	}

	eng.Stop(ctx)
	if posMgr.OpenCount() != 0 {
		t.Fatal("stop should flatten all positions")
	}
	if eng.Status().Running {
		t.Fatal("engine should report stopped")
	}
	exit := gw.placed()[len(gw.placed())-1]
	if !exit.ReduceOnly || exit.Direction != deribit.DirectionSell {
		t.Fatalf("exit order = %+v", exit)
	}
}

func TestRiskStopHaltsEngine(t *testing.T) {
	gw := &fakeGateway{}
	eng, riskMgr, posMgr := newTestEngine(gw, risk.Aggressive, strategy.Momentum)
	ctx := context.Background()
	eng.Start(ctx)

	price := 50000.0
	for i := 0; i < 25; i++ {
		feed(eng, ctx, price)
		price -= 20
	}
	if posMgr.OpenCount() != 1 {
		t.Fatalf("open = %d before the limit trips", posMgr.OpenCount())
	}

	riskMgr.RecordTrade(-1e9) // trips the daily loss limit
	feed(eng, ctx, price)

	if !riskMgr.Stopped() {
		t.Fatal("risk manager should be stopped")
	}
	if eng.Status().Running {
		t.Fatal("engine should halt when the daily limit trips")
	}
	if posMgr.OpenCount() != 0 {
		t.Fatal("halt should flatten the open position")
	}
}

func TestSetStrategyResetsHistory(t *testing.T) {
	gw := &fakeGateway{}
	eng, _, _ := newTestEngine(gw, risk.Aggressive, strategy.Momentum)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		feed(eng, ctx, 50000)
	}
	eng.SetStrategy(strategy.Breakout)
	st := eng.Status()
	if st.HistorySize != 0 || st.Strategy != strategy.Breakout {
		t.Fatalf("status = %+v", st)
	}
}

func TestSetRiskLevelSwapsPreset(t *testing.T) {
	gw := &fakeGateway{}
	eng, riskMgr, _ := newTestEngine(gw, risk.Conservative, strategy.Momentum)
	eng.SetRiskLevel(risk.Aggressive)
	if got := riskMgr.Params().LookbackPeriod; got != 10 {
		t.Fatalf("lookback = %d, want aggressive preset", got)
	}
	if eng.Status().RiskLevel != risk.Aggressive {
		t.Fatalf("status level = %v", eng.Status().RiskLevel)
	}
}

func TestMandatoryOrderFiresOnce(t *testing.T) {
	gw := &fakeGateway{}
	eng, _, _ := newTestEngine(gw, risk.Aggressive, strategy.Momentum)
	ctx := context.Background()
	eng.Start(ctx)

	err := eng.SetMandatoryOrder(MandatoryOrder{
		TargetValue:   50100,
		Condition:     CondGreaterOrEqual,
		Direction:     "sell",
		Amount:        10,
		IsMarketOrder: true,
	})
	if err != nil {
		t.Fatalf("SetMandatoryOrder: %v", err)
	}

	// Balanced ticks below the target keep both the strategy and the
	// trigger quiet.
	feed(eng, ctx, 50000)
	feed(eng, ctx, 50010)
	if len(gw.placed()) != 0 {
		t.Fatal("order fired below the target")
	}

	feed(eng, ctx, 50150)
	feed(eng, ctx, 50200)

	orders := gw.placed()
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want exactly 1", len(orders))
	}
	if orders[0].Direction != deribit.DirectionSell || orders[0].Type != deribit.OrderTypeMarket {
		t.Fatalf("order = %+v", orders[0])
	}

	if _, armed, triggered := eng.MandatoryOrderStatus(); !armed || !triggered {
		t.Fatalf("armed=%v triggered=%v", armed, triggered)
	}
	eng.ClearMandatoryOrder()
	if _, armed, _ := eng.MandatoryOrderStatus(); armed {
		t.Fatal("clear should disarm")
	}
}

func TestMandatoryOrderValidation(t *testing.T) {
	gw := &fakeGateway{}
	eng, _, _ := newTestEngine(gw, risk.Moderate, strategy.Momentum)

	cases := []MandatoryOrder{
		{TargetValue: 50000, Condition: "between", Direction: "buy", Amount: 10, IsMarketOrder: true},
		{TargetValue: 50000, Condition: CondLess, Direction: "hold", Amount: 10, IsMarketOrder: true},
		{TargetValue: 50000, Condition: CondLess, Direction: "buy", Amount: 0, IsMarketOrder: true},
		{TargetValue: 50000, Condition: CondLess, Direction: "buy", Amount: 10, IsMarketOrder: false, LimitPrice: 0},
	}
	for i, order := range cases {
		if err := eng.SetMandatoryOrder(order); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestRunConsumesBusTicks(t *testing.T) {
	gw := &fakeGateway{}
	bus := events.NewBus()
	riskMgr := risk.NewManager(risk.Aggressive, bus)
	posMgr := position.NewManager(gw, "BTC-PERPETUAL", riskMgr, bus)
	posMgr.SetSleep(func(time.Duration) {})
	eng := New(Config{Instrument: "BTC-PERPETUAL", Strategy: strategy.Momentum}, gw, riskMgr, posMgr, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)
	time.Sleep(10 * time.Millisecond) // let the subscription land

	bus.Publish(events.EventPriceTick, events.PriceTick{Instrument: "BTC-PERPETUAL", Bid: 49995, Ask: 50005, Mid: 50000})
	bus.Publish(events.EventPriceTick, events.PriceTick{Instrument: "ETH-PERPETUAL", Bid: 2999, Ask: 3001, Mid: 3000})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if eng.Status().HistorySize == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := eng.Status()
	if st.HistorySize != 1 || st.CurrentPrice != 50000 {
		t.Fatalf("status = %+v, want one BTC tick folded in", st)
	}
}
