package position

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deribit-core/internal/events"
	"deribit-core/internal/risk"
	"deribit-core/pkg/deribit"
)

type fakeGateway struct {
	mu     sync.Mutex
	orders []deribit.OrderRequest
	fails  int
	err    error
	nextID int
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req deribit.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fails > 0 {
		g.fails--
		err := g.err
		if err == nil {
			err = errors.New("transport down")
		}
		return "", err
	}
	g.orders = append(g.orders, req)
	g.nextID++
	return string(rune('a' + g.nextID - 1)), nil
}

func (g *fakeGateway) placed() []deribit.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]deribit.OrderRequest(nil), g.orders...)
}

func newTestManager(gw *fakeGateway, level risk.Level) *Manager {
	m := NewManager(gw, "BTC-PERPETUAL", risk.NewManager(level, nil), events.NewBus())
	m.SetSleep(func(time.Duration) {})
	return m
}

func TestEnterUsesProtectiveLimit(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(gw, risk.Moderate)

	if _, ok := m.Enter(context.Background(), deribit.DirectionBuy, 1, 49990, 50000); !ok {
		t.Fatal("entry should succeed")
	}
	if _, ok := m.Enter(context.Background(), deribit.DirectionSell, 1, 49990, 50000); !ok {
		t.Fatal("entry should succeed")
	}

	orders := gw.placed()
	if orders[0].Price != 50000*1.005 {
		t.Errorf("buy price = %v, want 0.5%% above ask", orders[0].Price)
	}
	if orders[1].Price != 49990*0.995 {
		t.Errorf("sell price = %v, want 0.5%% below bid", orders[1].Price)
	}
	if m.OpenCount() != 2 {
		t.Fatalf("open = %d, want 2", m.OpenCount())
	}
}

func TestEnterRetriesThenSucceeds(t *testing.T) {
	var pauses int
	gw := &fakeGateway{fails: 2}
	m := newTestManager(gw, risk.Moderate)
	m.SetSleep(func(time.Duration) { pauses++ })

	if _, ok := m.Enter(context.Background(), deribit.DirectionBuy, 1, 49990, 50000); !ok {
		t.Fatal("third attempt should succeed")
	}
	if pauses != 2 {
		t.Fatalf("pauses = %d, want 2", pauses)
	}
}

func TestEnterGivesUpSilently(t *testing.T) {
	gw := &fakeGateway{fails: 3}
	m := newTestManager(gw, risk.Moderate)

	if _, ok := m.Enter(context.Background(), deribit.DirectionBuy, 1, 49990, 50000); ok {
		t.Fatal("entry should fail after three attempts")
	}
	if m.OpenCount() != 0 {
		t.Fatal("no position should be recorded on failure")
	}
}

func TestPnlTracksTouchPerDirection(t *testing.T) {
	gw := &fakeGateway{}
	riskMgr := risk.NewManager(risk.Aggressive, nil)
	m := NewManager(gw, "BTC-PERPETUAL", riskMgr, nil)
	m.SetSleep(func(time.Duration) {})

	// Seed a long entered at exactly 50000.
	m.mu.Lock()
	m.open["long"] = &Position{OrderID: "long", Direction: deribit.DirectionBuy, EntryPrice: 50000, Amount: 1}
	m.mu.Unlock()

	ctx := context.Background()
	m.UpdatePnl(ctx, 50000, 50010)
	pos := m.Open()[0]
	if pos.CurrentPnl != 0 {
		t.Fatalf("pnl at entry = %v, want 0", pos.CurrentPnl)
	}

	m.UpdatePnl(ctx, 50100, 50110)
	pos = m.Open()[0]
	if pos.CurrentPnl != 100 {
		t.Fatalf("pnl = %v, want 100 (marked on bid)", pos.CurrentPnl)
	}
	if pos.HighestPnl != 100 {
		t.Fatalf("highest = %v, want 100", pos.HighestPnl)
	}

	m.UpdatePnl(ctx, 50050, 50060)
	pos = m.Open()[0]
	if pos.CurrentPnl != 50 || pos.HighestPnl != 100 {
		t.Fatalf("pnl/highest = %v/%v, want 50/100", pos.CurrentPnl, pos.HighestPnl)
	}
}

func TestStopLossExitsExactlyOnce(t *testing.T) {
	gw := &fakeGateway{}
	riskMgr := risk.NewManager(risk.Conservative, nil) // stop loss 2%
	m := NewManager(gw, "BTC-PERPETUAL", riskMgr, nil)
	m.SetSleep(func(time.Duration) {})

	m.mu.Lock()
	m.open["long"] = &Position{OrderID: "long", Direction: deribit.DirectionBuy, EntryPrice: 50000, Amount: 1}
	m.mu.Unlock()

	ctx := context.Background()
	m.UpdatePnl(ctx, 48900, 48910) // -2.2%
	m.UpdatePnl(ctx, 48900, 48910)

	orders := gw.placed()
	if len(orders) != 1 {
		t.Fatalf("exit orders = %d, want exactly 1", len(orders))
	}
	exit := orders[0]
	if exit.Direction != deribit.DirectionSell || !exit.ReduceOnly || exit.Type != deribit.OrderTypeMarket {
		t.Fatalf("exit order = %+v", exit)
	}
	if m.OpenCount() != 0 {
		t.Fatal("position should leave the open set")
	}
	if got := riskMgr.Snapshot().TotalTrades; got != 1 {
		t.Fatalf("recorded trades = %d, want 1", got)
	}
}

func TestExitRetainsHistory(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(gw, risk.Conservative)

	m.mu.Lock()
	m.open["long"] = &Position{OrderID: "long", Direction: deribit.DirectionBuy, EntryPrice: 50000, Amount: 1, CurrentPnl: -1200}
	m.mu.Unlock()

	if !m.Exit(context.Background(), "long", 48800, 48810, "stop_loss") {
		t.Fatal("exit failed")
	}
	hist := m.History()
	if len(hist) != 1 {
		t.Fatalf("history = %d records, want 1", len(hist))
	}
	rec := hist[0]
	if rec.OrderID != "long" || rec.Reason != "stop_loss" || rec.ExitPrice != 48800 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.CurrentPnl != -1200 {
		t.Fatalf("realized pnl = %v", rec.CurrentPnl)
	}
	if rec.ExitTime.IsZero() {
		t.Fatal("exit time not set")
	}
}

func TestTakeProfitExit(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(gw, risk.Conservative) // take profit 4%

	m.mu.Lock()
	m.open["short"] = &Position{OrderID: "short", Direction: deribit.DirectionSell, EntryPrice: 50000, Amount: 1}
	m.mu.Unlock()

	m.UpdatePnl(context.Background(), 47890, 47900) // short marked on ask: +4.2%
	if m.OpenCount() != 0 {
		t.Fatal("take profit should close the short")
	}
	if exit := gw.placed()[0]; exit.Direction != deribit.DirectionBuy {
		t.Fatalf("exit direction = %v, want buy", exit.Direction)
	}
}

func TestTrailingStopExit(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(gw, risk.Conservative) // trailing 1%

	m.mu.Lock()
	m.open["long"] = &Position{OrderID: "long", Direction: deribit.DirectionBuy, EntryPrice: 50000, Amount: 1}
	m.mu.Unlock()

	ctx := context.Background()
	m.UpdatePnl(ctx, 50500, 50510) // +500, below take profit (4% = 2000)
	if m.OpenCount() != 1 {
		t.Fatal("position should survive the run-up")
	}
	m.UpdatePnl(ctx, 50490, 50500) // drawdown 10/500 = 2% > 1%
	if m.OpenCount() != 0 {
		t.Fatal("trailing stop should close the position")
	}
}

func TestFailedExitKeepsPosition(t *testing.T) {
	gw := &fakeGateway{fails: 1}
	m := newTestManager(gw, risk.Conservative)

	m.mu.Lock()
	m.open["long"] = &Position{OrderID: "long", Direction: deribit.DirectionBuy, EntryPrice: 50000, Amount: 1, CurrentPnl: -1200}
	m.mu.Unlock()

	if m.Exit(context.Background(), "long", 48800, 48810, "stop_loss") {
		t.Fatal("exit should report failure")
	}
	if m.OpenCount() != 1 {
		t.Fatal("failed exit must keep the position")
	}
	// Next attempt succeeds.
	if !m.Exit(context.Background(), "long", 48800, 48810, "stop_loss") {
		t.Fatal("retry should succeed")
	}
	if m.OpenCount() != 0 {
		t.Fatal("position should be gone after successful exit")
	}
}

func TestCloseAll(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(gw, risk.Moderate)

	m.mu.Lock()
	m.open["a"] = &Position{OrderID: "a", Direction: deribit.DirectionBuy, EntryPrice: 50000, Amount: 1}
	m.open["b"] = &Position{OrderID: "b", Direction: deribit.DirectionSell, EntryPrice: 50000, Amount: 2}
	m.mu.Unlock()

	m.CloseAll(context.Background(), 50000, 50010)
	if m.OpenCount() != 0 {
		t.Fatalf("open = %d after CloseAll", m.OpenCount())
	}
	if len(gw.placed()) != 2 {
		t.Fatalf("exit orders = %d, want 2", len(gw.placed()))
	}
}
