package position

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"deribit-core/internal/events"
	"deribit-core/internal/risk"
	"deribit-core/pkg/deribit"
)

// protectiveOffset is applied to entry limit prices so the order crosses the
// touch and fills promptly: buys pay up to 0.5% over the ask, sells accept
// 0.5% under the bid.
const protectiveOffset = 0.005

const (
	entryAttempts = 3
	entryBackoff  = time.Second
)

// OrderPlacer is the slice of the gateway the manager needs.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req deribit.OrderRequest) (string, error)
}

// Position is one open exposure keyed by its entry order id.
type Position struct {
	OrderID    string
	Direction  deribit.Direction
	EntryPrice float64
	Amount     float64
	CurrentPnl float64
	HighestPnl float64
	LowestPnl  float64
	EntryTime  time.Time

	closing bool
}

// ClosedPosition is the retained record of a completed trade. The open set
// drops a position at exit; its final snapshot lands here.
type ClosedPosition struct {
	Position
	ExitPrice float64
	Reason    string
	ExitTime  time.Time
}

// Manager owns the open-position set: entries with bounded retries, mark-out
// PnL tracking against the touch, and the stop-loss / take-profit / trailing
// exits. Realized PnL is reported to the risk manager at close.
type Manager struct {
	gateway    OrderPlacer
	instrument string
	riskMgr    *risk.Manager
	bus        *events.Bus
	sleep      func(time.Duration)

	mu      sync.RWMutex
	open    map[string]*Position
	history map[string]ClosedPosition
}

// NewManager builds a position manager for one instrument.
func NewManager(gateway OrderPlacer, instrument string, riskMgr *risk.Manager, bus *events.Bus) *Manager {
	return &Manager{
		gateway:    gateway,
		instrument: instrument,
		riskMgr:    riskMgr,
		bus:        bus,
		sleep:      time.Sleep,
		open:       make(map[string]*Position),
		history:    make(map[string]ClosedPosition),
	}
}

// Enter submits a protective-limit entry, retrying up to three times with a
// one-second pause. Exhausting the retries is logged, not raised: callers
// detect failure by the false return.
func (m *Manager) Enter(ctx context.Context, direction deribit.Direction, amount, bid, ask float64) (Position, bool) {
	var price float64
	if direction == deribit.DirectionBuy {
		price = ask * (1 + protectiveOffset)
	} else {
		price = bid * (1 - protectiveOffset)
	}

	req := deribit.OrderRequest{
		Instrument: m.instrument,
		Direction:  direction,
		Amount:     amount,
		Price:      price,
		Type:       deribit.OrderTypeLimit,
	}

	var orderID string
	for attempt := 1; attempt <= entryAttempts; attempt++ {
		id, err := m.gateway.PlaceOrder(ctx, req)
		if err == nil && id != "" {
			orderID = id
			break
		}
		log.Printf("position: entry attempt %d/%d failed: %v", attempt, entryAttempts, err)
		if attempt < entryAttempts {
			m.sleep(entryBackoff)
		}
	}
	if orderID == "" {
		log.Printf("position: giving up on %s entry after %d attempts", direction, entryAttempts)
		return Position{}, false
	}

	pos := &Position{
		OrderID:    orderID,
		Direction:  direction,
		EntryPrice: price,
		Amount:     amount,
		EntryTime:  time.Now(),
	}
	m.mu.Lock()
	m.open[orderID] = pos
	m.mu.Unlock()

	m.riskMgr.RecordEntry(pos.EntryTime)
	log.Printf("position: entered %s %s amount=%v price=%v order_id=%s",
		direction, m.instrument, amount, price, orderID)
	if m.bus != nil {
		m.bus.Publish(events.EventPositionOpened, events.PositionEvent{
			Instrument: m.instrument,
			Direction:  string(direction),
			Amount:     amount,
			EntryPrice: price,
			Time:       pos.EntryTime,
		})
	}
	return *pos, true
}

// UpdatePnl re-marks every open position against the touch (bid for longs,
// ask for shorts), then applies stop-loss, take-profit, and trailing-stop
// exits. The lock is released before any exit order goes out.
func (m *Manager) UpdatePnl(ctx context.Context, bid, ask float64) {
	params := m.riskMgr.Params()

	type exit struct {
		id     string
		reason string
	}
	var exits []exit

	m.mu.Lock()
	for id, pos := range m.open {
		if pos.closing {
			continue
		}
		touch := bid
		if pos.Direction == deribit.DirectionSell {
			touch = ask
		}
		diff := touch - pos.EntryPrice
		if pos.Direction == deribit.DirectionSell {
			diff = pos.EntryPrice - touch
		}
		pos.CurrentPnl = diff * pos.Amount
		if pos.CurrentPnl > pos.HighestPnl {
			pos.HighestPnl = pos.CurrentPnl
		}
		if pos.CurrentPnl < pos.LowestPnl {
			pos.LowestPnl = pos.CurrentPnl
		}

		pnlPct := diff / pos.EntryPrice
		switch {
		case pnlPct <= -params.StopLoss:
			exits = append(exits, exit{id, "stop_loss"})
		case pnlPct >= params.TakeProfit:
			exits = append(exits, exit{id, "take_profit"})
		case pos.HighestPnl > 0 && (pos.HighestPnl-pos.CurrentPnl)/pos.HighestPnl > params.TrailingStop:
			exits = append(exits, exit{id, "trailing_stop"})
		}
	}
	// Mark before unlocking so a concurrent tick cannot double-exit.
	for _, e := range exits {
		m.open[e.id].closing = true
	}
	m.mu.Unlock()

	for _, e := range exits {
		m.Exit(ctx, e.id, bid, ask, e.reason)
	}
}

// Exit flattens one position with a reduce-only market order. The position
// leaves the open set only when the exit order is accepted; on failure it is
// kept and becomes eligible again on the next tick.
func (m *Manager) Exit(ctx context.Context, orderID string, bid, ask float64, reason string) bool {
	m.mu.Lock()
	pos, ok := m.open[orderID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	pos.closing = true
	snapshot := *pos
	m.mu.Unlock()

	_, err := m.gateway.PlaceOrder(ctx, deribit.OrderRequest{
		Instrument: m.instrument,
		Direction:  snapshot.Direction.Opposite(),
		Amount:     snapshot.Amount,
		Type:       deribit.OrderTypeMarket,
		ReduceOnly: true,
	})
	if err != nil {
		log.Printf("position: exit of %s failed: %v", orderID, err)
		m.mu.Lock()
		if p, still := m.open[orderID]; still {
			p.closing = false
		}
		m.mu.Unlock()
		return false
	}

	exitPrice := bid
	if snapshot.Direction == deribit.DirectionSell {
		exitPrice = ask
	}

	exitTime := time.Now()
	m.mu.Lock()
	delete(m.open, orderID)
	m.history[orderID] = ClosedPosition{
		Position:  snapshot,
		ExitPrice: exitPrice,
		Reason:    reason,
		ExitTime:  exitTime,
	}
	m.mu.Unlock()

	m.riskMgr.RecordTrade(snapshot.CurrentPnl)
	log.Printf("position: exited %s (%s) pnl=%v", orderID, reason, snapshot.CurrentPnl)
	if m.bus != nil {
		m.bus.Publish(events.EventPositionClosed, events.PositionEvent{
			Instrument: m.instrument,
			Direction:  string(snapshot.Direction),
			Amount:     snapshot.Amount,
			EntryPrice: snapshot.EntryPrice,
			ExitPrice:  exitPrice,
			Pnl:        snapshot.CurrentPnl,
			Reason:     reason,
			Time:       exitTime,
		})
	}
	return true
}

// CloseAll flattens every open position, used on engine shutdown.
func (m *Manager) CloseAll(ctx context.Context, bid, ask float64) {
	for _, pos := range m.Open() {
		m.Exit(ctx, pos.OrderID, bid, ask, "shutdown")
	}
}

// Open returns a snapshot of the open positions.
func (m *Manager) Open() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.open))
	for _, pos := range m.open {
		out = append(out, *pos)
	}
	return out
}

// History returns the closed trades ordered oldest first.
func (m *Manager) History() []ClosedPosition {
	m.mu.RLock()
	out := make([]ClosedPosition, 0, len(m.history))
	for _, rec := range m.history {
		out = append(out, rec)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ExitTime.Before(out[j].ExitTime) })
	return out
}

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.open)
}

// TotalSize sums the open amounts, feeding the exposure gate.
func (m *Manager) TotalSize() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, pos := range m.open {
		total += pos.Amount
	}
	return total
}

// UnrealizedPnl sums the marked PnL of the open positions.
func (m *Manager) UnrealizedPnl() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, pos := range m.open {
		total += pos.CurrentPnl
	}
	return total
}

// SetSleep overrides the retry pause, for tests.
func (m *Manager) SetSleep(fn func(time.Duration)) {
	m.sleep = fn
}
