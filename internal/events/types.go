package events

import "time"

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventPriceTick      Event = "price_tick"
	EventTradeTick      Event = "trade_tick"
	EventSignal         Event = "strategy.signal"
	EventOrderPlaced    Event = "order.placed"
	EventOrderFailed    Event = "order.failed"
	EventPositionOpened Event = "position.opened"
	EventPositionClosed Event = "position.closed"
	EventRiskAlert      Event = "risk.alert"
	EventStreamState    Event = "stream.state"
)

// PriceTick is the payload for EventPriceTick.
type PriceTick struct {
	Instrument string
	Bid        float64
	Ask        float64
	Mid        float64
	Time       time.Time
}

// SignalEvent is the payload for EventSignal.
type SignalEvent struct {
	Instrument string
	Strategy   string
	Direction  string
	Price      float64
	Time       time.Time
}

// PositionEvent is the payload for EventPositionOpened/Closed.
type PositionEvent struct {
	Instrument string
	Direction  string
	Amount     float64
	EntryPrice float64
	ExitPrice  float64
	Pnl        float64
	Reason     string
	Time       time.Time
}

// RiskAlert is the payload for EventRiskAlert.
type RiskAlert struct {
	Rule    string
	Detail  string
	Stopped bool
	Time    time.Time
}
