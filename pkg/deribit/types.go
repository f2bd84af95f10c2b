package deribit

import (
	"encoding/json"
	"time"
)

// Direction denotes order side.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Opposite returns the inverse side, used when flattening a position.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// OrderType denotes Deribit order types.
type OrderType string

const (
	OrderTypeLimit      OrderType = "limit"
	OrderTypeMarket     OrderType = "market"
	OrderTypeStopLimit  OrderType = "stop_limit"
	OrderTypeStopMarket OrderType = "stop_market"
)

// TimeInForce captures order lifetime policy.
type TimeInForce string

const (
	TIFGoodTilCancelled  TimeInForce = "good_til_cancelled"
	TIFFillOrKill        TimeInForce = "fill_or_kill"
	TIFImmediateOrCancel TimeInForce = "immediate_or_cancel"
)

// OrderRequest captures an order intent before normalization.
// Amount is normalized against the instrument's minimum size and contract
// size before submission; Price is required for limit (or unset-type) orders.
type OrderRequest struct {
	Instrument  string
	Direction   Direction
	Amount      float64
	Price       float64
	Type        OrderType
	PostOnly    bool
	ReduceOnly  bool
	TimeInForce TimeInForce
	Label       string
}

// OpenOrder is a read-only snapshot of an order resting on the exchange.
type OpenOrder struct {
	OrderID     string  `json:"order_id"`
	Instrument  string  `json:"instrument_name"`
	Direction   string  `json:"direction"`
	Price       float64 `json:"price"`
	Amount      float64 `json:"amount"`
	OrderType   string  `json:"order_type"`
	OrderState  string  `json:"order_state"`
	TimeInForce string  `json:"time_in_force"`
}

// InstrumentConstraints holds the per-instrument trading granularity used
// to normalize order amounts.
type InstrumentConstraints struct {
	ContractSize float64 `json:"contract_size"`
	MinOrderSize float64 `json:"min_order_size"`
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price  float64
	Amount float64
}

// OrderBook is a depth snapshot from public/get_order_book.
type OrderBook struct {
	Instrument string
	Bids       []BookLevel
	Asks       []BookLevel
	Timestamp  time.Time
}

// BestBid returns the top bid price, or 0 when the side is empty.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when the side is empty.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Mid returns the midpoint of best bid and best ask.
func (b OrderBook) Mid() float64 {
	return (b.BestBid() + b.BestAsk()) / 2
}

// TradeTick is a single public trade pushed on a trades.<instrument> channel.
type TradeTick struct {
	Instrument string  `json:"instrument_name"`
	Direction  string  `json:"direction"`
	Price      float64 `json:"price"`
	Amount     float64 `json:"amount"`
	Timestamp  int64   `json:"timestamp"`
}

// rpcRequest is the JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is the JSON-RPC 2.0 response envelope. Result and Error are
// kept raw so callers decode only what they expect.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *ExchangeError  `json:"error"`
}
