package deribit

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
)

// Gateway places, cancels, modifies, and queries orders. It owns amount
// normalization against instrument constraints and structured extraction of
// exchange errors. PlaceOrder propagates typed errors; CancelOrder and
// ModifyOrder deliberately degrade to a boolean so background management
// loops never have to unwind.
type Gateway struct {
	client      *Client
	instruments *InstrumentCache
}

// NewGateway builds an order gateway over the REST client.
func NewGateway(client *Client, instruments *InstrumentCache) *Gateway {
	return &Gateway{client: client, instruments: instruments}
}

// RoundToContractSize snaps an amount to the nearest multiple of the
// instrument's contract size. Idempotent: rounding a rounded amount is a
// no-op.
func RoundToContractSize(amount, contractSize float64) float64 {
	if contractSize <= 0 {
		return amount
	}
	return math.Round(amount/contractSize) * contractSize
}

// PlaceOrder validates and normalizes the request, submits it, and returns
// the exchange order id.
//
// Normalization: a non-positive amount is replaced by the instrument
// minimum; an amount below the minimum is clamped up to it; the result is
// rounded to a contract-size multiple. Price is included (and required
// positive) only for limit or unset-type orders. PostOnly/ReduceOnly are
// sent only when true; TimeInForce defaults to good_til_cancelled.
func (g *Gateway) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.Instrument == "" {
		return "", &ValidationError{Field: "instrument", Reason: "must not be empty"}
	}

	isLimit := req.Type == OrderTypeLimit || req.Type == ""
	if isLimit && req.Price <= 0 {
		return "", &ValidationError{Field: "price", Reason: "limit order price must be positive"}
	}

	constraints, err := g.instruments.Constraints(ctx, req.Instrument)
	if err != nil {
		return "", err
	}

	amount := req.Amount
	if amount <= 0 {
		amount = constraints.MinOrderSize
		log.Printf("gateway: adjusted order amount to minimum %v", amount)
	} else if amount < constraints.MinOrderSize {
		amount = constraints.MinOrderSize
		log.Printf("gateway: clamped order amount up to minimum %v", amount)
	}
	amount = RoundToContractSize(amount, constraints.ContractSize)

	orderType := req.Type
	if orderType == "" {
		orderType = OrderTypeLimit
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = TIFGoodTilCancelled
	}
	label := req.Label
	if label == "" {
		label = uuid.NewString()
	}

	params := map[string]any{
		"instrument_name": req.Instrument,
		"type":            orderType,
		"amount":          amount,
		"time_in_force":   tif,
		"label":           label,
	}
	if isLimit {
		params["price"] = req.Price
	}
	if req.PostOnly {
		params["post_only"] = true
	}
	if req.ReduceOnly {
		params["reduce_only"] = true
	}

	method := "private/" + string(req.Direction)
	raw, err := g.client.SendAuthenticated(ctx, method, params)
	if err != nil {
		return "", err
	}

	var res struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
	}
	if err := json.Unmarshal(raw, &res); err != nil || res.Order.OrderID == "" {
		return "", &ProtocolError{Op: method, Reason: "malformed order response", Raw: raw}
	}

	log.Printf("gateway: placed %s %s amount=%v order_id=%s", req.Direction, req.Instrument, amount, res.Order.OrderID)
	return res.Order.OrderID, nil
}

// CancelOrder cancels an order, reporting success as a boolean. All
// transport, protocol, and exchange failures are swallowed and logged.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) bool {
	raw, err := g.client.SendAuthenticated(ctx, "private/cancel", map[string]any{
		"order_id": orderID,
	})
	if err != nil {
		log.Printf("gateway: cancel %s failed: %v", orderID, err)
		return false
	}
	return len(raw) > 0 && string(raw) != "null"
}

// ModifyOrder edits an order's amount and price, reporting success as a
// boolean. The optional advanced mode is forwarded when non-empty.
func (g *Gateway) ModifyOrder(ctx context.Context, orderID string, newAmount, newPrice float64, advanced string) bool {
	params := map[string]any{
		"order_id": orderID,
		"amount":   newAmount,
		"price":    newPrice,
	}
	if advanced != "" {
		params["advanced"] = advanced
	}
	raw, err := g.client.SendAuthenticated(ctx, "private/edit", params)
	if err != nil {
		log.Printf("gateway: edit %s failed: %v", orderID, err)
		return false
	}
	return len(raw) > 0 && string(raw) != "null"
}

// OpenOrders lists resting orders. Empty instrument means all instruments.
// Any failure degrades to an empty slice.
func (g *Gateway) OpenOrders(ctx context.Context, instrument string) []OpenOrder {
	params := map[string]any{}
	if instrument != "" {
		params["instrument_name"] = instrument
	}
	raw, err := g.client.SendAuthenticated(ctx, "private/get_open_orders", params)
	if err != nil {
		log.Printf("gateway: get_open_orders failed: %v", err)
		return nil
	}

	var orders []OpenOrder
	if err := json.Unmarshal(raw, &orders); err != nil {
		log.Printf("gateway: malformed open orders result: %s", truncate(raw, 512))
		return nil
	}
	for i := range orders {
		if orders[i].TimeInForce == "" {
			orders[i].TimeInForce = string(TIFGoodTilCancelled)
		}
	}
	return orders
}

// OrderBook fetches a depth snapshot via public/get_order_book.
func (g *Gateway) OrderBook(ctx context.Context, instrument string, depth int) (OrderBook, error) {
	raw, err := g.client.SendPublic(ctx, "public/get_order_book", map[string]any{
		"instrument_name": instrument,
		"depth":           depth,
	})
	if err != nil {
		return OrderBook{}, err
	}

	var res struct {
		Bids      [][]float64 `json:"bids"`
		Asks      [][]float64 `json:"asks"`
		Timestamp int64       `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return OrderBook{}, &ProtocolError{Op: "public/get_order_book", Reason: "malformed order book result", Raw: raw}
	}

	book := OrderBook{Instrument: instrument, Timestamp: time.UnixMilli(res.Timestamp)}
	for _, lvl := range res.Bids {
		if len(lvl) >= 2 {
			book.Bids = append(book.Bids, BookLevel{Price: lvl[0], Amount: lvl[1]})
		}
	}
	for _, lvl := range res.Asks {
		if len(lvl) >= 2 {
			book.Asks = append(book.Asks, BookLevel{Price: lvl[0], Amount: lvl[1]})
		}
	}
	return book, nil
}
