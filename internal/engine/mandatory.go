package engine

import (
	"context"
	"fmt"
	"log"

	"deribit-core/pkg/deribit"
)

// floatTolerance bounds the eq comparison against the target value.
const floatTolerance = 1e-9

// SetMandatoryOrder arms a one-shot conditional order. Re-arming replaces
// the previous order and resets the trigger.
func (e *Engine) SetMandatoryOrder(order MandatoryOrder) error {
	switch order.Condition {
	case CondEqual, CondLess, CondGreater, CondLessOrEqual, CondGreaterOrEqual:
	default:
		return fmt.Errorf("engine: unknown condition %q", order.Condition)
	}
	if order.Direction != string(deribit.DirectionBuy) && order.Direction != string(deribit.DirectionSell) {
		return fmt.Errorf("engine: mandatory order direction must be buy or sell")
	}
	if order.Amount <= 0 {
		return fmt.Errorf("engine: mandatory order amount must be positive")
	}
	if !order.IsMarketOrder && order.LimitPrice <= 0 {
		return fmt.Errorf("engine: mandatory limit order needs a positive limit price")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.mandatory = &order
	e.mandatoryTriggered = false
	log.Printf("engine: mandatory order armed: %s %v when price %s %v",
		order.Direction, order.Amount, order.Condition, order.TargetValue)
	return nil
}

// ClearMandatoryOrder disarms any pending mandatory order.
func (e *Engine) ClearMandatoryOrder() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mandatory = nil
	e.mandatoryTriggered = false
}

// MandatoryOrderStatus reports the armed order, if any, and whether it has
// already fired.
func (e *Engine) MandatoryOrderStatus() (MandatoryOrder, bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mandatory == nil {
		return MandatoryOrder{}, false, false
	}
	return *e.mandatory, true, e.mandatoryTriggered
}

func (e *Engine) checkMandatoryOrder(ctx context.Context, price float64) {
	e.mu.Lock()
	order := e.mandatory
	triggered := e.mandatoryTriggered
	if order == nil || triggered || !conditionMet(order.Condition, price, order.TargetValue) {
		e.mu.Unlock()
		return
	}
	e.mandatoryTriggered = true
	snapshot := *order
	e.mu.Unlock()

	req := deribit.OrderRequest{
		Instrument: e.instrument,
		Direction:  deribit.Direction(snapshot.Direction),
		Amount:     snapshot.Amount,
		Type:       deribit.OrderTypeMarket,
	}
	if !snapshot.IsMarketOrder {
		req.Type = deribit.OrderTypeLimit
		req.Price = snapshot.LimitPrice
	}

	id, err := e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		log.Printf("engine: mandatory order failed at price %v: %v", price, err)
		return
	}
	log.Printf("engine: mandatory order executed at price %v order_id=%s", price, id)
}

func conditionMet(cond Condition, price, target float64) bool {
	switch cond {
	case CondEqual:
		diff := price - target
		return diff > -floatTolerance && diff < floatTolerance
	case CondLess:
		return price < target
	case CondGreater:
		return price > target
	case CondLessOrEqual:
		return price <= target
	case CondGreaterOrEqual:
		return price >= target
	default:
		return false
	}
}
