package market

import (
	"log"

	"deribit-core/internal/events"
	"deribit-core/pkg/deribit"
)

// StreamBridge adapts WebSocket push data onto the event bus, so consumers
// see one tick shape whether prices arrive by poll or by subscription.
type StreamBridge struct {
	Bus *events.Bus
}

func (b *StreamBridge) OnOrderBook(book deribit.OrderBook) {
	if book.BestBid() <= 0 || book.BestAsk() <= 0 {
		return
	}
	b.Bus.Publish(events.EventPriceTick, events.PriceTick{
		Instrument: book.Instrument,
		Bid:        book.BestBid(),
		Ask:        book.BestAsk(),
		Mid:        book.Mid(),
		Time:       book.Timestamp,
	})
}

func (b *StreamBridge) OnTrade(tick deribit.TradeTick) {
	b.Bus.Publish(events.EventTradeTick, tick)
}

func (b *StreamBridge) OnStateChange(state deribit.StreamState) {
	log.Printf("market: stream state -> %s", state)
	b.Bus.Publish(events.EventStreamState, state)
}

var _ deribit.StreamHandler = (*StreamBridge)(nil)
