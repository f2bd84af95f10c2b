package market

import (
	"context"

	"deribit-core/internal/events"
	"deribit-core/pkg/cache"
)

// RecordQuotes copies price ticks from the bus into the quote cache until
// the context is cancelled. Feeds stay decoupled from readers: the API layer
// serves quotes out of the cache without touching the exchange.
func RecordQuotes(ctx context.Context, bus *events.Bus, quotes *cache.QuoteCache) {
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-ticks:
			tick, ok := payload.(events.PriceTick)
			if !ok {
				continue
			}
			quotes.Set(tick.Instrument, cache.Quote{
				Bid:  tick.Bid,
				Ask:  tick.Ask,
				Mid:  tick.Mid,
				Time: tick.Time,
			})
		}
	}
}
