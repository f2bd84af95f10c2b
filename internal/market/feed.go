package market

import (
	"context"
	"log"
	"time"

	"deribit-core/internal/events"
	"deribit-core/pkg/deribit"
)

const (
	defaultInterval = 500 * time.Millisecond
	defaultBackoff  = 5 * time.Second
)

// BookSource is the slice of the order gateway the feed polls.
type BookSource interface {
	OrderBook(ctx context.Context, instrument string, depth int) (deribit.OrderBook, error)
}

// Feed polls order book snapshots and publishes price ticks to the bus.
// A failed poll backs off for five seconds and keeps going; the loop only
// stops with the context.
type Feed struct {
	Source       BookSource
	Bus          *events.Bus
	Instrument   string
	Interval     time.Duration
	ErrorBackoff time.Duration
}

// Run polls until the context is cancelled.
func (f *Feed) Run(ctx context.Context) {
	interval := f.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	backoff := f.ErrorBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	for {
		book, err := f.Source.OrderBook(ctx, f.Instrument, 5)
		if err != nil {
			log.Printf("market feed: poll %s failed: %v (backing off %s)", f.Instrument, err, backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			continue
		}

		if book.BestBid() > 0 && book.BestAsk() > 0 {
			f.Bus.Publish(events.EventPriceTick, events.PriceTick{
				Instrument: f.Instrument,
				Bid:        book.BestBid(),
				Ask:        book.BestAsk(),
				Mid:        book.Mid(),
				Time:       book.Timestamp,
			})
		}

		if !sleepCtx(ctx, interval) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
