package market

import (
	"context"
	"log"
	"math/rand"
	"time"

	"deribit-core/internal/events"
)

// MockFeed generates synthetic ticks for local development without exchange
// credentials. Prices follow a simple random walk around StartPrice with a
// fixed half-spread.
type MockFeed struct {
	Bus        *events.Bus
	Instrument string
	StartPrice float64
	Step       float64
	HalfSpread float64
	Interval   time.Duration
}

// Run publishes ticks until the context is cancelled.
func (m *MockFeed) Run(ctx context.Context) {
	if m.Bus == nil {
		log.Print("mock feed: bus not set")
		return
	}
	price := m.StartPrice
	if price == 0 {
		price = 50000
	}
	step := m.Step
	if step == 0 {
		step = 25
	}
	halfSpread := m.HalfSpread
	if halfSpread == 0 {
		halfSpread = 5
	}
	interval := m.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			price += (rand.Float64()*2 - 1) * step
			m.Bus.Publish(events.EventPriceTick, events.PriceTick{
				Instrument: m.Instrument,
				Bid:        price - halfSpread,
				Ask:        price + halfSpread,
				Mid:        price,
				Time:       time.Now(),
			})
		}
	}
}
