package monitor

import (
	"context"
	"time"

	"deribit-core/internal/events"
	"deribit-core/pkg/deribit"
)

// Collector feeds the metrics from the event bus and the REST client's
// request observer.
type Collector struct {
	Metrics *SystemMetrics
	Bus     *events.Bus
}

// NewCollector wires a collector over the bus.
func NewCollector(bus *events.Bus) *Collector {
	return &Collector{Metrics: NewSystemMetrics(), Bus: bus}
}

// Observer returns a callback for deribit.Config.Observer: every REST round
// trip lands in the request-latency histogram, failures also bump the error
// counter.
func (c *Collector) Observer() func(method string, elapsed time.Duration, err error) {
	return func(method string, elapsed time.Duration, err error) {
		c.Metrics.RequestLatency.RecordDuration(elapsed)
		if err != nil {
			c.Metrics.IncrementErrors()
		}
	}
}

// Run consumes bus events into counters until the context is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticks, unsubTicks := c.Bus.Subscribe(events.EventPriceTick, 256)
	defer unsubTicks()
	signals, unsubSignals := c.Bus.Subscribe(events.EventSignal, 64)
	defer unsubSignals()
	opened, unsubOpened := c.Bus.Subscribe(events.EventPositionOpened, 64)
	defer unsubOpened()
	closed, unsubClosed := c.Bus.Subscribe(events.EventPositionClosed, 64)
	defer unsubClosed()
	states, unsubStates := c.Bus.Subscribe(events.EventStreamState, 16)
	defer unsubStates()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			c.Metrics.IncrementTicks()
		case payload := <-signals:
			c.Metrics.IncrementSignals()
			if ev, ok := payload.(events.SignalEvent); ok {
				c.Metrics.SignalLatency.RecordDuration(time.Since(ev.Time))
			}
		case <-opened:
			c.Metrics.IncrementOrders()
		case <-closed:
			c.Metrics.IncrementClosed()
		case payload := <-states:
			if st, ok := payload.(deribit.StreamState); ok && st == deribit.StreamConnecting {
				c.Metrics.IncrementReconnects()
			}
		}
	}
}
