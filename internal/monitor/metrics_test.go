package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"deribit-core/internal/events"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(100)
	for i := 1; i <= 10; i++ {
		h.Record(float64(i))
	}
	s := h.Stats()
	if s.Count != 10 || s.Min != 1 || s.Max != 10 {
		t.Fatalf("stats = %+v", s)
	}
	if s.Avg != 5.5 {
		t.Fatalf("avg = %v, want 5.5", s.Avg)
	}
	if s.P50 != 6 {
		t.Fatalf("p50 = %v, want 6", s.P50)
	}
}

func TestLatencyHistogramSlidingWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for i := 1; i <= 5; i++ {
		h.Record(float64(i))
	}
	s := h.Stats()
	if s.Count != 3 || s.Min != 3 || s.Max != 5 {
		t.Fatalf("stats = %+v, want window [3,4,5]", s)
	}
}

func TestLatencyHistogramEmpty(t *testing.T) {
	if s := NewLatencyHistogram(10).Stats(); s.Count != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestObserverRecordsLatencyAndErrors(t *testing.T) {
	c := NewCollector(events.NewBus())
	obs := c.Observer()
	obs("public/get_order_book", 3*time.Millisecond, nil)
	obs("private/buy", 5*time.Millisecond, errors.New("exchange down"))

	snap := c.Metrics.GetSnapshot()
	if snap.RequestLatency.Count != 2 {
		t.Fatalf("latency samples = %d, want 2", snap.RequestLatency.Count)
	}
	if snap.ErrorsCount != 1 {
		t.Fatalf("errors = %d, want 1", snap.ErrorsCount)
	}
}

func TestCollectorCountsBusEvents(t *testing.T) {
	bus := events.NewBus()
	c := NewCollector(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	bus.Publish(events.EventPriceTick, events.PriceTick{Mid: 50000})
	bus.Publish(events.EventSignal, events.SignalEvent{Direction: "buy"})
	bus.Publish(events.EventPositionOpened, events.PositionEvent{})
	bus.Publish(events.EventPositionClosed, events.PositionEvent{Pnl: 10})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := c.Metrics.GetSnapshot()
		if snap.TicksProcessed == 1 && snap.SignalsGenerated == 1 &&
			snap.OrdersPlaced == 1 && snap.PositionsClosed == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counters incomplete: %+v", c.Metrics.GetSnapshot())
}
