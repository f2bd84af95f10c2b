package events

import (
	"sync"
)

// Bus is a lightweight pub/sub broker using channels. Slow subscribers are
// skipped rather than blocked, so a stalled consumer can never stall the
// trading loop.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[Event]map[int]chan any
	dropped map[Event]int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[Event]map[int]chan any),
		dropped: make(map[Event]int),
	}
}

// Subscribe registers a listener for an event and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[e] == nil {
		b.subs[e] = make(map[int]chan any)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan any, buffer)
	b.subs[e][id] = ch

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[e][id]; ok {
			close(c)
			delete(b.subs[e], id)
		}
	}
	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking; payloads to
// full subscriber buffers are dropped and counted.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			b.dropped[e]++
		}
	}
}

// Dropped reports how many payloads were discarded for the event because a
// subscriber buffer was full.
func (b *Bus) Dropped(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped[e]
}
