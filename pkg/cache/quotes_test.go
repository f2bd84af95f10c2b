package cache

import (
	"testing"
	"time"
)

func TestQuoteCacheSetGet(t *testing.T) {
	c := NewQuoteCache()
	if _, ok := c.Get("BTC-PERPETUAL"); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	q := Quote{Bid: 49995, Ask: 50005, Mid: 50000, Time: time.Now()}
	c.Set("BTC-PERPETUAL", q)

	got, ok := c.Get("BTC-PERPETUAL")
	if !ok || got.Mid != 50000 {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
	if _, age, ok := c.GetWithAge("BTC-PERPETUAL"); !ok || age < 0 {
		t.Fatalf("age = %v ok=%v", age, ok)
	}
}

func TestQuoteCacheSnapshotAndEvict(t *testing.T) {
	c := NewQuoteCache()
	stale := Quote{Mid: 100, Time: time.Now().Add(-time.Hour)}
	fresh := Quote{Mid: 200, Time: time.Now()}
	c.Set("ETH-PERPETUAL", stale)
	c.Set("BTC-PERPETUAL", fresh)

	if n := c.Len(); n != 2 {
		t.Fatalf("len = %d", n)
	}
	if removed := c.Evict(time.Minute); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	snap := c.Snapshot()
	if len(snap) != 1 || snap["BTC-PERPETUAL"].Mid != 200 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestQuoteStaleness(t *testing.T) {
	fresh := Quote{Time: time.Now()}
	if fresh.Stale() {
		t.Fatal("fresh quote reported stale")
	}
	old := Quote{Time: time.Now().Add(-StaleAfter - time.Second)}
	if !old.Stale() {
		t.Fatal("old quote reported fresh")
	}
}
