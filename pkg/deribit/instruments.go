package deribit

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// fallbackMinOrderSize mirrors the exchange's smallest BTC increment; used
// when an instrument reports neither min_order_size nor contract_size.
const fallbackMinOrderSize = 0.001

// InstrumentCache resolves per-instrument trading constraints via
// public/get_instrument. With TTL zero every lookup refetches, matching the
// exchange-authoritative behavior; a positive TTL keeps entries until expiry.
type InstrumentCache struct {
	client *Client
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]cachedConstraints
}

type cachedConstraints struct {
	constraints InstrumentConstraints
	fetchedAt   time.Time
}

// NewInstrumentCache builds a cache over the given client.
func NewInstrumentCache(client *Client, ttl time.Duration) *InstrumentCache {
	return &InstrumentCache{
		client:  client,
		ttl:     ttl,
		entries: make(map[string]cachedConstraints),
	}
}

// Constraints returns the contract size and minimum order size for the
// instrument. Missing fields fall back conservatively: contract size 1.0,
// minimum order size to the contract size or the exchange floor.
func (ic *InstrumentCache) Constraints(ctx context.Context, instrument string) (InstrumentConstraints, error) {
	if ic.ttl > 0 {
		ic.mu.Lock()
		if e, ok := ic.entries[instrument]; ok && time.Since(e.fetchedAt) < ic.ttl {
			ic.mu.Unlock()
			return e.constraints, nil
		}
		ic.mu.Unlock()
	}

	raw, err := ic.client.SendPublic(ctx, "public/get_instrument", map[string]any{
		"instrument_name": instrument,
	})
	if err != nil {
		return InstrumentConstraints{}, err
	}

	var res struct {
		ContractSize *float64 `json:"contract_size"`
		MinOrderSize *float64 `json:"min_order_size"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return InstrumentConstraints{}, &ProtocolError{
			Op:     "public/get_instrument",
			Reason: "malformed instrument result",
			Raw:    raw,
		}
	}

	c := InstrumentConstraints{ContractSize: 1.0, MinOrderSize: fallbackMinOrderSize}
	if res.ContractSize != nil && *res.ContractSize > 0 {
		c.ContractSize = *res.ContractSize
		c.MinOrderSize = *res.ContractSize
	}
	if res.MinOrderSize != nil && *res.MinOrderSize > 0 {
		c.MinOrderSize = *res.MinOrderSize
	}

	if ic.ttl > 0 {
		ic.mu.Lock()
		ic.entries[instrument] = cachedConstraints{constraints: c, fetchedAt: time.Now()}
		ic.mu.Unlock()
	}
	return c, nil
}
