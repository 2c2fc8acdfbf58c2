package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yolodolo42/tempwallet/internal/apperr"
	"github.com/yolodolo42/tempwallet/internal/storage"
)

const countersKey = "tempwallet.counters"

// Counter issues per-owner wallet sequence numbers starting at 1. A number
// is persisted before it is returned and is never issued twice, even when the
// wallet creation that drew it fails afterwards.
type Counter struct {
	mu sync.Mutex
	kv storage.KV
}

func NewCounter(kv storage.KV) *Counter {
	return &Counter{kv: kv}
}

func (c *Counter) load() (map[string]uint64, error) {
	counters := make(map[string]uint64)
	raw, ok, err := c.kv.Get(countersKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet counters: %w", err)
	}
	if !ok {
		return counters, nil
	}
	if err := json.Unmarshal([]byte(raw), &counters); err != nil {
		return nil, fmt.Errorf("failed to parse wallet counters: %w", err)
	}
	return counters, nil
}

// Next advances owner's counter and returns the new value.
func (c *Counter) Next(owner string) (uint64, error) {
	if !IsAddress(owner) {
		return 0, apperr.New(apperr.KindInvalidInput, "invalid account address: %s", owner)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	counters, err := c.load()
	if err != nil {
		return 0, err
	}

	key := NormalizeOwner(owner)
	next := counters[key] + 1
	counters[key] = next

	raw, err := json.Marshal(counters)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal wallet counters: %w", err)
	}
	if err := c.kv.Set(countersKey, string(raw)); err != nil {
		return 0, fmt.Errorf("failed to persist wallet counter: %w", err)
	}
	return next, nil
}

// Peek returns the last number issued for owner, 0 if none.
func (c *Counter) Peek(owner string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counters, err := c.load()
	if err != nil {
		return 0, err
	}
	return counters[NormalizeOwner(owner)], nil
}
