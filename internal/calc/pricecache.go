package calc

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPriceTTL is the per-entry lifetime used when a caller does not
// specify one.
const DefaultPriceTTL = 60 * time.Second

// PriceCache stores token prices with a per-entry TTL. It is populated by an
// external price feed; the ledger only reads it. Implementations must treat
// an expired entry as a miss.
type PriceCache interface {
	Set(ctx context.Context, token string, price decimal.Decimal, ttl time.Duration) error
	Get(ctx context.Context, token string) (decimal.Decimal, bool, error)
}

type cacheEntry struct {
	price     decimal.Decimal
	expiresAt time.Time
}

// MemoryPriceCache is the in-process PriceCache with lazy expiry: reads past
// the TTL evict the entry and report a miss.
type MemoryPriceCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	defaultTTL time.Duration
}

// NewMemoryPriceCache creates an in-memory price cache.
func NewMemoryPriceCache(defaultTTL time.Duration) *MemoryPriceCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultPriceTTL
	}
	return &MemoryPriceCache{
		entries:    make(map[string]cacheEntry),
		defaultTTL: defaultTTL,
	}
}

// Set stores a price. A non-positive ttl falls back to the default TTL.
func (c *MemoryPriceCache) Set(_ context.Context, token string, price decimal.Decimal, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[token] = cacheEntry{price: price, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Get returns the cached price, or a miss if absent or expired.
func (c *MemoryPriceCache) Get(_ context.Context, token string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[token]
	if !ok {
		return decimal.Zero, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, token)
		return decimal.Zero, false, nil
	}
	return entry.price, true, nil
}

// Len returns the number of entries, including any not yet lazily evicted.
func (c *MemoryPriceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
