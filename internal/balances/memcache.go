package balances

import (
	"context"
	"sync"
	"time"

	"github.com/gabapcia/walletflow/internal/pkg/types"
)

// memoryCache is the default process-local Cache. Expired entries are dropped
// lazily on read.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	amount    types.Amount
	expiresAt time.Time
}

var _ Cache = (*memoryCache)(nil)

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]memoryEntry)}
}

func cacheKey(chain, address string) string {
	return chain + "/" + address
}

func (c *memoryCache) Get(_ context.Context, chain, address string) (types.Amount, bool, error) {
	key := cacheKey(chain, address)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return types.Amount{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		if current, still := c.entries[key]; still && current.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return types.Amount{}, false, nil
	}

	return entry.amount, true, nil
}

func (c *memoryCache) Set(_ context.Context, chain, address string, amount types.Amount, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(chain, address)] = memoryEntry{
		amount:    amount,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (c *memoryCache) Delete(_ context.Context, chain, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, cacheKey(chain, address))
	return nil
}
