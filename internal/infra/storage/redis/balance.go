package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/gabapcia/walletflow/internal/balances"
	"github.com/gabapcia/walletflow/internal/pkg/types"
)

// balancePrefix is the base key prefix of the free-balance cache.
const balancePrefix = "balance"

// balanceKey returns the key caching one account's free balance.
//
// Format: "balance:{chain}:{address}"
func balanceKey(chain, address string) string {
	return fmt.Sprintf("%s:%s:%s", balancePrefix, chain, address)
}

// Get returns the cached balance of an address. Expiry is delegated to the
// key TTL set by Set.
func (c *client) Get(ctx context.Context, chain, address string) (types.Amount, bool, error) {
	raw, err := c.conn.Get(ctx, balanceKey(chain, address)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Amount{}, false, nil
		}
		return types.Amount{}, false, err
	}

	amount, err := types.AmountFromString(raw)
	if err != nil {
		return types.Amount{}, false, err
	}
	return amount, true, nil
}

// Set caches a balance for the given TTL.
func (c *client) Set(ctx context.Context, chain, address string, amount types.Amount, ttl time.Duration) error {
	return c.conn.Set(ctx, balanceKey(chain, address), amount.String(), ttl).Err()
}

// Delete evicts a cached balance.
func (c *client) Delete(ctx context.Context, chain, address string) error {
	return c.conn.Del(ctx, balanceKey(chain, address)).Err()
}

// Compile-time assertion that *client satisfies the balances.Cache interface.
var _ balances.Cache = new(client)
