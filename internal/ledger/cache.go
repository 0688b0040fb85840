package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// BalanceCache keeps short-lived balance snapshots in Redis for the
// availability endpoint. Every movement invalidates the touched pairing, so
// the cache can only lag by the configured TTL on read-only paths.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache constructs the cache. A nil client disables caching.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(locationID, itemID int64) string {
	return fmt.Sprintf("stock:bal:%d:%d", locationID, itemID)
}

// Get returns cached quantities when every requested item is present.
func (c *BalanceCache) Get(ctx context.Context, locationID int64, itemIDs []int64) (map[int64]int64, bool) {
	if c == nil || len(itemIDs) == 0 {
		return nil, false
	}
	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = balanceKey(locationID, id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, false
	}
	result := make(map[int64]int64, len(itemIDs))
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			return nil, false
		}
		qty, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false
		}
		result[itemIDs[i]] = qty
	}
	return result, true
}

// Store writes quantities with the configured TTL. Failures are ignored; the
// database remains authoritative.
func (c *BalanceCache) Store(ctx context.Context, locationID int64, balances map[int64]int64) {
	if c == nil {
		return
	}
	pipe := c.client.Pipeline()
	for itemID, qty := range balances {
		pipe.Set(ctx, balanceKey(locationID, itemID), strconv.FormatInt(qty, 10), c.ttl)
	}
	_, _ = pipe.Exec(ctx)
}

// Invalidate drops cached entries for the given items at one location.
func (c *BalanceCache) Invalidate(ctx context.Context, locationID int64, itemIDs ...int64) {
	if c == nil || len(itemIDs) == 0 {
		return
	}
	keys := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		keys[i] = balanceKey(locationID, id)
	}
	_ = c.client.Del(ctx, keys...).Err()
}
