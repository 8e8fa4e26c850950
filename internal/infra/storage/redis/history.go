package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/gabapcia/walletflow/internal/tx"
	"github.com/gabapcia/walletflow/internal/txengine"
	"github.com/gabapcia/walletflow/internal/txrecovery"
)

// historyPrefix is the base key prefix of the transaction history store.
const historyPrefix = "history"

// allStatuses enumerates every lifecycle status a history item can carry,
// used to move items between the per-status index sets on upsert.
var allStatuses = []tx.Status{
	tx.StatusQueued,
	tx.StatusSubmitting,
	tx.StatusProcessing,
	tx.StatusSuccess,
	tx.StatusFail,
	tx.StatusUnknown,
}

// historyItemsKey returns the hash holding one account's history items,
// keyed by transaction id.
//
// Format: "history:items:{chain}:{address}"
func historyItemsKey(chain, address string) string {
	return fmt.Sprintf("%s:items:%s:%s", historyPrefix, chain, address)
}

// historyStatusKey returns the set indexing item locators by status.
//
// Format: "history:status:{status}"
func historyStatusKey(status tx.Status) string {
	return fmt.Sprintf("%s:status:%s", historyPrefix, status)
}

// historyHashKey returns the set of item locators sharing one extrinsic
// hash. A sender and a receiver projection of the same transaction both
// appear here.
//
// Format: "history:hash:{chain}:{extrinsicHash}"
func historyHashKey(chain, hash string) string {
	return fmt.Sprintf("%s:hash:%s:%s", historyPrefix, chain, hash)
}

// locator identifies one history item across the index sets.
//
// Format: "{chain}|{address}|{transactionId}"
func locator(item tx.HistoryItem) string {
	return item.Chain + "|" + item.Address + "|" + item.TransactionID
}

func parseLocator(loc string) (chain, address, transactionID string, err error) {
	parts := strings.SplitN(loc, "|", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed history locator: %q", loc)
	}
	return parts[0], parts[1], parts[2], nil
}

// Upsert writes history items and refreshes the status and extrinsic-hash
// indexes so later sweeps and patches can find them.
func (c *client) Upsert(ctx context.Context, items ...tx.HistoryItem) error {
	pipe := c.conn.TxPipeline()

	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}

		loc := locator(item)
		pipe.HSet(ctx, historyItemsKey(item.Chain, item.Address), item.TransactionID, data)

		for _, status := range allStatuses {
			if status == item.Status {
				pipe.SAdd(ctx, historyStatusKey(status), loc)
			} else {
				pipe.SRem(ctx, historyStatusKey(status), loc)
			}
		}

		if item.ExtrinsicHash != "" {
			pipe.SAdd(ctx, historyHashKey(item.Chain, item.ExtrinsicHash), loc)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// ListByStatus returns every history item currently in one of the given
// statuses. Index entries whose item has since been removed are skipped.
func (c *client) ListByStatus(ctx context.Context, statuses ...tx.Status) ([]tx.HistoryItem, error) {
	var items []tx.HistoryItem

	for _, status := range statuses {
		locators, err := c.conn.SMembers(ctx, historyStatusKey(status)).Result()
		if err != nil {
			return nil, err
		}

		for _, loc := range locators {
			item, found, err := c.itemByLocator(ctx, loc)
			if err != nil {
				return nil, err
			}
			if found && item.Status == status {
				items = append(items, item)
			}
		}
	}

	return items, nil
}

// Query returns an account's history, newest first.
func (c *client) Query(ctx context.Context, chain, address string) ([]tx.HistoryItem, error) {
	entries, err := c.conn.HGetAll(ctx, historyItemsKey(chain, address)).Result()
	if err != nil {
		return nil, err
	}

	items := make([]tx.HistoryItem, 0, len(entries))
	for _, raw := range entries {
		var item tx.HistoryItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	return items, nil
}

// UpdateByHash applies a partial update to every projection of the
// transaction identified by its extrinsic hash.
func (c *client) UpdateByHash(ctx context.Context, chain, hash string, patch tx.HistoryPatch) error {
	locators, err := c.conn.SMembers(ctx, historyHashKey(chain, hash)).Result()
	if err != nil {
		return err
	}

	for _, loc := range locators {
		item, found, err := c.itemByLocator(ctx, loc)
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		if patch.Status != nil {
			item.Status = *patch.Status
		}
		if patch.BlockHash != nil {
			item.BlockHash = *patch.BlockHash
		}
		if patch.BlockNumber != nil {
			item.BlockNumber = *patch.BlockNumber
		}

		if err := c.Upsert(ctx, item); err != nil {
			return err
		}
	}

	return nil
}

// RemoveByAddress drops an account's entire history, including its entries
// in the status and hash indexes.
func (c *client) RemoveByAddress(ctx context.Context, chain, address string) error {
	items, err := c.Query(ctx, chain, address)
	if err != nil {
		return err
	}

	pipe := c.conn.TxPipeline()
	pipe.Del(ctx, historyItemsKey(chain, address))
	for _, item := range items {
		loc := locator(item)
		for _, status := range allStatuses {
			pipe.SRem(ctx, historyStatusKey(status), loc)
		}
		if item.ExtrinsicHash != "" {
			pipe.SRem(ctx, historyHashKey(item.Chain, item.ExtrinsicHash), loc)
		}
	}

	_, err = pipe.Exec(ctx)
	return err
}

// itemByLocator resolves an index entry to its stored item.
func (c *client) itemByLocator(ctx context.Context, loc string) (tx.HistoryItem, bool, error) {
	chain, address, transactionID, err := parseLocator(loc)
	if err != nil {
		return tx.HistoryItem{}, false, err
	}

	raw, err := c.conn.HGet(ctx, historyItemsKey(chain, address), transactionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return tx.HistoryItem{}, false, nil
		}
		return tx.HistoryItem{}, false, err
	}

	var item tx.HistoryItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return tx.HistoryItem{}, false, err
	}
	return item, true, nil
}

// Compile-time assertions that *client serves both history consumers.
var (
	_ txengine.HistoryStore   = new(client)
	_ txrecovery.HistoryStore = new(client)
)
