package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

const watchlistPrefix = "watchlist:"

// WatchlistRepo is the durable set of purchase ids awaiting terminal
// resolution. It is appended from several call sites (initiation, proof
// submission, reconciliation restore), so all writes are set merges, never
// whole-list overwrites.
type WatchlistRepo struct {
	client *goredis.Client
}

func NewWatchlistRepo(client *goredis.Client) *WatchlistRepo {
	return &WatchlistRepo{client: client}
}

func (r *WatchlistRepo) AddWatched(ctx context.Context, userID int64, purchaseID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	if userID <= 0 || purchaseID == "" {
		return fmt.Errorf("invalid watchlist add payload")
	}

	if err := r.client.SAdd(ctx, watchlistKey(userID), purchaseID).Err(); err != nil {
		return fmt.Errorf("add watched purchase: %w", err)
	}
	return nil
}

func (r *WatchlistRepo) ListWatched(ctx context.Context, userID int64) ([]string, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if userID <= 0 {
		return nil, fmt.Errorf("invalid user id")
	}

	ids, err := r.client.SMembers(ctx, watchlistKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list watched purchases: %w", err)
	}
	return ids, nil
}

func (r *WatchlistRepo) RemoveWatched(ctx context.Context, userID int64, purchaseID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	if userID <= 0 || purchaseID == "" {
		return fmt.Errorf("invalid watchlist remove payload")
	}

	if err := r.client.SRem(ctx, watchlistKey(userID), purchaseID).Err(); err != nil {
		return fmt.Errorf("remove watched purchase: %w", err)
	}
	return nil
}

func watchlistKey(userID int64) string {
	return watchlistPrefix + strconv.FormatInt(userID, 10)
}
