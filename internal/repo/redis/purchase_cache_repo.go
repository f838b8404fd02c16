package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nvoronin/tradeschool/backend/internal/domain/model"
)

const purchaseCachePrefix = "purchases:"

// PurchaseCacheRepo is a short-TTL cache over the backend's purchase listing
// so navigation does not refetch on every page.
type PurchaseCacheRepo struct {
	client *goredis.Client
}

func NewPurchaseCacheRepo(client *goredis.Client) *PurchaseCacheRepo {
	return &PurchaseCacheRepo{client: client}
}

func (r *PurchaseCacheRepo) Get(ctx context.Context, userID int64) ([]model.PurchaseAttempt, bool, error) {
	if r.client == nil {
		return nil, false, fmt.Errorf("redis client is nil")
	}
	if userID <= 0 {
		return nil, false, fmt.Errorf("invalid user id")
	}

	raw, err := r.client.Get(ctx, purchaseCacheKey(userID)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached purchases: %w", err)
	}

	var purchases []model.PurchaseAttempt
	if err := json.Unmarshal(raw, &purchases); err != nil {
		// A corrupt cache entry is treated as a miss.
		return nil, false, nil
	}
	return purchases, true, nil
}

func (r *PurchaseCacheRepo) Set(ctx context.Context, userID int64, purchases []model.PurchaseAttempt, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if userID <= 0 || ttl <= 0 {
		return fmt.Errorf("invalid purchase cache payload")
	}

	raw, err := json.Marshal(purchases)
	if err != nil {
		return fmt.Errorf("marshal cached purchases: %w", err)
	}

	if err := r.client.Set(ctx, purchaseCacheKey(userID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("set cached purchases: %w", err)
	}
	return nil
}

func (r *PurchaseCacheRepo) Invalidate(ctx context.Context, userID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if userID <= 0 {
		return fmt.Errorf("invalid user id")
	}

	if err := r.client.Del(ctx, purchaseCacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate cached purchases: %w", err)
	}
	return nil
}

func purchaseCacheKey(userID int64) string {
	return purchaseCachePrefix + strconv.FormatInt(userID, 10)
}
