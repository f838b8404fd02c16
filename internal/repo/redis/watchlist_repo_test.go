package redis

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nvoronin/tradeschool/backend/internal/domain/enums"
	"github.com/nvoronin/tradeschool/backend/internal/domain/model"
)

func TestWatchlistDeduplicatesConcurrentWriters(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewWatchlistRepo(client)
	ctx := context.Background()
	userID := int64(7)

	// Two tabs adding overlapping ids must merge, not overwrite.
	for _, id := range []string{"p-1", "p-2", "p-1", "p-3", "p-2"} {
		if err := repo.AddWatched(ctx, userID, id); err != nil {
			t.Fatalf("add watched %s: %v", id, err)
		}
	}

	ids, err := repo.ListWatched(ctx, userID)
	if err != nil {
		t.Fatalf("list watched: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 3 || ids[0] != "p-1" || ids[1] != "p-2" || ids[2] != "p-3" {
		t.Fatalf("unexpected watchlist contents: %v", ids)
	}

	if err := repo.RemoveWatched(ctx, userID, "p-2"); err != nil {
		t.Fatalf("remove watched: %v", err)
	}
	ids, err = repo.ListWatched(ctx, userID)
	if err != nil {
		t.Fatalf("list watched after remove: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids after remove, got %v", ids)
	}
}

func TestWatchlistRejectsEmptyID(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewWatchlistRepo(client)
	if err := repo.AddWatched(context.Background(), 7, "   "); err == nil {
		t.Fatalf("expected validation error for blank purchase id")
	}
}

func TestPurchaseCacheRoundTripAndTTL(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewPurchaseCacheRepo(client)
	ctx := context.Background()
	userID := int64(12)

	purchases := []model.PurchaseAttempt{
		{ID: "p-9", ProductID: "course-basic", Method: enums.PaymentMethodStablecoin, Status: enums.PurchaseStatusVerifying, DueAmount: 49.99},
	}

	if _, hit, err := repo.Get(ctx, userID); err != nil || hit {
		t.Fatalf("expected cold cache miss, hit=%v err=%v", hit, err)
	}

	if err := repo.Set(ctx, userID, purchases, 10*time.Minute); err != nil {
		t.Fatalf("set cache: %v", err)
	}

	cached, hit, err := repo.Get(ctx, userID)
	if err != nil || !hit {
		t.Fatalf("expected cache hit, hit=%v err=%v", hit, err)
	}
	if len(cached) != 1 || cached[0].ID != "p-9" || cached[0].Status != enums.PurchaseStatusVerifying {
		t.Fatalf("unexpected cached purchases: %+v", cached)
	}

	mr.FastForward(11 * time.Minute)

	if _, hit, err := repo.Get(ctx, userID); err != nil || hit {
		t.Fatalf("expected miss after ttl, hit=%v err=%v", hit, err)
	}
}

func TestPurchaseCacheInvalidate(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewPurchaseCacheRepo(client)
	ctx := context.Background()

	if err := repo.Set(ctx, 3, nil, time.Minute); err != nil {
		t.Fatalf("set cache: %v", err)
	}
	if err := repo.Invalidate(ctx, 3); err != nil {
		t.Fatalf("invalidate cache: %v", err)
	}
	if _, hit, err := repo.Get(ctx, 3); err != nil || hit {
		t.Fatalf("expected miss after invalidate, hit=%v err=%v", hit, err)
	}
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})

	return mr, client
}
