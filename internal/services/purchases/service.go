package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nvoronin/tradeschool/backend/internal/domain/enums"
	"github.com/nvoronin/tradeschool/backend/internal/domain/model"
	"github.com/nvoronin/tradeschool/backend/internal/infra/commerceapi"
)

var ErrValidation = errors.New("validation error")

type Backend interface {
	ListPurchases(ctx context.Context) ([]commerceapi.PurchaseRecord, error)
}

type Cache interface {
	Get(ctx context.Context, userID int64) ([]model.PurchaseAttempt, bool, error)
	Set(ctx context.Context, userID int64, purchases []model.PurchaseAttempt, ttl time.Duration) error
	Invalidate(ctx context.Context, userID int64) error
}

type Watchlist interface {
	ListWatched(ctx context.Context, userID int64) ([]string, error)
	RemoveWatched(ctx context.Context, userID int64, purchaseID string) error
}

type Config struct {
	ListTTL time.Duration
}

// Service serves the user's purchase history through a short-TTL cache and
// keeps the watch-list consistent with what the backend reports.
type Service struct {
	backend   Backend
	cache     Cache
	watchlist Watchlist
	logger    *zap.Logger
	listTTL   time.Duration
}

func NewService(backend Backend, cache Cache, watchlist Watchlist, cfg Config, logger *zap.Logger) *Service {
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		backend:   backend,
		cache:     cache,
		watchlist: watchlist,
		logger:    logger,
		listTTL:   cfg.ListTTL,
	}
}

// ListMine returns the user's purchases, serving from cache unless force is
// set or the entry expired. A fresh fetch also reconciles the watch-list:
// purchases the backend reports as terminal stop being watched, everything
// else stays tracked.
func (s *Service) ListMine(ctx context.Context, userID int64, force bool) ([]model.PurchaseAttempt, error) {
	if s.backend == nil {
		return nil, fmt.Errorf("purchases backend is nil")
	}
	if userID <= 0 {
		return nil, ErrValidation
	}

	if !force && s.cache != nil {
		cached, hit, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("purchase cache read failed", zap.Int64("user_id", userID), zap.Error(err))
		} else if hit {
			return cached, nil
		}
	}

	records, err := s.backend.ListPurchases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}

	attempts := make([]model.PurchaseAttempt, 0, len(records))
	for _, record := range records {
		attempts = append(attempts, mapRecord(userID, record))
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, attempts, s.listTTL); err != nil {
			s.logger.Warn("purchase cache write failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	s.reconcileWatchlist(ctx, userID, attempts)
	return attempts, nil
}

// Refresh drops the cached listing and refetches.
func (s *Service) Refresh(ctx context.Context, userID int64) ([]model.PurchaseAttempt, error) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.logger.Warn("purchase cache invalidation failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return s.ListMine(ctx, userID, true)
}

// IsEnrolled reports whether the user holds a confirmed purchase of the
// product.
func (s *Service) IsEnrolled(ctx context.Context, userID int64, productID string) (bool, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return false, ErrValidation
	}

	attempts, err := s.ListMine(ctx, userID, false)
	if err != nil {
		return false, err
	}
	for _, attempt := range attempts {
		if attempt.ProductID == productID && attempt.Status == enums.PurchaseStatusConfirmed {
			return true, nil
		}
	}
	return false, nil
}

// reconcileWatchlist drops watched ids that the backend already resolved.
// Watched ids missing from the listing are kept; the poller decides when to
// abandon those.
func (s *Service) reconcileWatchlist(ctx context.Context, userID int64, attempts []model.PurchaseAttempt) {
	if s.watchlist == nil {
		return
	}

	watched, err := s.watchlist.ListWatched(ctx, userID)
	if err != nil {
		s.logger.Warn("watchlist read failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if len(watched) == 0 {
		return
	}

	byID := make(map[string]model.PurchaseAttempt, len(attempts))
	for _, attempt := range attempts {
		byID[attempt.ID] = attempt
	}

	for _, purchaseID := range watched {
		attempt, ok := byID[purchaseID]
		if !ok || !attempt.Status.Terminal() {
			continue
		}
		if err := s.watchlist.RemoveWatched(ctx, userID, purchaseID); err != nil {
			s.logger.Warn("watchlist remove failed",
				zap.String("purchase_id", purchaseID),
				zap.Error(err),
			)
		}
	}
}

func mapRecord(userID int64, record commerceapi.PurchaseRecord) model.PurchaseAttempt {
	status, ok := enums.ParsePurchaseStatus(record.Status)
	if !ok {
		// An unrecognized status must never unlock content.
		status = enums.PurchaseStatusPending
	}

	attempt := model.PurchaseAttempt{
		ID:             record.PurchaseID,
		UserID:         userID,
		ProductID:      record.ProductID,
		Status:         status,
		DueAmount:      record.Amount,
		PaymentAddress: record.Address,
	}
	if method, ok := enums.ParsePaymentMethod(record.Provider); ok {
		attempt.Method = method
	}
	if record.ExpiresAt != nil {
		expiresAt := time.UnixMilli(*record.ExpiresAt).UTC()
		attempt.ExpiresAt = &expiresAt
	}
	return attempt
}
