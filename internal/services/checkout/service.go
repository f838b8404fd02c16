package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nvoronin/tradeschool/backend/internal/domain/enums"
	"github.com/nvoronin/tradeschool/backend/internal/domain/model"
	"github.com/nvoronin/tradeschool/backend/internal/domain/rules"
	"github.com/nvoronin/tradeschool/backend/internal/infra/commerceapi"
	"github.com/nvoronin/tradeschool/backend/internal/infra/metrics"
	"github.com/nvoronin/tradeschool/backend/internal/pkg/validate"
	pgrepo "github.com/nvoronin/tradeschool/backend/internal/repo/postgres"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrProductNotFound       = errors.New("product not found")
	ErrMissingPaymentAddress = errors.New("backend returned no payment address")
	ErrMissingCheckoutURL    = errors.New("backend returned no checkout url")
	ErrUnsupportedProvider   = errors.New("unsupported provider")
	ErrInitiationRejected    = errors.New("initiation rejected")
)

type Backend interface {
	CreatePurchase(ctx context.Context, req commerceapi.CreatePurchaseRequest) (commerceapi.CreatePurchaseResult, error)
}

type Journal interface {
	Create(ctx context.Context, attemptKey string, userID int64, productID, method string, dueAmount float64) (pgrepo.AttemptRecord, error)
	AttachInitiation(ctx context.Context, attemptKey, purchaseID, status string, dueAmount float64, paymentAddress, checkoutURL string, paymentAmount float64, expiresAt *time.Time) (pgrepo.AttemptRecord, error)
}

type Watchlist interface {
	AddWatched(ctx context.Context, userID int64, purchaseID string) error
}

type InitiateInput struct {
	ProductID          string
	Method             enums.PaymentMethod
	PromoCode          string
	ExistingPurchaseID string
	// PreviewedDue is the due amount last shown to the user; it wins over the
	// backend amount when the two differ only by rounding.
	PreviewedDue float64
}

// Service commits purchase attempts against the backend. It never retries on
// its own: a failed initiation stays uninitiated and the user re-submits.
type Service struct {
	backend   Backend
	journal   Journal
	watchlist Watchlist
	metrics   *metrics.Registry
	logger    *zap.Logger

	paymentWindow  time.Duration
	roundTolerance float64
	now            func() time.Time
	newAttemptKey  func() string
}

type Config struct {
	PaymentWindow        time.Duration
	AmountRoundTolerance float64
}

type Dependencies struct {
	Backend   Backend
	Journal   Journal
	Watchlist Watchlist
	Metrics   *metrics.Registry
	Logger    *zap.Logger
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 30 * time.Minute
	}
	if cfg.AmountRoundTolerance <= 0 {
		cfg.AmountRoundTolerance = 0.01
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		backend:        deps.Backend,
		journal:        deps.Journal,
		watchlist:      deps.Watchlist,
		metrics:        deps.Metrics,
		logger:         logger,
		paymentWindow:  cfg.PaymentWindow,
		roundTolerance: cfg.AmountRoundTolerance,
		now:            time.Now,
		newAttemptKey:  uuid.NewString,
	}
}

// Initiate commits to a purchase attempt. Passing ExistingPurchaseID resumes
// an incomplete purchase: the backend echoes the same id back and no second
// record is created. The attempt branches on the provider the backend
// actually set up, not the method that was requested.
func (s *Service) Initiate(ctx context.Context, userID int64, in InitiateInput) (model.PurchaseAttempt, error) {
	if s.backend == nil {
		return model.PurchaseAttempt{}, fmt.Errorf("checkout backend is nil")
	}
	if userID <= 0 || !validate.Required(in.ProductID) || !validate.NonNegative(in.PreviewedDue) {
		return model.PurchaseAttempt{}, ErrValidation
	}
	if _, ok := enums.ParsePaymentMethod(string(in.Method)); !ok {
		return model.PurchaseAttempt{}, ErrValidation
	}

	attemptKey := s.newAttemptKey()
	if s.journal != nil {
		if _, err := s.journal.Create(ctx, attemptKey, userID, in.ProductID, string(in.Method), in.PreviewedDue); err != nil {
			s.logger.Warn("journal create failed, continuing without local recovery record", zap.Error(err))
		}
	}

	result, err := s.backend.CreatePurchase(ctx, commerceapi.CreatePurchaseRequest{
		ProductID:  strings.TrimSpace(in.ProductID),
		Method:     in.Method.Provider(),
		PromoCode:  strings.TrimSpace(in.PromoCode),
		PurchaseID: strings.TrimSpace(in.ExistingPurchaseID),
		AttemptKey: attemptKey,
	})
	if err != nil {
		if commerceapi.IsNotFound(err) {
			return model.PurchaseAttempt{}, fmt.Errorf("%w: %s", ErrProductNotFound, in.ProductID)
		}
		if commerceapi.IsRejection(err) {
			return model.PurchaseAttempt{}, fmt.Errorf("%w: %v", ErrInitiationRejected, err)
		}
		return model.PurchaseAttempt{}, fmt.Errorf("create purchase: %w", err)
	}
	if strings.TrimSpace(result.PurchaseID) == "" {
		return model.PurchaseAttempt{}, fmt.Errorf("backend returned no purchase id")
	}

	method, ok := enums.ParsePaymentMethod(result.Provider)
	if !ok {
		return model.PurchaseAttempt{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, result.Provider)
	}

	now := s.now().UTC()
	attempt := model.PurchaseAttempt{
		ID:         result.PurchaseID,
		AttemptKey: attemptKey,
		UserID:     userID,
		ProductID:  strings.TrimSpace(in.ProductID),
		Method:     method,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	switch method {
	case enums.PaymentMethodStablecoin:
		if strings.TrimSpace(result.Address) == "" {
			return model.PurchaseAttempt{}, ErrMissingPaymentAddress
		}
		expiresAt := now.Add(s.paymentWindow)
		attempt.Status = enums.PurchaseStatusAwaitingProof
		attempt.PaymentAddress = result.Address
		attempt.PaymentAmount = result.Amount
		attempt.DueAmount = rules.PreferPreviewedAmount(in.PreviewedDue, result.Amount, s.roundTolerance)
		attempt.ExpiresAt = &expiresAt

	case enums.PaymentMethodCard:
		if strings.TrimSpace(result.CheckoutURL) == "" {
			return model.PurchaseAttempt{}, ErrMissingCheckoutURL
		}
		attempt.Status = enums.PurchaseStatusPending
		attempt.CheckoutURL = result.CheckoutURL
		attempt.DueAmount = rules.PreferPreviewedAmount(in.PreviewedDue, result.Amount, s.roundTolerance)

	case enums.PaymentMethodFree:
		attempt.Status = enums.PurchaseStatusConfirmed
		attempt.DueAmount = 0
	}

	// The backend-assigned id is persisted before returning so a reload
	// resumes this attempt instead of duplicating it.
	s.persist(ctx, attempt)
	s.watch(ctx, attempt)
	s.countInitiation(method)

	return attempt, nil
}

func (s *Service) persist(ctx context.Context, attempt model.PurchaseAttempt) {
	if s.journal == nil {
		return
	}

	if _, err := s.journal.AttachInitiation(
		ctx,
		attempt.AttemptKey,
		attempt.ID,
		string(attempt.Status),
		attempt.DueAmount,
		attempt.PaymentAddress,
		attempt.CheckoutURL,
		attempt.PaymentAmount,
		attempt.ExpiresAt,
	); err != nil {
		s.logger.Warn("journal initiation persist failed",
			zap.String("purchase_id", attempt.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) watch(ctx context.Context, attempt model.PurchaseAttempt) {
	if s.watchlist == nil {
		return
	}
	if err := s.watchlist.AddWatched(ctx, attempt.UserID, attempt.ID); err != nil {
		s.logger.Warn("watchlist add failed",
			zap.String("purchase_id", attempt.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) countInitiation(method enums.PaymentMethod) {
	if s.metrics == nil {
		return
	}
	s.metrics.Initiations.WithLabelValues(method.Provider()).Inc()
}

// SetClockForTest overrides the service clock.
func (s *Service) SetClockForTest(now func() time.Time) {
	s.now = now
}
