package proof

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
	"github.com/nvoronin/tradeschool/backend/internal/infra/metrics"
	"github.com/nvoronin/tradeschool/backend/internal/pkg/validate"
	"github.com/nvoronin/tradeschool/backend/internal/services/checkout"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrProofRejected = errors.New("proof rejected")
	// ErrPollAbandoned means the backend stopped returning the purchase long
	// enough that waiting further is pointless.
	ErrPollAbandoned = errors.New("purchase no longer reported by backend")
	// ErrPollExhausted means the poll attempt budget ran out without the
	// purchase reaching a terminal status.
	ErrPollExhausted = errors.New("confirmation polling exhausted")
)

type Backend interface {
	ConfirmPurchase(ctx context.Context, req commerceapi.ProofRequest) (commerceapi.ProofResult, error)
	SubmitProof(ctx context.Context, req commerceapi.ProofRequest) (commerceapi.ProofResult, error)
	GetPurchase(ctx context.Context, purchaseID string) (commerceapi.PurchaseRecord, error)
}

// Initiator lets a pasted proof create the purchase it belongs to when the
// user skipped the initiate step.
type Initiator interface {
	Initiate(ctx context.Context, userID int64, in checkout.InitiateInput) (model.PurchaseAttempt, error)
}

type Journal interface {
	SetProofReference(ctx context.Context, purchaseID, proofReference string) error
	TransitionStatus(ctx context.Context, purchaseID, from, to string) (bool, error)
}

type Watchlist interface {
	AddWatched(ctx context.Context, userID int64, purchaseID string) error
	RemoveWatched(ctx context.Context, userID int64, purchaseID string) error
}

type Config struct {
	PollInterval      time.Duration
	PollMaxAttempts   int
	PollNotFoundLimit int
}

type Dependencies struct {
	Backend   Backend
	Initiator Initiator
	Journal   Journal
	Watchlist Watchlist
	Metrics   *metrics.Registry
	Logger    *zap.Logger
}

// Service accepts payment proofs and polls the backend until the purchase
// resolves. Submission prefers the confirm endpoint and falls back to the
// legacy proof endpoint exactly once, never after a success.
type Service struct {
	backend   Backend
	initiator Initiator
	journal   Journal
	watchlist Watchlist
	metrics   *metrics.Registry
	logger    *zap.Logger
	cfg       Config
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 360
	}
	if cfg.PollNotFoundLimit <= 0 {
		cfg.PollNotFoundLimit = 12
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		backend:   deps.Backend,
		initiator: deps.Initiator,
		journal:   deps.Journal,
		watchlist: deps.Watchlist,
		metrics:   deps.Metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

type SubmitInput struct {
	PurchaseID string
	ProductID  string
	Method     enums.PaymentMethod
	PromoCode  string
	TxHash     string
	// PreviewedDue carries the last previewed amount into a lazy initiation.
	PreviewedDue float64
}

// Submit sends a payment proof for verification. When PurchaseID is empty the
// purchase is initiated first, so pasting a transaction hash is enough even
// if the user never pressed the pay button.
func (s *Service) Submit(ctx context.Context, userID int64, in SubmitInput) (model.PurchaseAttempt, error) {
	if s.backend == nil {
		return model.PurchaseAttempt{}, fmt.Errorf("proof backend is nil")
	}
	txHash := strings.TrimSpace(in.TxHash)
	if userID <= 0 || !validate.Required(txHash) {
		s.countSubmission("invalid")
		return model.PurchaseAttempt{}, ErrValidation
	}

	attempt := model.PurchaseAttempt{
		ID:        strings.TrimSpace(in.PurchaseID),
		UserID:    userID,
		ProductID: strings.TrimSpace(in.ProductID),
		Method:    in.Method,
		Status:    enums.PurchaseStatusAwaitingProof,
	}

	if !attempt.Initiated() {
		if s.initiator == nil {
			s.countSubmission("invalid")
			return model.PurchaseAttempt{}, fmt.Errorf("%w: purchase id is required", ErrValidation)
		}
		initiated, err := s.initiator.Initiate(ctx, userID, checkout.InitiateInput{
			ProductID:    in.ProductID,
			Method:       in.Method,
			PromoCode:    in.PromoCode,
			PreviewedDue: in.PreviewedDue,
		})
		if err != nil {
			s.countSubmission("error")
			return model.PurchaseAttempt{}, fmt.Errorf("lazy initiation: %w", err)
		}
		attempt = initiated
	}

	if err := s.send(ctx, attempt, txHash); err != nil {
		return model.PurchaseAttempt{}, err
	}

	attempt.Status = enums.PurchaseStatusVerifying
	attempt.ProofReference = txHash
	s.recordSubmission(ctx, attempt)
	s.countSubmission("accepted")

	return attempt, nil
}

// send tries the confirm endpoint first and the legacy proof endpoint second.
// The fallback fires only when confirm did not succeed; a confirm success is
// final even if its response body is odd.
func (s *Service) send(ctx context.Context, attempt model.PurchaseAttempt, txHash string) error {
	req := commerceapi.ProofRequest{
		PurchaseID: attempt.ID,
		Method:     attempt.Method.Provider(),
		TxHash:     txHash,
	}

	result, confirmErr := s.backend.ConfirmPurchase(ctx, req)
	if confirmErr == nil && result.OK {
		return nil
	}
	if confirmErr != nil && commerceapi.IsRejection(confirmErr) && !commerceapi.IsNotFound(confirmErr) {
		s.countSubmission("rejected")
		return fmt.Errorf("%w: %v", ErrProofRejected, confirmErr)
	}
	if confirmErr != nil {
		s.logger.Warn("confirm endpoint unavailable, falling back to proof endpoint",
			zap.String("purchase_id", attempt.ID),
			zap.Error(confirmErr),
		)
	}

	result, proofErr := s.backend.SubmitProof(ctx, req)
	if proofErr == nil && result.OK {
		return nil
	}
	if proofErr != nil && commerceapi.IsRejection(proofErr) {
		s.countSubmission("rejected")
		return fmt.Errorf("%w: %v", ErrProofRejected, proofErr)
	}
	if proofErr != nil {
		s.countSubmission("error")
		return fmt.Errorf("submit proof: %w", proofErr)
	}

	s.countSubmission("rejected")
	return ErrProofRejected
}

func (s *Service) recordSubmission(ctx context.Context, attempt model.PurchaseAttempt) {
	if s.journal != nil {
		if err := s.journal.SetProofReference(ctx, attempt.ID, attempt.ProofReference); err != nil {
			s.logger.Warn("journal proof reference update failed",
				zap.String("purchase_id", attempt.ID),
				zap.Error(err),
			)
		}
		if _, err := s.journal.TransitionStatus(ctx, attempt.ID,
			string(enums.PurchaseStatusAwaitingProof),
			string(enums.PurchaseStatusVerifying),
		); err != nil {
			s.logger.Warn("journal status transition failed",
				zap.String("purchase_id", attempt.ID),
				zap.Error(err),
			)
		}
	}

	// Re-added on every submission: recovery after a crash between initiation
	// and proof must still find this purchase watched.
	if s.watchlist != nil {
		if err := s.watchlist.AddWatched(ctx, attempt.UserID, attempt.ID); err != nil {
			s.logger.Warn("watchlist add failed",
				zap.String("purchase_id", attempt.ID),
				zap.Error(err),
			)
		}
	}
}

// Poll blocks until the purchase reaches a terminal status, the attempt
// budget runs out, the backend stops reporting the purchase, or ctx is
// cancelled. Transient backend failures are retried on the next tick and do
// not count toward the not-found limit.
func (s *Service) Poll(ctx context.Context, userID int64, purchaseID string) (commerceapi.PurchaseRecord, error) {
	if s.backend == nil {
		return commerceapi.PurchaseRecord{}, fmt.Errorf("proof backend is nil")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return commerceapi.PurchaseRecord{}, ErrValidation
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	notFound := 0
	for attempts := 0; attempts < s.cfg.PollMaxAttempts; attempts++ {
		select {
		case <-ctx.Done():
			return commerceapi.PurchaseRecord{}, ctx.Err()
		case <-ticker.C:
		}
		s.countTick()

		record, err := s.backend.GetPurchase(ctx, purchaseID)
		if err != nil {
			if commerceapi.IsNotFound(err) {
				notFound++
				if notFound >= s.cfg.PollNotFoundLimit {
					s.resolve(ctx, userID, purchaseID, "abandoned", nil)
					return commerceapi.PurchaseRecord{}, ErrPollAbandoned
				}
				continue
			}
			s.logger.Warn("confirmation poll failed, retrying",
				zap.String("purchase_id", purchaseID),
				zap.Error(err),
			)
			continue
		}
		notFound = 0

		status, ok := enums.ParsePurchaseStatus(record.Status)
		if !ok || !status.Terminal() {
			continue
		}

		s.resolve(ctx, userID, purchaseID, string(status), &status)
		return record, nil
	}

	s.resolve(ctx, userID, purchaseID, "exhausted", nil)
	return commerceapi.PurchaseRecord{}, ErrPollExhausted
}

// StartPolling runs Poll in the background and reports the outcome through
// onResolved. The returned cancel func stops the loop.
func (s *Service) StartPolling(ctx context.Context, userID int64, purchaseID string, onResolved func(commerceapi.PurchaseRecord, error)) context.CancelFunc {
	pollCtx, cancel := context.WithCancel(ctx)

	go func() {
		record, err := s.Poll(pollCtx, userID, purchaseID)
		if errors.Is(err, context.Canceled) {
			return
		}
		if onResolved != nil {
			onResolved(record, err)
		}
	}()

	return cancel
}

func (s *Service) resolve(ctx context.Context, userID int64, purchaseID, outcome string, status *enums.PurchaseStatus) {
	if s.metrics != nil {
		s.metrics.PollResolutions.WithLabelValues(outcome).Inc()
	}

	if s.journal != nil && status != nil {
		if _, err := s.journal.TransitionStatus(ctx, purchaseID,
			string(enums.PurchaseStatusVerifying),
			string(*status),
		); err != nil {
			s.logger.Warn("journal resolution update failed",
				zap.String("purchase_id", purchaseID),
				zap.Error(err),
			)
		}
	}

	if s.watchlist != nil {
		if err := s.watchlist.RemoveWatched(ctx, userID, purchaseID); err != nil {
			s.logger.Warn("watchlist remove failed",
				zap.String("purchase_id", purchaseID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("confirmation polling resolved",
		zap.String("purchase_id", purchaseID),
		zap.String("outcome", outcome),
	)
}

func (s *Service) countTick() {
	if s.metrics == nil {
		return
	}
	s.metrics.PollTicks.Inc()
}

func (s *Service) countSubmission(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ProofSubmissions.WithLabelValues(outcome).Inc()
}
