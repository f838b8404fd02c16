package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nvoronin/tradeschool/backend/internal/domain/enums"
	"github.com/nvoronin/tradeschool/backend/internal/domain/rules"
	"github.com/nvoronin/tradeschool/backend/internal/infra/commerceapi"
	"github.com/nvoronin/tradeschool/backend/internal/infra/metrics"
	"github.com/nvoronin/tradeschool/backend/internal/pkg/debounce"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrProductNotFound = errors.New("product not found")
)

// Backend is the slice of the commerce client the preview engine needs.
type Backend interface {
	PreviewPurchase(ctx context.Context, req commerceapi.CreatePurchaseRequest) (commerceapi.PreviewResult, error)
}

// Quote is a non-committing price computation. The recurring add-on rides on
// top of the previewed due amount and is tracked separately so cancelling it
// never re-runs the promo computation.
type Quote struct {
	ProductID      string
	Method         enums.PaymentMethod
	PromoCode      string
	BaseAmount     float64
	Discount       float64
	AddonAmount    float64
	DueAmount      float64
	PromoConfirmed bool
	PricingPath    string
}

type PreviewInput struct {
	ProductID   string
	Method      enums.PaymentMethod
	PromoCode   string
	AddonAmount float64
}

// Service always recomputes prices on the backend; locally it only keeps the
// latest resolved quote and guards it against stale responses by request
// sequence, not arrival order.
type Service struct {
	backend   Backend
	metrics   *metrics.Registry
	logger    *zap.Logger
	debouncer *debounce.Debouncer

	mu   sync.Mutex
	seq  uint64
	last *Quote
}

type Config struct {
	DebounceDelay time.Duration
}

func NewService(backend Backend, cfg Config, m *metrics.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		backend:   backend,
		metrics:   m,
		logger:    logger,
		debouncer: debounce.New(cfg.DebounceDelay),
	}
}

// Preview issues a pricing preview immediately. The returned quote is also
// stored as the engine's current quote unless a newer preview was issued in
// the meantime.
func (s *Service) Preview(ctx context.Context, in PreviewInput) (Quote, error) {
	if s.backend == nil {
		return Quote{}, fmt.Errorf("pricing backend is nil")
	}
	if !validInput(in) {
		return Quote{}, ErrValidation
	}

	seq := s.nextSeq()
	quote, err := s.fetch(ctx, in)
	if err != nil {
		// A failed preview must not leave a half-applied discount behind.
		s.clearIfCurrent(seq)
		s.countPreview("error")
		return Quote{}, err
	}

	s.store(seq, quote)
	if quote.PromoCode != "" && !quote.PromoConfirmed {
		s.countPreview("promo_not_applied")
	} else {
		s.countPreview("ok")
	}
	return quote, nil
}

// PreviewDebounced schedules a preview after the settle delay, superseding
// any pending one; onResult fires only when the result is still current.
// Intended for per-keystroke promo code input.
func (s *Service) PreviewDebounced(ctx context.Context, in PreviewInput, onResult func(Quote, error)) {
	s.debouncer.Schedule(ctx, func(ctx context.Context, applicable func() bool) {
		quote, err := s.Preview(ctx, in)
		if !applicable() {
			return
		}
		if onResult != nil {
			onResult(quote, err)
		}
	})
}

// FlushPending runs any debounced preview immediately (e.g. on field blur).
func (s *Service) FlushPending() {
	s.debouncer.Flush()
}

// CurrentQuote returns the latest resolved quote, if any.
func (s *Service) CurrentQuote() (Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Quote{}, false
	}
	return *s.last, true
}

// SetAddon updates the recurring add-on on the current quote without
// re-running the promo computation.
func (s *Service) SetAddon(amount float64) (Quote, bool) {
	if amount < 0 {
		amount = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Quote{}, false
	}

	s.last.AddonAmount = amount
	s.last.DueAmount = dueAmount(s.last.BaseAmount, s.last.Discount, amount)
	return *s.last, true
}

// ClearAddon cancels the recurring add-on, keeping the promo result intact.
func (s *Service) ClearAddon() (Quote, bool) {
	return s.SetAddon(0)
}

// Clear drops the current quote; callers use it when the product or method
// selection changes.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.last = nil
	s.debouncer.Cancel()
}

func (s *Service) fetch(ctx context.Context, in PreviewInput) (Quote, error) {
	result, err := s.backend.PreviewPurchase(ctx, commerceapi.CreatePurchaseRequest{
		ProductID: strings.TrimSpace(in.ProductID),
		Method:    in.Method.Provider(),
		PromoCode: strings.TrimSpace(in.PromoCode),
	})
	if err != nil {
		if commerceapi.IsNotFound(err) {
			return Quote{}, fmt.Errorf("%w: %s", ErrProductNotFound, in.ProductID)
		}
		return Quote{}, fmt.Errorf("preview purchase: %w", err)
	}

	base := result.BaseUsed
	discount := result.Discount
	// The amounts are authoritative; reconcile an inconsistent discount field
	// against them instead of charging a stale discount.
	if !rules.AmountsEqual(base-discount, result.Amount) {
		discount = base - result.Amount
		if discount < 0 {
			discount = 0
		}
	}

	promo := strings.TrimSpace(in.PromoCode)
	return Quote{
		ProductID:      strings.TrimSpace(in.ProductID),
		Method:         in.Method,
		PromoCode:      promo,
		BaseAmount:     base,
		Discount:       discount,
		AddonAmount:    in.AddonAmount,
		DueAmount:      dueAmount(base, discount, in.AddonAmount),
		PromoConfirmed: promo != "" && rules.PromoApplied(base, result.Amount),
		PricingPath:    result.PricingPath,
	}, nil
}

func (s *Service) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// store applies a resolved quote only while its request is still the newest
// issued one, so an older response can never overwrite a newer result.
func (s *Service) store(seq uint64, quote Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != seq {
		s.logger.Debug("discarded stale preview result",
			zap.String("product_id", quote.ProductID),
			zap.String("promo_code", quote.PromoCode),
		)
		return
	}
	s.last = &quote
}

func (s *Service) clearIfCurrent(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != seq {
		return
	}
	s.last = nil
}

func (s *Service) countPreview(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.PreviewRequests.WithLabelValues(outcome).Inc()
}

func validInput(in PreviewInput) bool {
	if strings.TrimSpace(in.ProductID) == "" {
		return false
	}
	switch in.Method {
	case enums.PaymentMethodStablecoin, enums.PaymentMethodCard, enums.PaymentMethodFree:
		return true
	default:
		return false
	}
}

func dueAmount(base, discount, addon float64) float64 {
	q := rules.Quote{BaseAmount: base, Discount: discount, AddonAmount: addon}
	return q.DueAmount()
}
