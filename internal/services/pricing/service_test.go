package pricing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nvoronin/tradeschool/backend/internal/domain/enums"
	"github.com/nvoronin/tradeschool/backend/internal/infra/commerceapi"
)

type previewStub struct {
	mu      sync.Mutex
	results map[string]commerceapi.PreviewResult
	err     error
	gate    map[string]chan struct{}
	started map[string]chan struct{}
	calls   int
}

func newPreviewStub() *previewStub {
	return &previewStub{
		results: make(map[string]commerceapi.PreviewResult),
		gate:    make(map[string]chan struct{}),
		started: make(map[string]chan struct{}),
	}
}

func (s *previewStub) PreviewPurchase(_ context.Context, req commerceapi.CreatePurchaseRequest) (commerceapi.PreviewResult, error) {
	s.mu.Lock()
	s.calls++
	gate := s.gate[req.PromoCode]
	if started := s.started[req.PromoCode]; started != nil {
		close(started)
		delete(s.started, req.PromoCode)
	}
	result, ok := s.results[req.PromoCode]
	err := s.err
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return commerceapi.PreviewResult{}, err
	}
	if !ok {
		return commerceapi.PreviewResult{Amount: 100, BaseUsed: 100}, nil
	}
	return result, nil
}

func newTestService(backend Backend) *Service {
	return NewService(backend, Config{}, nil, nil)
}

func TestPreviewComputesDiscountAndDue(t *testing.T) {
	stub := newPreviewStub()
	stub.results["SAVE10"] = commerceapi.PreviewResult{Amount: 90, Discount: 10, BaseUsed: 100, PricingPath: "promo"}

	svc := newTestService(stub)
	quote, err := svc.Preview(context.Background(), PreviewInput{
		ProductID: "course-pro",
		Method:    enums.PaymentMethodStablecoin,
		PromoCode: "SAVE10",
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	if quote.BaseAmount != 100 || quote.Discount != 10 || quote.DueAmount != 90 {
		t.Fatalf("unexpected quote amounts: %+v", quote)
	}
	if !quote.PromoConfirmed {
		t.Fatalf("promo must be confirmed when due < base")
	}
	if quote.PricingPath != "promo" {
		t.Fatalf("unexpected pricing path: %s", quote.PricingPath)
	}
}

func TestPreviewPromoNotApplied(t *testing.T) {
	stub := newPreviewStub()
	stub.results["EXPIRED10"] = commerceapi.PreviewResult{Amount: 100, Discount: 0, BaseUsed: 100}

	svc := newTestService(stub)
	quote, err := svc.Preview(context.Background(), PreviewInput{
		ProductID: "course-pro",
		Method:    enums.PaymentMethodCard,
		PromoCode: "EXPIRED10",
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	if quote.PromoConfirmed {
		t.Fatalf("unchanged due amount must not confirm the promo")
	}
	if quote.DueAmount != quote.BaseAmount {
		t.Fatalf("unexpected due amount: %+v", quote)
	}
}

func TestPreviewAddonTrackedSeparately(t *testing.T) {
	stub := newPreviewStub()
	stub.results["SAVE10"] = commerceapi.PreviewResult{Amount: 90, Discount: 10, BaseUsed: 100}

	svc := newTestService(stub)
	quote, err := svc.Preview(context.Background(), PreviewInput{
		ProductID:   "course-pro",
		Method:      enums.PaymentMethodStablecoin,
		PromoCode:   "SAVE10",
		AddonAmount: 49.99,
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if quote.DueAmount != 139.99 {
		t.Fatalf("unexpected due with addon: %f", quote.DueAmount)
	}

	callsBefore := stub.calls
	updated, ok := svc.ClearAddon()
	if !ok {
		t.Fatalf("expected current quote to exist")
	}
	if updated.DueAmount != 90 || !updated.PromoConfirmed {
		t.Fatalf("cancelling addon must keep promo intact: %+v", updated)
	}
	if stub.calls != callsBefore {
		t.Fatalf("cancelling addon must not re-run the preview")
	}
}

func TestPreviewFailureClearsQuote(t *testing.T) {
	stub := newPreviewStub()
	stub.results["SAVE10"] = commerceapi.PreviewResult{Amount: 90, Discount: 10, BaseUsed: 100}

	svc := newTestService(stub)
	if _, err := svc.Preview(context.Background(), PreviewInput{
		ProductID: "course-pro",
		Method:    enums.PaymentMethodStablecoin,
		PromoCode: "SAVE10",
	}); err != nil {
		t.Fatalf("preview: %v", err)
	}
	if _, ok := svc.CurrentQuote(); !ok {
		t.Fatalf("expected stored quote")
	}

	stub.mu.Lock()
	stub.err = errors.New("backend down")
	stub.mu.Unlock()

	if _, err := svc.Preview(context.Background(), PreviewInput{
		ProductID: "course-pro",
		Method:    enums.PaymentMethodStablecoin,
		PromoCode: "SAVE10",
	}); err == nil {
		t.Fatalf("expected preview failure")
	}

	if _, ok := svc.CurrentQuote(); ok {
		t.Fatalf("failed preview must clear the stored discount state")
	}
}

func TestStaleResponseCannotOverwriteNewerResult(t *testing.T) {
	stub := newPreviewStub()
	stub.results["A"] = commerceapi.PreviewResult{Amount: 80, Discount: 20, BaseUsed: 100}
	stub.results["B"] = commerceapi.PreviewResult{Amount: 95, Discount: 5, BaseUsed: 100}

	gateA := make(chan struct{})
	startedA := make(chan struct{})
	stub.gate["A"] = gateA
	stub.started["A"] = startedA

	svc := newTestService(stub)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.Preview(context.Background(), PreviewInput{
			ProductID: "course-pro",
			Method:    enums.PaymentMethodStablecoin,
			PromoCode: "A",
		})
	}()
	<-startedA

	// B is issued after A and resolves first.
	if _, err := svc.Preview(context.Background(), PreviewInput{
		ProductID: "course-pro",
		Method:    enums.PaymentMethodStablecoin,
		PromoCode: "B",
	}); err != nil {
		t.Fatalf("preview B: %v", err)
	}

	close(gateA)
	wg.Wait()

	quote, ok := svc.CurrentQuote()
	if !ok {
		t.Fatalf("expected current quote")
	}
	if quote.PromoCode != "B" || quote.DueAmount != 95 {
		t.Fatalf("stale A response overwrote newer B result: %+v", quote)
	}
}

func TestPreviewDebouncedRunsOnlyLatest(t *testing.T) {
	stub := newPreviewStub()
	stub.results["FINAL"] = commerceapi.PreviewResult{Amount: 75, Discount: 25, BaseUsed: 100}

	svc := newTestService(stub)

	var got *Quote
	for _, code := range []string{"F", "FI", "FIN", "FINAL"} {
		svc.PreviewDebounced(context.Background(), PreviewInput{
			ProductID: "course-pro",
			Method:    enums.PaymentMethodStablecoin,
			PromoCode: code,
		}, func(q Quote, err error) {
			if err != nil {
				t.Errorf("debounced preview: %v", err)
				return
			}
			got = &q
		})
	}
	svc.FlushPending()

	if stub.calls != 1 {
		t.Fatalf("expected a single backend call after debounce, got %d", stub.calls)
	}
	if got == nil || got.PromoCode != "FINAL" {
		t.Fatalf("expected only the final keystroke to resolve, got %+v", got)
	}
}

func TestPreviewValidation(t *testing.T) {
	svc := newTestService(newPreviewStub())

	if _, err := svc.Preview(context.Background(), PreviewInput{Method: enums.PaymentMethodCard}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for missing product, got %v", err)
	}
	if _, err := svc.Preview(context.Background(), PreviewInput{ProductID: "x", Method: "paypal"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown method, got %v", err)
	}
}
