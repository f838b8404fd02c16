package enums

import "testing"

func TestPurchaseStatusOrderIsMonotonic(t *testing.T) {
	sequence := []PurchaseStatus{
		PurchaseStatusUninitiated,
		PurchaseStatusPending,
		PurchaseStatusAwaitingProof,
		PurchaseStatusVerifying,
		PurchaseStatusConfirmed,
	}

	for i := 0; i < len(sequence)-1; i++ {
		if !sequence[i].CanTransition(sequence[i+1]) {
			t.Fatalf("expected %s -> %s to be allowed", sequence[i], sequence[i+1])
		}
		if sequence[i+1].Rank() <= sequence[i].Rank() {
			t.Fatalf("rank must strictly increase: %s -> %s", sequence[i], sequence[i+1])
		}
	}
}

func TestConfirmedNeverRegresses(t *testing.T) {
	for _, next := range []PurchaseStatus{
		PurchaseStatusUninitiated,
		PurchaseStatusPending,
		PurchaseStatusAwaitingProof,
		PurchaseStatusVerifying,
		PurchaseStatusFailed,
		PurchaseStatusExpired,
	} {
		if PurchaseStatusConfirmed.CanTransition(next) {
			t.Fatalf("confirmed must not transition to %s", next)
		}
	}
	if !PurchaseStatusConfirmed.CanTransition(PurchaseStatusConfirmed) {
		t.Fatalf("re-applying confirmed must stay allowed")
	}
}

func TestExpiredReachableOnlyFromNonTerminal(t *testing.T) {
	if !PurchaseStatusAwaitingProof.CanTransition(PurchaseStatusExpired) {
		t.Fatalf("awaiting_proof -> expired must be allowed")
	}
	if PurchaseStatusFailed.CanTransition(PurchaseStatusExpired) {
		t.Fatalf("failed -> expired must be rejected")
	}
}

func TestParsePurchaseStatusAcceptsWireCase(t *testing.T) {
	status, ok := ParsePurchaseStatus("CONFIRMED")
	if !ok || status != PurchaseStatusConfirmed {
		t.Fatalf("unexpected parse result: %s ok=%v", status, ok)
	}
	if _, ok := ParsePurchaseStatus("charged_back"); ok {
		t.Fatalf("unknown status must not parse")
	}
}
