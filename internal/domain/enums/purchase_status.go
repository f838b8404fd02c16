package enums

import "strings"

type PurchaseStatus string

const (
	PurchaseStatusUninitiated   PurchaseStatus = "uninitiated"
	PurchaseStatusPending       PurchaseStatus = "pending"
	PurchaseStatusAwaitingProof PurchaseStatus = "awaiting_proof"
	PurchaseStatusVerifying     PurchaseStatus = "verifying"
	PurchaseStatusConfirmed     PurchaseStatus = "confirmed"
	PurchaseStatusFailed        PurchaseStatus = "failed"
	PurchaseStatusExpired       PurchaseStatus = "expired"
)

// ParsePurchaseStatus accepts the backend's upper-case wire statuses as well.
func ParsePurchaseStatus(raw string) (PurchaseStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "uninitiated":
		return PurchaseStatusUninitiated, true
	case "pending":
		return PurchaseStatusPending, true
	case "awaiting_proof":
		return PurchaseStatusAwaitingProof, true
	case "verifying":
		return PurchaseStatusVerifying, true
	case "confirmed":
		return PurchaseStatusConfirmed, true
	case "failed":
		return PurchaseStatusFailed, true
	case "expired":
		return PurchaseStatusExpired, true
	default:
		return "", false
	}
}

// Rank defines the partial order of the purchase lifecycle. Terminal statuses
// share the highest rank so no transition can leave them.
func (s PurchaseStatus) Rank() int {
	switch s {
	case PurchaseStatusUninitiated:
		return 0
	case PurchaseStatusPending:
		return 1
	case PurchaseStatusAwaitingProof:
		return 2
	case PurchaseStatusVerifying:
		return 3
	case PurchaseStatusConfirmed, PurchaseStatusFailed, PurchaseStatusExpired:
		return 4
	default:
		return -1
	}
}

func (s PurchaseStatus) Terminal() bool {
	switch s {
	case PurchaseStatusConfirmed, PurchaseStatusFailed, PurchaseStatusExpired:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// monotonic. Re-applying the same status is allowed; leaving a terminal
// status is not.
func (s PurchaseStatus) CanTransition(next PurchaseStatus) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	return next.Rank() > s.Rank()
}
