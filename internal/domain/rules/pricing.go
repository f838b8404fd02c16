package rules

import "math"

// AmountEpsilon is the tolerance below which two displayed amounts are
// considered equal.
const AmountEpsilon = 1e-9

// Quote is the outcome of a pricing preview. Discount and the recurring
// add-on are tracked separately so cancelling the add-on never re-runs the
// promo computation.
type Quote struct {
	BaseAmount     float64
	Discount       float64
	AddonAmount    float64
	PromoConfirmed bool
	PricingPath    string
}

// DueAmount is base minus discount plus the recurring add-on, clamped at zero.
func (q Quote) DueAmount() float64 {
	due := q.BaseAmount - q.Discount + q.AddonAmount
	if due < 0 {
		return 0
	}
	return due
}

// PromoApplied reports whether the backend actually discounted the price: the
// due amount must undercut the base amount by more than the epsilon. An
// echoed-back unchanged amount means the code was not applied, which is a
// normal outcome, not an error.
func PromoApplied(baseAmount, dueAmount float64) bool {
	return dueAmount < baseAmount-AmountEpsilon
}

// AmountsEqual compares two displayed amounts within the epsilon.
func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) <= AmountEpsilon
}

// PreferPreviewedAmount picks the amount to display for an initiated
// purchase. When the backend amount and the last previewed amount differ only
// by rounding noise the previewed one wins, keeping the UI consistent with
// what the user committed to.
func PreferPreviewedAmount(previewed, backend float64, roundingTolerance float64) float64 {
	if previewed <= 0 {
		return backend
	}
	if roundingTolerance <= 0 {
		roundingTolerance = 0.01
	}
	if math.Abs(previewed-backend) <= roundingTolerance {
		return previewed
	}
	return backend
}
