package enums

import "strings"

type PaymentMethod string

const (
	PaymentMethodStablecoin PaymentMethod = "stablecoin"
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodFree       PaymentMethod = "free"
)

// ParsePaymentMethod also accepts the provider aliases the commerce backend
// answers with ("usdt" for the stablecoin rail).
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "stablecoin", "usdt":
		return PaymentMethodStablecoin, true
	case "card":
		return PaymentMethodCard, true
	case "free":
		return PaymentMethodFree, true
	default:
		return "", false
	}
}

// Provider is the wire name the backend uses for a method.
func (m PaymentMethod) Provider() string {
	if m == PaymentMethodStablecoin {
		return "usdt"
	}
	return string(m)
}
