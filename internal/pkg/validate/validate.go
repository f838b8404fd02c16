package validate

import "strings"

func Required(value string) bool {
	return strings.TrimSpace(value) != ""
}

func NonNegative(value float64) bool {
	return value >= 0
}
