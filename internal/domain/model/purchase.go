package model

import (
	"time"

	"github.com/nvoronin/tradeschool/backend/internal/domain/enums"
)

// PurchaseAttempt is the central checkout entity. The backend assigns the id
// on first successful initiation; before that the attempt is local-only.
type PurchaseAttempt struct {
	ID             string               `json:"id,omitempty"`
	AttemptKey     string               `json:"attempt_key"`
	UserID         int64                `json:"user_id"`
	ProductID      string               `json:"product_id"`
	Method         enums.PaymentMethod  `json:"method"`
	Status         enums.PurchaseStatus `json:"status"`
	DueAmount      float64              `json:"due_amount"`
	PaymentAddress string               `json:"payment_address,omitempty"`
	PaymentAmount  float64              `json:"payment_amount,omitempty"`
	CheckoutURL    string               `json:"checkout_url,omitempty"`
	ExpiresAt      *time.Time           `json:"expires_at,omitempty"`
	ProofReference string               `json:"proof_reference,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func (a PurchaseAttempt) Initiated() bool {
	return a.ID != ""
}
