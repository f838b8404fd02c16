package dto

import "time"

type PreviewRequest struct {
	ProductID   string  `json:"product_id"`
	Method      string  `json:"method"`
	PromoCode   string  `json:"promo_code,omitempty"`
	AddonAmount float64 `json:"addon_amount,omitempty"`
}

type PreviewResponse struct {
	ProductID      string  `json:"product_id"`
	Method         string  `json:"method"`
	PromoCode      string  `json:"promo_code,omitempty"`
	BaseAmount     float64 `json:"base_amount"`
	Discount       float64 `json:"discount"`
	AddonAmount    float64 `json:"addon_amount"`
	DueAmount      float64 `json:"due_amount"`
	PromoConfirmed bool    `json:"promo_confirmed"`
	PricingPath    string  `json:"pricing_path,omitempty"`
}

type InitiateRequest struct {
	ProductID    string  `json:"product_id"`
	Method       string  `json:"method"`
	PromoCode    string  `json:"promo_code,omitempty"`
	PurchaseID   string  `json:"purchase_id,omitempty"`
	PreviewedDue float64 `json:"previewed_due,omitempty"`
}

type InitiateResponse struct {
	PurchaseID     string     `json:"purchase_id"`
	Status         string     `json:"status"`
	Method         string     `json:"method"`
	DueAmount      float64    `json:"due_amount"`
	PaymentAddress string     `json:"payment_address,omitempty"`
	PaymentAmount  float64    `json:"payment_amount,omitempty"`
	CheckoutURL    string     `json:"checkout_url,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	RemainingSec   int64      `json:"remaining_sec,omitempty"`
}

type ProofSubmitRequest struct {
	PurchaseID   string  `json:"purchase_id,omitempty"`
	ProductID    string  `json:"product_id,omitempty"`
	Method       string  `json:"method"`
	PromoCode    string  `json:"promo_code,omitempty"`
	TxHash       string  `json:"tx_hash"`
	PreviewedDue float64 `json:"previewed_due,omitempty"`
}

type ProofSubmitResponse struct {
	PurchaseID     string `json:"purchase_id"`
	Status         string `json:"status"`
	ProofReference string `json:"proof_reference"`
}
