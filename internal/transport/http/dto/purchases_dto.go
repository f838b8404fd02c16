package dto

import "time"

type PurchaseItem struct {
	PurchaseID     string     `json:"purchase_id"`
	ProductID      string     `json:"product_id"`
	Method         string     `json:"method,omitempty"`
	Status         string     `json:"status"`
	DueAmount      float64    `json:"due_amount"`
	PaymentAddress string     `json:"payment_address,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type PurchaseListResponse struct {
	Purchases []PurchaseItem `json:"purchases"`
}

type EnrollmentResponse struct {
	ProductID string `json:"product_id"`
	Enrolled  bool   `json:"enrolled"`
}
