package handlers

import (
	"errors"
	"net/http"

	authsvc "github.com/nvoronin/tradeschool/backend/internal/services/auth"
	purchasessvc "github.com/nvoronin/tradeschool/backend/internal/services/purchases"
	"github.com/nvoronin/tradeschool/backend/internal/transport/http/dto"
	httperrors "github.com/nvoronin/tradeschool/backend/internal/transport/http/errors"
)

type PurchasesHandler struct {
	purchases *purchasessvc.Service
}

func NewPurchasesHandler(purchases *purchasessvc.Service) *PurchasesHandler {
	return &PurchasesHandler{purchases: purchases}
}

func (h *PurchasesHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.purchases == nil {
		writeInternal(w, "PURCHASES_SERVICE_UNAVAILABLE", "purchases service is unavailable")
		return
	}

	force := r.URL.Query().Get("refresh") == "1"
	attempts, err := h.purchases.ListMine(r.Context(), identity.UserID, force)
	if err != nil {
		switch {
		case errors.Is(err, purchasessvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid purchases request")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load purchases")
		}
		return
	}

	items := make([]dto.PurchaseItem, 0, len(attempts))
	for _, attempt := range attempts {
		items = append(items, dto.PurchaseItem{
			PurchaseID:     attempt.ID,
			ProductID:      attempt.ProductID,
			Method:         string(attempt.Method),
			Status:         string(attempt.Status),
			DueAmount:      attempt.DueAmount,
			PaymentAddress: attempt.PaymentAddress,
			ExpiresAt:      attempt.ExpiresAt,
		})
	}

	httperrors.Write(w, http.StatusOK, dto.PurchaseListResponse{Purchases: items})
}

func (h *PurchasesHandler) Enrollment(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.purchases == nil {
		writeInternal(w, "PURCHASES_SERVICE_UNAVAILABLE", "purchases service is unavailable")
		return
	}

	productID := r.URL.Query().Get("product_id")
	enrolled, err := h.purchases.IsEnrolled(r.Context(), identity.UserID, productID)
	if err != nil {
		switch {
		case errors.Is(err, purchasessvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "product_id is required")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to check enrollment")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.EnrollmentResponse{
		ProductID: productID,
		Enrolled:  enrolled,
	})
}
