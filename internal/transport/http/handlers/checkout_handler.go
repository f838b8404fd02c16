package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nvoronin/tradeschool/backend/internal/domain/enums"
	"github.com/nvoronin/tradeschool/backend/internal/infra/commerceapi"
	authsvc "github.com/nvoronin/tradeschool/backend/internal/services/auth"
	checkoutsvc "github.com/nvoronin/tradeschool/backend/internal/services/checkout"
	pricingsvc "github.com/nvoronin/tradeschool/backend/internal/services/pricing"
	proofsvc "github.com/nvoronin/tradeschool/backend/internal/services/proof"
	windowsvc "github.com/nvoronin/tradeschool/backend/internal/services/window"
	"github.com/nvoronin/tradeschool/backend/internal/transport/http/dto"
	httperrors "github.com/nvoronin/tradeschool/backend/internal/transport/http/errors"
)

type CheckoutHandler struct {
	pricing  *pricingsvc.Service
	checkout *checkoutsvc.Service
	proof    *proofsvc.Service
	windows  *windowsvc.Manager
	onExpire windowsvc.Callback
	logger   *zap.Logger
}

func NewCheckoutHandler(
	pricing *pricingsvc.Service,
	checkout *checkoutsvc.Service,
	proof *proofsvc.Service,
	windows *windowsvc.Manager,
	onExpire windowsvc.Callback,
	logger *zap.Logger,
) *CheckoutHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutHandler{
		pricing:  pricing,
		checkout: checkout,
		proof:    proof,
		windows:  windows,
		onExpire: onExpire,
		logger:   logger,
	}
}

func (h *CheckoutHandler) Preview(w http.ResponseWriter, r *http.Request) {
	if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.pricing == nil {
		writeInternal(w, "PRICING_SERVICE_UNAVAILABLE", "pricing service is unavailable")
		return
	}

	var req dto.PreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}
	method, ok := enums.ParsePaymentMethod(req.Method)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "unknown payment method")
		return
	}

	quote, err := h.pricing.Preview(r.Context(), pricingsvc.PreviewInput{
		ProductID:   req.ProductID,
		Method:      method,
		PromoCode:   req.PromoCode,
		AddonAmount: req.AddonAmount,
	})
	if err != nil {
		switch {
		case errors.Is(err, pricingsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid preview payload")
		case errors.Is(err, pricingsvc.ErrProductNotFound):
			writeNotFound(w, "PRODUCT_NOT_FOUND", "product not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to preview pricing")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PreviewResponse{
		ProductID:      quote.ProductID,
		Method:         string(quote.Method),
		PromoCode:      quote.PromoCode,
		BaseAmount:     quote.BaseAmount,
		Discount:       quote.Discount,
		AddonAmount:    quote.AddonAmount,
		DueAmount:      quote.DueAmount,
		PromoConfirmed: quote.PromoConfirmed,
		PricingPath:    quote.PricingPath,
	})
}

func (h *CheckoutHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.checkout == nil {
		writeInternal(w, "CHECKOUT_SERVICE_UNAVAILABLE", "checkout service is unavailable")
		return
	}

	var req dto.InitiateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}
	method, ok := enums.ParsePaymentMethod(req.Method)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "unknown payment method")
		return
	}

	attempt, err := h.checkout.Initiate(r.Context(), identity.UserID, checkoutsvc.InitiateInput{
		ProductID:          req.ProductID,
		Method:             method,
		PromoCode:          req.PromoCode,
		ExistingPurchaseID: req.PurchaseID,
		PreviewedDue:       req.PreviewedDue,
	})
	if err != nil {
		switch {
		case errors.Is(err, checkoutsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid initiate payload")
		case errors.Is(err, checkoutsvc.ErrProductNotFound):
			writeNotFound(w, "PRODUCT_NOT_FOUND", "product not found")
		case errors.Is(err, checkoutsvc.ErrInitiationRejected):
			writeUnprocessable(w, "INITIATION_REJECTED", "purchase was rejected by the backend")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to initiate purchase")
		}
		return
	}

	resp := dto.InitiateResponse{
		PurchaseID:     attempt.ID,
		Status:         string(attempt.Status),
		Method:         string(attempt.Method),
		DueAmount:      attempt.DueAmount,
		PaymentAddress: attempt.PaymentAddress,
		PaymentAmount:  attempt.PaymentAmount,
		CheckoutURL:    attempt.CheckoutURL,
		ExpiresAt:      attempt.ExpiresAt,
	}

	if attempt.ExpiresAt != nil && h.windows != nil {
		win := h.windows.Open(attempt.ID, *attempt.ExpiresAt, h.onExpire)
		resp.RemainingSec = int64(win.Remaining() / time.Second)
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *CheckoutHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.proof == nil {
		writeInternal(w, "PROOF_SERVICE_UNAVAILABLE", "proof service is unavailable")
		return
	}

	var req dto.ProofSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}
	method, ok := enums.ParsePaymentMethod(req.Method)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "unknown payment method")
		return
	}

	attempt, err := h.proof.Submit(r.Context(), identity.UserID, proofsvc.SubmitInput{
		PurchaseID:   req.PurchaseID,
		ProductID:    req.ProductID,
		Method:       method,
		PromoCode:    req.PromoCode,
		TxHash:       req.TxHash,
		PreviewedDue: req.PreviewedDue,
	})
	if err != nil {
		switch {
		case errors.Is(err, proofsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid proof payload")
		case errors.Is(err, proofsvc.ErrProofRejected):
			writeUnprocessable(w, "PROOF_REJECTED", "payment proof was rejected")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to submit proof")
		}
		return
	}

	// Proof accepted: the payment window no longer applies.
	if h.windows != nil {
		h.windows.Close(attempt.ID)
	}

	// The poll loop outlives the request but keeps its auth token.
	pollCtx := context.WithoutCancel(r.Context())
	h.proof.StartPolling(pollCtx, identity.UserID, attempt.ID, func(record commerceapi.PurchaseRecord, err error) {
		if err != nil {
			h.logger.Warn("confirmation polling ended without resolution",
				zap.String("purchase_id", attempt.ID),
				zap.Error(err),
			)
			return
		}
		h.logger.Info("confirmation polling resolved purchase",
			zap.String("purchase_id", attempt.ID),
			zap.String("status", record.Status),
		)
	})

	httperrors.Write(w, http.StatusOK, dto.ProofSubmitResponse{
		PurchaseID:     attempt.ID,
		Status:         string(attempt.Status),
		ProofReference: attempt.ProofReference,
	})
}
