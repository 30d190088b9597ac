package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
	authsvc "github.com/MichaelUrman/bookstore/internal/services/auth"
	purchasesvc "github.com/MichaelUrman/bookstore/internal/services/purchases"
	"github.com/MichaelUrman/bookstore/internal/transport/http/dto"
	httperrors "github.com/MichaelUrman/bookstore/internal/transport/http/errors"
)

const defaultPurchaseListLimit = 50

type PurchaseLedger interface {
	CreatePurchase(ctx context.Context, in purchasesvc.CreateInput) (model.Purchase, error)
	GetForCustomer(ctx context.Context, purchaseID, customerID int64) (model.Purchase, error)
	ListForCustomer(ctx context.Context, customerID int64, limit int) ([]model.Purchase, error)
	ConfirmIntent(ctx context.Context, purchaseID, customerID int64) (model.Purchase, error)
	Cancel(ctx context.Context, purchaseID, customerID int64) (model.Purchase, error)
}

type PurchaseHandler struct {
	ledger PurchaseLedger
}

func NewPurchaseHandler(ledger PurchaseLedger) *PurchaseHandler {
	return &PurchaseHandler{ledger: ledger}
}

func (h *PurchaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.ledger == nil {
		writeInternal(w, "PURCHASES_SERVICE_UNAVAILABLE", "purchases service is unavailable")
		return
	}

	var req dto.PurchaseCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	p, err := h.ledger.CreatePurchase(r.Context(), purchasesvc.CreateInput{
		PublicationID:   req.PublicationID,
		CustomerID:      identity.UserID,
		Kind:            req.Kind,
		ContactEmail:    req.ContactEmail,
		DeliveryAddress: clientIPFromRequest(r),
	})
	if err != nil {
		writePurchaseError(w, err, "failed to create purchase")
		return
	}

	httperrors.Write(w, http.StatusCreated, toPurchaseResponse(p))
}

func (h *PurchaseHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.ledger == nil {
		writeInternal(w, "PURCHASES_SERVICE_UNAVAILABLE", "purchases service is unavailable")
		return
	}

	limit := defaultPurchaseListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	purchases, err := h.ledger.ListForCustomer(r.Context(), identity.UserID, limit)
	if err != nil {
		writePurchaseError(w, err, "failed to list purchases")
		return
	}

	resp := dto.PurchaseListResponse{Items: make([]dto.PurchaseResponse, 0, len(purchases))}
	for _, p := range purchases {
		resp.Items = append(resp.Items, toPurchaseResponse(p))
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *PurchaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withPurchase(w, r, h.ledger.GetForCustomer, "failed to load purchase")
}

func (h *PurchaseHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.withPurchase(w, r, h.ledger.ConfirmIntent, "failed to confirm purchase")
}

func (h *PurchaseHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withPurchase(w, r, h.ledger.Cancel, "failed to cancel purchase")
}

func (h *PurchaseHandler) withPurchase(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, purchaseID, customerID int64) (model.Purchase, error),
	failure string,
) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.ledger == nil {
		writeInternal(w, "PURCHASES_SERVICE_UNAVAILABLE", "purchases service is unavailable")
		return
	}
	purchaseID, ok := int64URLParam(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase id")
		return
	}

	p, err := op(r.Context(), purchaseID, identity.UserID)
	if err != nil {
		writePurchaseError(w, err, failure)
		return
	}

	httperrors.Write(w, http.StatusOK, toPurchaseResponse(p))
}

func writePurchaseError(w http.ResponseWriter, err error, failure string) {
	switch {
	case errors.Is(err, purchasesvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase request")
	case errors.Is(err, purchasesvc.ErrPublicationNotFound):
		writeNotFound(w, "PUBLICATION_NOT_FOUND", "publication not found")
	case errors.Is(err, purchasesvc.ErrNotFound):
		writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
	case errors.Is(err, purchasesvc.ErrInvalidState):
		writeConflict(w, "INVALID_STATE", "purchase is not in a state that allows this action")
	default:
		writeInternal(w, "INTERNAL_ERROR", failure)
	}
}
