package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
	accountsvc "github.com/MichaelUrman/bookstore/internal/services/accounts"
	authsvc "github.com/MichaelUrman/bookstore/internal/services/auth"
	purchasesvc "github.com/MichaelUrman/bookstore/internal/services/purchases"
	"github.com/MichaelUrman/bookstore/internal/transport/http/dto"
	httperrors "github.com/MichaelUrman/bookstore/internal/transport/http/errors"
)

type StaffLedger interface {
	Find(ctx context.Context, purchaseID int64) (model.Purchase, error)
	StaffSetStatus(ctx context.Context, purchaseID int64, status string, adminID int64) (model.Purchase, error)
	GrantReplacement(ctx context.Context, customerID, publicationID, adminID int64) (model.Purchase, error)
	IssueReviewCopy(ctx context.Context, in purchasesvc.ReviewCopyInput, adminID int64) (model.Purchase, error)
	ReviewLink(purchaseID int64, email string) string
}

type AccountMerger interface {
	Merge(ctx context.Context, name string, accountIDs []int64, adminID int64) (model.AccountGroup, error)
	Unmerge(ctx context.Context, accountID, adminID int64) error
}

type AuditReader interface {
	ListAudit(ctx context.Context, purchaseID int64) ([]model.PurchaseAudit, error)
}

type NotificationReader interface {
	ListByPurchase(ctx context.Context, purchaseID int64) ([]model.PaymentNotification, error)
}

type AdminHandler struct {
	ledger        StaffLedger
	accounts      AccountMerger
	audit         AuditReader
	notifications NotificationReader
	logger        *zap.Logger
}

func NewAdminHandler(ledger StaffLedger, accounts AccountMerger, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{ledger: ledger, accounts: accounts, logger: logger}
}

func (h *AdminHandler) AttachHistory(audit AuditReader, notifications NotificationReader) {
	h.audit = audit
	h.notifications = notifications
}

func (h *AdminHandler) PurchaseDetail(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.staff(w, r); !ok {
		return
	}
	purchaseID, ok := int64URLParam(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase id")
		return
	}

	p, err := h.ledger.Find(r.Context(), purchaseID)
	if err != nil {
		writePurchaseError(w, err, "failed to load purchase")
		return
	}

	resp := dto.PurchaseDetailResponse{
		Purchase:      toPurchaseResponse(p),
		Audit:         []dto.PurchaseAuditResponse{},
		Notifications: []dto.PaymentNotificationResponse{},
	}
	if h.audit != nil {
		entries, err := h.audit.ListAudit(r.Context(), purchaseID)
		if err != nil {
			h.logger.Error("list purchase audit failed", zap.Int64("purchase_id", purchaseID), zap.Error(err))
			writeInternal(w, "INTERNAL_ERROR", "failed to load purchase audit")
			return
		}
		for _, e := range entries {
			resp.Audit = append(resp.Audit, dto.PurchaseAuditResponse{
				AdminID:    e.AdminID,
				FromStatus: string(e.FromStatus),
				ToStatus:   string(e.ToStatus),
				CreatedAt:  e.CreatedAt,
			})
		}
	}
	if h.notifications != nil {
		items, err := h.notifications.ListByPurchase(r.Context(), purchaseID)
		if err != nil {
			h.logger.Error("list payment notifications failed", zap.Int64("purchase_id", purchaseID), zap.Error(err))
			writeInternal(w, "INTERNAL_ERROR", "failed to load payment notifications")
			return
		}
		for _, n := range items {
			resp.Notifications = append(resp.Notifications, dto.PaymentNotificationResponse{
				ID:            n.ID,
				TxnID:         n.TxnID,
				TxnType:       n.TxnType,
				Amount:        n.Amount.StringFixed(2),
				Currency:      n.Currency,
				PaymentStatus: n.PaymentStatus,
				ReceivedAt:    n.ReceivedAt,
			})
		}
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *AdminHandler) SetPurchaseStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	purchaseID, ok := int64URLParam(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid purchase id")
		return
	}

	var req dto.StaffStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	p, err := h.ledger.StaffSetStatus(r.Context(), purchaseID, req.Status, identity.UserID)
	if err != nil {
		writePurchaseError(w, err, "failed to update purchase status")
		return
	}
	httperrors.Write(w, http.StatusOK, toPurchaseResponse(p))
}

func (h *AdminHandler) GrantReplacement(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}

	var req dto.ReplacementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	p, err := h.ledger.GrantReplacement(r.Context(), req.CustomerID, req.PublicationID, identity.UserID)
	if err != nil {
		writePurchaseError(w, err, "failed to grant replacement")
		return
	}
	httperrors.Write(w, http.StatusCreated, toPurchaseResponse(p))
}

func (h *AdminHandler) IssueReviewCopy(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}

	var req dto.ReviewCopyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	p, err := h.ledger.IssueReviewCopy(r.Context(), purchasesvc.ReviewCopyInput{
		PublicationID: req.PublicationID,
		Name:          req.Name,
		Email:         req.Email,
	}, identity.UserID)
	if err != nil {
		writePurchaseError(w, err, "failed to issue review copy")
		return
	}

	httperrors.Write(w, http.StatusCreated, dto.ReviewCopyResponse{
		Purchase: toPurchaseResponse(p),
		Link:     h.ledger.ReviewLink(p.ID, p.ContactEmail),
	})
}

func (h *AdminHandler) CreateAccountGroup(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	if h.accounts == nil {
		writeInternal(w, "ACCOUNTS_SERVICE_UNAVAILABLE", "accounts service is unavailable")
		return
	}

	var req dto.AccountGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	group, err := h.accounts.Merge(r.Context(), req.Name, req.AccountIDs, identity.UserID)
	if err != nil {
		h.writeAccountError(w, err)
		return
	}

	httperrors.Write(w, http.StatusCreated, dto.AccountGroupResponse{
		ID:        group.ID,
		Name:      group.Name,
		MemberIDs: group.MemberIDs,
		CreatedBy: group.CreatedBy,
		CreatedAt: group.CreatedAt,
	})
}

func (h *AdminHandler) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.staff(w, r)
	if !ok {
		return
	}
	if h.accounts == nil {
		writeInternal(w, "ACCOUNTS_SERVICE_UNAVAILABLE", "accounts service is unavailable")
		return
	}
	accountID, ok := int64URLParam(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid account id")
		return
	}

	if err := h.accounts.Unmerge(r.Context(), accountID, identity.UserID); err != nil {
		h.writeAccountError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) staff(w http.ResponseWriter, r *http.Request) (authsvc.Identity, bool) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return authsvc.Identity{}, false
	}
	if h.ledger == nil {
		writeInternal(w, "PURCHASES_SERVICE_UNAVAILABLE", "purchases service is unavailable")
		return authsvc.Identity{}, false
	}
	return identity, true
}

func (h *AdminHandler) writeAccountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accountsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "a group needs a name and at least two accounts")
	case errors.Is(err, accountsvc.ErrAlreadyGrouped):
		writeConflict(w, "ACCOUNT_ALREADY_GROUPED", "account already belongs to a group")
	case errors.Is(err, accountsvc.ErrGroupNameTaken):
		writeConflict(w, "GROUP_NAME_TAKEN", "account group name already exists")
	case errors.Is(err, accountsvc.ErrAccountNotFound):
		writeNotFound(w, "ACCOUNT_NOT_FOUND", "account not found")
	default:
		h.logger.Error("account group update failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to update account group")
	}
}
