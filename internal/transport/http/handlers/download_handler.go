package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
	authsvc "github.com/MichaelUrman/bookstore/internal/services/auth"
	catalogsvc "github.com/MichaelUrman/bookstore/internal/services/catalog"
	downloadsvc "github.com/MichaelUrman/bookstore/internal/services/downloads"
	entitlementsvc "github.com/MichaelUrman/bookstore/internal/services/entitlements"
	"github.com/MichaelUrman/bookstore/internal/transport/http/dto"
	httperrors "github.com/MichaelUrman/bookstore/internal/transport/http/errors"
)

type PublicationResolver interface {
	Publication(ctx context.Context, publicationID int64) (model.Publication, error)
}

type EntitlementChecker interface {
	CanDownload(ctx context.Context, principal, publicationID int64) (entitlementsvc.Decision, error)
	ClaimReviewCopy(ctx context.Context, purchaseID int64, email, key string) (entitlementsvc.Decision, error)
}

type DownloadServer interface {
	Serve(ctx context.Context, p model.Purchase, limit int, remoteAddr string) (downloadsvc.File, error)
}

type DownloadHandler struct {
	catalog      PublicationResolver
	entitlements EntitlementChecker
	downloads    DownloadServer
	logger       *zap.Logger
}

func NewDownloadHandler(
	catalog PublicationResolver,
	entitlements EntitlementChecker,
	downloads DownloadServer,
	logger *zap.Logger,
) *DownloadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadHandler{
		catalog:      catalog,
		entitlements: entitlements,
		downloads:    downloads,
		logger:       logger,
	}
}

func (h *DownloadHandler) Entitlement(w http.ResponseWriter, r *http.Request) {
	identity, pub, ok := h.resolve(w, r)
	if !ok {
		return
	}

	d, err := h.entitlements.CanDownload(r.Context(), identity.UserID, pub.ID)
	if err != nil {
		h.writeEntitlementError(w, err)
		return
	}

	resp := dto.EntitlementResponse{
		PublicationID: pub.ID,
		Status:        string(d.Kind),
		Downloads:     d.Downloads,
		Limit:         d.Limit,
	}
	if d.Purchase != nil {
		id := d.Purchase.ID
		resp.PurchaseID = &id
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	identity, pub, ok := h.resolve(w, r)
	if !ok {
		return
	}

	d, err := h.entitlements.CanDownload(r.Context(), identity.UserID, pub.ID)
	if err != nil {
		h.writeEntitlementError(w, err)
		return
	}
	h.serve(w, r, d)
}

func (h *DownloadHandler) Review(w http.ResponseWriter, r *http.Request) {
	if h.entitlements == nil || h.downloads == nil {
		writeInternal(w, "DOWNLOADS_SERVICE_UNAVAILABLE", "downloads service is unavailable")
		return
	}
	purchaseID, ok := int64URLParam(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid review copy id")
		return
	}

	query := r.URL.Query()
	d, err := h.entitlements.ClaimReviewCopy(r.Context(), purchaseID, query.Get("email"), query.Get("key"))
	if err != nil {
		h.writeEntitlementError(w, err)
		return
	}
	h.serve(w, r, d)
}

func (h *DownloadHandler) resolve(w http.ResponseWriter, r *http.Request) (authsvc.Identity, model.Publication, bool) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return authsvc.Identity{}, model.Publication{}, false
	}
	if h.catalog == nil || h.entitlements == nil || h.downloads == nil {
		writeInternal(w, "DOWNLOADS_SERVICE_UNAVAILABLE", "downloads service is unavailable")
		return authsvc.Identity{}, model.Publication{}, false
	}
	publicationID, ok := int64URLParam(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid publication id")
		return authsvc.Identity{}, model.Publication{}, false
	}

	pub, err := h.catalog.Publication(r.Context(), publicationID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrNotFound) {
			writeNotFound(w, "PUBLICATION_NOT_FOUND", "publication not found")
			return authsvc.Identity{}, model.Publication{}, false
		}
		h.logger.Error("resolve publication failed", zap.Int64("publication_id", publicationID), zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to load publication")
		return authsvc.Identity{}, model.Publication{}, false
	}
	return identity, pub, true
}

func (h *DownloadHandler) serve(w http.ResponseWriter, r *http.Request, d entitlementsvc.Decision) {
	switch d.Kind {
	case entitlementsvc.KindAvailableNow:
	case entitlementsvc.KindPending:
		writeConflict(w, "PURCHASE_PENDING", "payment for this publication has not been confirmed yet")
		return
	case entitlementsvc.KindDenied:
		writeForbidden(w, "NOT_ENTITLED", "download limit reached")
		return
	default:
		writeForbidden(w, "NOT_PURCHASED", "publication has not been purchased")
		return
	}

	file, err := h.downloads.Serve(r.Context(), *d.Purchase, d.Limit, clientIPFromRequest(r))
	if err != nil {
		if tooFast, ok := downloadsvc.IsTooFast(err); ok {
			retryAfter := tooFast.RetryAfter()
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
				Code:          "TOO_MANY_DOWNLOADS",
				Message:       "download rate limit exceeded",
				RetryAfterSec: retryAfter,
			})
			return
		}
		if errors.Is(err, downloadsvc.ErrLimitReached) {
			writeForbidden(w, "NOT_ENTITLED", "download limit reached")
			return
		}
		if errors.Is(err, downloadsvc.ErrFileNotFound) {
			writeNotFound(w, "FILE_NOT_FOUND", "publication file is not available")
			return
		}
		h.logger.Error("serve download failed", zap.Int64("purchase_id", d.Purchase.ID), zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to serve download")
		return
	}
	defer file.Body.Close()

	w.Header().Set("Content-Type", file.ContentType)
	if file.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.ContentLength, 10))
	}
	if file.Filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Filename}))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, file.Body); err != nil {
		h.logger.Warn("download stream interrupted", zap.Int64("purchase_id", d.Purchase.ID), zap.Error(err))
	}
}

func (h *DownloadHandler) writeEntitlementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entitlementsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid download request")
	case errors.Is(err, entitlementsvc.ErrForbidden):
		writeForbidden(w, "NOT_ENTITLED", "link is not valid for this publication")
	case errors.Is(err, entitlementsvc.ErrNotFound):
		writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
	default:
		h.logger.Error("entitlement check failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to check entitlement")
	}
}
