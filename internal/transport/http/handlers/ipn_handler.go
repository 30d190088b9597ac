package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	paymentsvc "github.com/MichaelUrman/bookstore/internal/services/payments"
)

const maxNotificationBytes = 64 << 10

type PaymentReconciler interface {
	Reconcile(ctx context.Context, n paymentsvc.Notification) (paymentsvc.Result, error)
}

// IPNHandler receives payment processor callbacks. The processor keeps
// redelivering until it sees a 200, so only failures worth a retry answer
// with 5xx.
type IPNHandler struct {
	reconciler PaymentReconciler
	logger     *zap.Logger
}

func NewIPNHandler(reconciler PaymentReconciler, logger *zap.Logger) *IPNHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPNHandler{reconciler: reconciler, logger: logger}
}

func (h *IPNHandler) Notify(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes+1))
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "failed to read notification")
		return
	}
	if len(raw) > maxNotificationBytes {
		writeBadRequest(w, "VALIDATION_ERROR", "notification is too large")
		return
	}
	params, err := url.ParseQuery(string(raw))
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "notification is not form encoded")
		return
	}

	result, err := h.reconciler.Reconcile(r.Context(), paymentsvc.Notification{Params: params, Raw: string(raw)})
	switch {
	case err == nil,
		errors.Is(err, paymentsvc.ErrPaymentMismatch):
		writeOK(w)
	case errors.Is(err, paymentsvc.ErrVerifierUnavailable):
		w.Header().Set("Retry-After", "60")
		httpStatusText(w, http.StatusServiceUnavailable)
	case errors.Is(err, paymentsvc.ErrUnverified):
		h.logger.Warn("discarded unverified payment notification", zap.Int64("purchase_id", result.PurchaseID))
		writeOK(w)
	case errors.Is(err, paymentsvc.ErrMalformed):
		writeBadRequest(w, "VALIDATION_ERROR", "notification has no valid invoice")
	case errors.Is(err, paymentsvc.ErrNotFound):
		writeNotFound(w, "PURCHASE_NOT_FOUND", "purchase not found")
	default:
		httpStatusText(w, http.StatusInternalServerError)
	}
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ok"))
}

func httpStatusText(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(http.StatusText(status)))
}
