package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
	"github.com/MichaelUrman/bookstore/internal/transport/http/dto"
	httperrors "github.com/MichaelUrman/bookstore/internal/transport/http/errors"
)

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeForbidden(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusForbidden, httperrors.APIError{Code: code, Message: message})
}

func writeNotFound(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusNotFound, httperrors.APIError{Code: code, Message: message})
}

func writeConflict(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusConflict, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}

func int64URLParam(r *http.Request, key string) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// clientIPFromRequest expects chi's RealIP middleware to have rewritten
// RemoteAddr from the forwarding headers.
func clientIPFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func toPurchaseResponse(p model.Purchase) dto.PurchaseResponse {
	return dto.PurchaseResponse{
		ID:            p.ID,
		Kind:          string(p.Kind),
		Price:         p.Price.StringFixed(2),
		Currency:      p.Currency,
		PublicationID: p.PublicationID,
		Status:        string(p.Status),
		CustomerID:    p.CustomerID,
		ContactEmail:  p.ContactEmail,
		EmailSent:     p.EmailSent,
		EmailSentAt:   p.EmailSentAt,
		CreatedAt:     p.CreatedAt,
	}
}
