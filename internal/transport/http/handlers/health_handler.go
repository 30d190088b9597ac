package handlers

import (
	"context"
	"net/http"
	"time"

	httperrors "github.com/MichaelUrman/bookstore/internal/transport/http/errors"
)

const healthPingTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "database": "disabled"}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["database"] = "unreachable"
			httperrors.Write(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "ok"
	}
	httperrors.Write(w, http.StatusOK, resp)
}
