package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MichaelUrman/bookstore/internal/domain/enums"
	"github.com/MichaelUrman/bookstore/internal/domain/model"
)

func TestRecorderCountsPurchaseEvents(t *testing.T) {
	r := NewRecorder()

	_ = r.OnPurchaseEvent(context.Background(), model.PurchaseEvent{
		Type:     model.PurchaseEventStatusChanged,
		Purchase: model.Purchase{Status: enums.PurchaseStatusReady},
		Source:   "reconciler",
	})
	_ = r.OnPurchaseEvent(context.Background(), model.PurchaseEvent{
		Type:     model.PurchaseEventStatusChanged,
		Purchase: model.Purchase{Status: enums.PurchaseStatusReady},
		Source:   "reconciler",
	})

	got := testutil.ToFloat64(r.purchases.WithLabelValues("status_changed", "ready", "reconciler"))
	if got != 2 {
		t.Fatalf("unexpected counter value: %v", got)
	}
}

func TestRecorderHandlerExposesCounters(t *testing.T) {
	r := NewRecorder()
	r.ReconcileOutcome("marked_ready")
	r.Download("purchase")

	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `bookstore_payment_notifications_total{outcome="marked_ready"} 1`) {
		t.Fatalf("missing reconcile counter in output")
	}
	if !strings.Contains(body, `bookstore_downloads_total{kind="purchase"} 1`) {
		t.Fatalf("missing download counter in output")
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ReconcileOutcome("x")
	r.Download("purchase")
	if err := r.OnPurchaseEvent(context.Background(), model.PurchaseEvent{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
