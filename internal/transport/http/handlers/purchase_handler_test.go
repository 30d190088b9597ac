package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/MichaelUrman/bookstore/internal/domain/enums"
	"github.com/MichaelUrman/bookstore/internal/domain/model"
	authsvc "github.com/MichaelUrman/bookstore/internal/services/auth"
	purchasesvc "github.com/MichaelUrman/bookstore/internal/services/purchases"
	"github.com/MichaelUrman/bookstore/internal/transport/http/dto"
)

type ledgerStub struct {
	created    purchasesvc.CreateInput
	purchase   model.Purchase
	err        error
	listLimit  int
	calledWith [2]int64
}

func (s *ledgerStub) CreatePurchase(_ context.Context, in purchasesvc.CreateInput) (model.Purchase, error) {
	s.created = in
	return s.purchase, s.err
}

func (s *ledgerStub) GetForCustomer(_ context.Context, purchaseID, customerID int64) (model.Purchase, error) {
	s.calledWith = [2]int64{purchaseID, customerID}
	return s.purchase, s.err
}

func (s *ledgerStub) ListForCustomer(_ context.Context, _ int64, limit int) ([]model.Purchase, error) {
	s.listLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return []model.Purchase{s.purchase}, nil
}

func (s *ledgerStub) ConfirmIntent(_ context.Context, purchaseID, customerID int64) (model.Purchase, error) {
	s.calledWith = [2]int64{purchaseID, customerID}
	return s.purchase, s.err
}

func (s *ledgerStub) Cancel(_ context.Context, purchaseID, customerID int64) (model.Purchase, error) {
	s.calledWith = [2]int64{purchaseID, customerID}
	return s.purchase, s.err
}

func withURLParam(ctx context.Context, key, value string) context.Context {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return context.WithValue(ctx, chi.RouteCtxKey, routeCtx)
}

func withCustomer(req *http.Request, userID int64) *http.Request {
	return req.WithContext(authsvc.WithIdentity(req.Context(), authsvc.Identity{
		UserID: userID,
		Role:   authsvc.RoleCustomer,
	}))
}

func samplePurchase() model.Purchase {
	customer := int64(7)
	return model.Purchase{
		ID:            42,
		Kind:          enums.TransactionKindPurchase,
		Price:         decimal.RequireFromString("4.99"),
		Currency:      "USD",
		PublicationID: 10,
		Status:        enums.PurchaseStatusSubmitted,
		CustomerID:    &customer,
	}
}

func TestPurchaseCreateUsesIdentityAndClientIP(t *testing.T) {
	ledger := &ledgerStub{purchase: samplePurchase()}
	handler := NewPurchaseHandler(ledger)

	req := httptest.NewRequest(http.MethodPost, "/v1/purchases", strings.NewReader(`{"publication_id":10,"contact_email":"a@example.com"}`))
	req.RemoteAddr = "203.0.113.9:51000"
	req = withCustomer(req, 7)
	rr := httptest.NewRecorder()

	handler.Create(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusCreated)
	}
	if ledger.created.CustomerID != 7 || ledger.created.PublicationID != 10 {
		t.Fatalf("unexpected create input: %+v", ledger.created)
	}
	if ledger.created.DeliveryAddress != "203.0.113.9" {
		t.Fatalf("unexpected delivery address: %q", ledger.created.DeliveryAddress)
	}

	var resp dto.PurchaseResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Price != "4.99" || resp.Status != "submitted" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPurchaseCreateRejectsUnknownFields(t *testing.T) {
	handler := NewPurchaseHandler(&ledgerStub{})

	req := httptest.NewRequest(http.MethodPost, "/v1/purchases", strings.NewReader(`{"publication_id":10,"price":"0.01"}`))
	req = withCustomer(req, 7)
	rr := httptest.NewRecorder()

	handler.Create(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestPurchaseErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: purchasesvc.ErrValidation, want: http.StatusBadRequest},
		{name: "publication", err: purchasesvc.ErrPublicationNotFound, want: http.StatusNotFound},
		{name: "purchase", err: purchasesvc.ErrPurchaseNotFound, want: http.StatusNotFound},
		{name: "state", err: purchasesvc.ErrInvalidState, want: http.StatusConflict},
		{name: "other", err: context.DeadlineExceeded, want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewPurchaseHandler(&ledgerStub{err: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/v1/purchases/42/cancel", nil)
			req = withCustomer(req, 7)
			req = req.WithContext(withURLParam(req.Context(), "id", "42"))
			rr := httptest.NewRecorder()

			handler.Cancel(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("unexpected status: got %d want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestPurchaseConfirmPassesOwner(t *testing.T) {
	ledger := &ledgerStub{purchase: samplePurchase()}
	handler := NewPurchaseHandler(ledger)

	req := httptest.NewRequest(http.MethodPost, "/v1/purchases/42/confirm", nil)
	req = withCustomer(req, 7)
	req = req.WithContext(withURLParam(req.Context(), "id", "42"))
	rr := httptest.NewRecorder()

	handler.Confirm(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusOK)
	}
	if ledger.calledWith != [2]int64{42, 7} {
		t.Fatalf("unexpected call: %v", ledger.calledWith)
	}
}

func TestPurchaseRequiresIdentity(t *testing.T) {
	handler := NewPurchaseHandler(&ledgerStub{})

	req := httptest.NewRequest(http.MethodGet, "/v1/purchases", nil)
	rr := httptest.NewRecorder()

	handler.List(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestPurchaseListLimit(t *testing.T) {
	ledger := &ledgerStub{purchase: samplePurchase()}
	handler := NewPurchaseHandler(ledger)

	req := withCustomer(httptest.NewRequest(http.MethodGet, "/v1/purchases", nil), 7)
	rr := httptest.NewRecorder()
	handler.List(rr, req)
	if rr.Code != http.StatusOK || ledger.listLimit != defaultPurchaseListLimit {
		t.Fatalf("unexpected default list: status %d limit %d", rr.Code, ledger.listLimit)
	}

	req = withCustomer(httptest.NewRequest(http.MethodGet, "/v1/purchases?limit=abc", nil), 7)
	rr = httptest.NewRecorder()
	handler.List(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}
