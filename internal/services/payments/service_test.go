package payments

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MichaelUrman/bookstore/internal/domain/enums"
	"github.com/MichaelUrman/bookstore/internal/domain/model"
	"github.com/MichaelUrman/bookstore/internal/infra/paypal"
	purchasesvc "github.com/MichaelUrman/bookstore/internal/services/purchases"
)

type ledgerStub struct {
	purchases map[int64]model.Purchase
	markCalls int
}

func newLedgerStub(purchases ...model.Purchase) *ledgerStub {
	s := &ledgerStub{purchases: make(map[int64]model.Purchase)}
	for _, p := range purchases {
		s.purchases[p.ID] = p
	}
	return s
}

func (s *ledgerStub) Find(_ context.Context, purchaseID int64) (model.Purchase, error) {
	p, ok := s.purchases[purchaseID]
	if !ok {
		return model.Purchase{}, purchasesvc.ErrPurchaseNotFound
	}
	return p, nil
}

func (s *ledgerStub) MarkReady(_ context.Context, purchaseID int64, email model.DeliveryEmail) (model.Purchase, bool, error) {
	s.markCalls++
	p, ok := s.purchases[purchaseID]
	if !ok {
		return model.Purchase{}, false, purchasesvc.ErrPurchaseNotFound
	}
	switch {
	case p.Status.Open(), p.Status == enums.PurchaseStatusReady && !p.EmailSent:
		p.Status = enums.PurchaseStatusReady
		p.Email = email
		p.EmailSent = true
		s.purchases[purchaseID] = p
		return p, true, nil
	case p.Status == enums.PurchaseStatusReady:
		return p, false, nil
	default:
		return p, false, purchasesvc.ErrInvalidState
	}
}

type notificationStoreStub struct {
	stored []model.PaymentNotification
}

func (s *notificationStoreStub) Insert(_ context.Context, n model.PaymentNotification) (model.PaymentNotification, error) {
	if n.ID == "" {
		n.ID = "n-" + string(rune('a'+len(s.stored)))
	}
	s.stored = append(s.stored, n)
	return n, nil
}

type verifierStub struct {
	verified bool
	err      error
	calls    int
}

func (v *verifierStub) Verify(context.Context, url.Values, string) (bool, error) {
	v.calls++
	return v.verified, v.err
}

type outcomeRecorder struct {
	outcomes []string
}

func (r *outcomeRecorder) ReconcileOutcome(outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

type accountEmailsStub map[int64]string

func (s accountEmailsStub) Email(_ context.Context, accountID int64) (string, error) {
	return s[accountID], nil
}

func pendingPurchase(id int64, price string) model.Purchase {
	customer := int64(7)
	return model.Purchase{
		ID:            id,
		Kind:          enums.TransactionKindPurchase,
		Price:         decimal.RequireFromString(price),
		Currency:      "USD",
		PublicationID: 10,
		Status:        enums.PurchaseStatusPending,
		CustomerID:    &customer,
		ContactEmail:  "contact@example.com",
	}
}

func completedParams(invoice, gross string) url.Values {
	return url.Values{
		"invoice":        {invoice},
		"payment_gross":  {gross},
		"payment_status": {"Completed"},
		"txn_type":       {"web_accept"},
		"txn_id":         {"9XY"},
		"first_name":     {"Ann"},
		"last_name":      {"Reader"},
		"payer_email":    {"ann@example.com"},
	}
}

func newTestService(ledger *ledgerStub, verifier Verifier) (*Service, *notificationStoreStub, *outcomeRecorder) {
	store := &notificationStoreStub{}
	observer := &outcomeRecorder{}
	svc := NewService(Dependencies{
		Ledger:        ledger,
		Notifications: store,
		Verifier:      verifier,
		Accounts:      accountEmailsStub{7: "account@example.com"},
		Observer:      observer,
	}, Config{TxnTypes: []string{"web_accept", "cart"}})
	svc.now = func() time.Time { return time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC) }
	return svc, store, observer
}

func TestReconcileMarksReadyOnceForDuplicateNotifications(t *testing.T) {
	ledger := newLedgerStub(pendingPurchase(1, "4.99"))
	svc, store, observer := newTestService(ledger, &verifierStub{verified: true})

	first, err := svc.Reconcile(context.Background(), Notification{Params: completedParams("1", "4.99")})
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if first.Outcome != OutcomeMarkedReady {
		t.Fatalf("unexpected outcome: %s", first.Outcome)
	}
	if first.Purchase.Email.Address != "ann@example.com" || first.Purchase.Email.Name != "Ann Reader" {
		t.Fatalf("unexpected delivery email: %+v", first.Purchase.Email)
	}

	second, err := svc.Reconcile(context.Background(), Notification{Params: completedParams("1", "4.99")})
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.Outcome != OutcomeAlreadyReady {
		t.Fatalf("duplicate should be no-op, got %s", second.Outcome)
	}

	p := ledger.purchases[1]
	if p.Status != enums.PurchaseStatusReady || p.Email.Address != "ann@example.com" {
		t.Fatalf("unexpected purchase state: %+v", p)
	}
	if ledger.markCalls != 1 {
		t.Fatalf("mark ready should run once, ran %d", ledger.markCalls)
	}
	if len(store.stored) != 2 {
		t.Fatalf("both verified notifications should be stored, got %d", len(store.stored))
	}
	if strings.Join(observer.outcomes, ",") != "marked_ready,already_ready" {
		t.Fatalf("unexpected observed outcomes: %v", observer.outcomes)
	}
}

func TestReconcileUnknownInvoiceSkipsVerification(t *testing.T) {
	verifier := &verifierStub{verified: true}
	svc, store, _ := newTestService(newLedgerStub(), verifier)

	result, err := svc.Reconcile(context.Background(), Notification{Params: completedParams("404", "4.99")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if result.Outcome != OutcomeNotFound {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if verifier.calls != 0 {
		t.Fatalf("verifier must not be called for unknown invoice")
	}
	if len(store.stored) != 0 {
		t.Fatalf("nothing should be stored")
	}
}

func TestReconcileMalformedInvoice(t *testing.T) {
	svc, _, _ := newTestService(newLedgerStub(), &verifierStub{verified: true})

	for _, invoice := range []string{"", "abc", "-3"} {
		_, err := svc.Reconcile(context.Background(), Notification{Params: completedParams(invoice, "4.99")})
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("invoice %q: expected malformed, got %v", invoice, err)
		}
	}
}

func TestReconcileUnverifiedIsDiscarded(t *testing.T) {
	ledger := newLedgerStub(pendingPurchase(1, "4.99"))
	svc, store, _ := newTestService(ledger, &verifierStub{verified: false})

	result, err := svc.Reconcile(context.Background(), Notification{Params: completedParams("1", "4.99")})
	if !errors.Is(err, ErrUnverified) {
		t.Fatalf("expected unverified, got %v", err)
	}
	if errors.Is(err, ErrVerifierUnavailable) {
		t.Fatalf("a rejected notification is not an unavailable verifier")
	}
	if result.Outcome != OutcomeUnverified {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if len(store.stored) != 0 || ledger.markCalls != 0 {
		t.Fatalf("unverified notification must not be stored or applied")
	}
}

func TestReconcileVerifierFailureIsUnavailable(t *testing.T) {
	ledger := newLedgerStub(pendingPurchase(1, "4.99"))
	svc, _, _ := newTestService(ledger, &verifierStub{err: context.DeadlineExceeded})

	result, err := svc.Reconcile(context.Background(), Notification{Params: completedParams("1", "4.99")})
	if !errors.Is(err, ErrVerifierUnavailable) || !errors.Is(err, ErrUnverified) {
		t.Fatalf("expected unavailable+unverified, got %v", err)
	}
	if result.Outcome != OutcomeVerifierUnavailable {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if ledger.purchases[1].Status != enums.PurchaseStatusPending {
		t.Fatalf("purchase must stay pending")
	}
}

func TestReconcileUnderpaymentNeverMarksReady(t *testing.T) {
	ledger := newLedgerStub(pendingPurchase(1, "4.99"))
	svc, store, _ := newTestService(ledger, &verifierStub{verified: true})

	result, err := svc.Reconcile(context.Background(), Notification{Params: completedParams("1", "4.98")})
	if !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected payment mismatch, got %v", err)
	}
	if result.Outcome != OutcomeMismatch {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if ledger.purchases[1].Status != enums.PurchaseStatusPending || ledger.markCalls != 0 {
		t.Fatalf("underpaid purchase must stay pending")
	}
	if len(store.stored) != 1 {
		t.Fatalf("verified notification should still be stored")
	}
}

func TestReconcileCurrencyAndReceiverMismatch(t *testing.T) {
	ledger := newLedgerStub(pendingPurchase(1, "4.99"))
	svc, _, _ := newTestService(ledger, &verifierStub{verified: true})
	svc.receiver = "shop@example.com"

	params := completedParams("1", "4.99")
	params.Set("mc_currency", "EUR")
	if _, err := svc.Reconcile(context.Background(), Notification{Params: params}); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}

	params = completedParams("1", "4.99")
	params.Set("receiver_email", "attacker@example.com")
	if _, err := svc.Reconcile(context.Background(), Notification{Params: params}); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected receiver mismatch, got %v", err)
	}

	params = completedParams("1", "4.99")
	params.Set("receiver_email", "Shop@Example.com")
	params.Set("mc_currency", "usd")
	if _, err := svc.Reconcile(context.Background(), Notification{Params: params}); err != nil {
		t.Fatalf("matching receiver and currency should pass: %v", err)
	}
}

func TestReconcileIgnoresIncompletePayments(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(url.Values)
	}{
		{name: "pending status", mutate: func(v url.Values) { v.Set("payment_status", "Pending") }},
		{name: "unknown txn type", mutate: func(v url.Values) { v.Set("txn_type", "subscr_signup") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ledger := newLedgerStub(pendingPurchase(1, "4.99"))
			svc, _, _ := newTestService(ledger, &verifierStub{verified: true})

			params := completedParams("1", "4.99")
			tc.mutate(params)
			result, err := svc.Reconcile(context.Background(), Notification{Params: params})
			if err != nil {
				t.Fatalf("reconcile: %v", err)
			}
			if result.Outcome != OutcomeNotCompleted {
				t.Fatalf("unexpected outcome: %s", result.Outcome)
			}
			if ledger.purchases[1].Status != enums.PurchaseStatusPending {
				t.Fatalf("purchase must stay pending")
			}
		})
	}
}

func TestReconcileCancelledPurchaseNeedsReview(t *testing.T) {
	p := pendingPurchase(1, "4.99")
	p.Status = enums.PurchaseStatusCancelled
	ledger := newLedgerStub(p)
	svc, _, _ := newTestService(ledger, &verifierStub{verified: true})

	result, err := svc.Reconcile(context.Background(), Notification{Params: completedParams("1", "4.99")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != OutcomeNeedsReview {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if ledger.purchases[1].Status != enums.PurchaseStatusCancelled {
		t.Fatalf("cancelled purchase must not be revived")
	}
}

func TestReconcileFallsBackToAccountEmail(t *testing.T) {
	ledger := newLedgerStub(pendingPurchase(1, "4.99"))
	svc, _, _ := newTestService(ledger, &verifierStub{verified: true})

	params := completedParams("1", "5.00")
	params.Del("payer_email")
	result, err := svc.Reconcile(context.Background(), Notification{Params: params})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Purchase.Email.Address != "account@example.com" {
		t.Fatalf("expected account email fallback, got %q", result.Purchase.Email.Address)
	}
}

func TestReconcileWithProcessorPostback(t *testing.T) {
	var postedBody string
	processor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		postedBody = string(body)
		_, _ = w.Write([]byte("VERIFIED"))
	}))
	defer processor.Close()

	verifier, err := paypal.NewVerifier(paypal.Config{Endpoint: processor.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	ledger := newLedgerStub(pendingPurchase(1, "4.99"))
	svc, _, _ := newTestService(ledger, verifier)

	raw := "payment_gross=4.99&payment_status=Completed&txn_type=web_accept&invoice=1&payer_email=ann%40example.com"
	params, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}

	result, err := svc.Reconcile(context.Background(), Notification{Params: params, Raw: raw})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != OutcomeMarkedReady {
		t.Fatalf("unexpected outcome: %s", result.Outcome)
	}
	if postedBody != "cmd=_notify-validate&"+raw {
		t.Fatalf("unexpected postback body: %s", postedBody)
	}
}
