package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MichaelUrman/bookstore/internal/domain/enums"
	"github.com/MichaelUrman/bookstore/internal/domain/model"
	purchasesvc "github.com/MichaelUrman/bookstore/internal/services/purchases"
)

var (
	ErrMalformed           = errors.New("malformed payment notification")
	ErrNotFound            = errors.New("purchase not found")
	ErrUnverified          = errors.New("payment notification unverified")
	ErrVerifierUnavailable = errors.New("payment verifier unavailable")
	ErrPaymentMismatch     = errors.New("payment mismatch")
)

const completedStatus = "Completed"

type Outcome string

const (
	OutcomeMarkedReady         Outcome = "marked_ready"
	OutcomeAlreadyReady        Outcome = "already_ready"
	OutcomeNotCompleted        Outcome = "not_completed"
	OutcomeNeedsReview         Outcome = "needs_review"
	OutcomeMismatch            Outcome = "payment_mismatch"
	OutcomeUnverified          Outcome = "unverified"
	OutcomeVerifierUnavailable Outcome = "verifier_unavailable"
	OutcomeNotFound            Outcome = "not_found"
	OutcomeMalformed           Outcome = "malformed"
	OutcomeError               Outcome = "error"
)

type Verifier interface {
	Verify(ctx context.Context, params url.Values, raw string) (bool, error)
}

type NotificationStore interface {
	Insert(ctx context.Context, n model.PaymentNotification) (model.PaymentNotification, error)
}

type Ledger interface {
	Find(ctx context.Context, purchaseID int64) (model.Purchase, error)
	MarkReady(ctx context.Context, purchaseID int64, email model.DeliveryEmail) (model.Purchase, bool, error)
}

type AccountEmails interface {
	Email(ctx context.Context, accountID int64) (string, error)
}

type OutcomeObserver interface {
	ReconcileOutcome(outcome string)
}

type Config struct {
	ReceiverEmail string
	TxnTypes      []string
}

type Dependencies struct {
	Ledger        Ledger
	Notifications NotificationStore
	Verifier      Verifier
	Accounts      AccountEmails
	Observer      OutcomeObserver
	Tracer        trace.Tracer
	Logger        *zap.Logger
}

// Notification is one inbound processor callback. Raw is the undecoded form
// body and is echoed back verbatim during verification when present.
type Notification struct {
	Params url.Values
	Raw    string
}

type Result struct {
	Outcome        Outcome
	PurchaseID     int64
	NotificationID string
	Purchase       model.Purchase
}

type Service struct {
	ledger        Ledger
	notifications NotificationStore
	verifier      Verifier
	accounts      AccountEmails
	observer      OutcomeObserver
	tracer        trace.Tracer
	logger        *zap.Logger
	receiver      string
	txnTypes      map[string]struct{}
	now           func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("payments")
	}

	txnTypes := make(map[string]struct{}, len(cfg.TxnTypes))
	for _, t := range cfg.TxnTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			txnTypes[t] = struct{}{}
		}
	}

	return &Service{
		ledger:        deps.Ledger,
		notifications: deps.Notifications,
		verifier:      deps.Verifier,
		accounts:      deps.Accounts,
		observer:      deps.Observer,
		tracer:        tracer,
		logger:        log,
		receiver:      strings.ToLower(strings.TrimSpace(cfg.ReceiverEmail)),
		txnTypes:      txnTypes,
		now:           time.Now,
	}
}

// Reconcile applies one processor callback to the ledger. Every error it
// returns wraps one of the package sentinels except unexpected storage
// failures, which the caller should answer so the processor redelivers.
func (s *Service) Reconcile(ctx context.Context, n Notification) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "payments.reconcile",
		trace.WithAttributes(
			attribute.String("paypal.txn_id", n.Params.Get("txn_id")),
			attribute.String("paypal.txn_type", n.Params.Get("txn_type")),
		),
	)
	defer span.End()

	result, err := s.reconcile(ctx, n)
	if result.Outcome == "" {
		result.Outcome = outcomeFor(err)
	}

	span.SetAttributes(
		attribute.Int64("purchase.id", result.PurchaseID),
		attribute.String("reconcile.outcome", string(result.Outcome)),
	)
	if result.Outcome == OutcomeError || result.Outcome == OutcomeVerifierUnavailable {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(result.Outcome))
	}
	if result.Outcome == OutcomeError {
		s.logger.Error("payment notification reconcile failed",
			zap.Int64("purchase_id", result.PurchaseID),
			zap.String("txn_id", n.Params.Get("txn_id")),
			zap.Error(err),
		)
	}
	if s.observer != nil {
		s.observer.ReconcileOutcome(string(result.Outcome))
	}

	return result, err
}

func (s *Service) reconcile(ctx context.Context, n Notification) (Result, error) {
	if s.ledger == nil || s.notifications == nil || s.verifier == nil {
		return Result{}, fmt.Errorf("payments service is not configured")
	}

	purchaseID, err := invoiceID(n.Params)
	if err != nil {
		return Result{}, err
	}
	result := Result{PurchaseID: purchaseID}

	purchase, err := s.ledger.Find(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, purchasesvc.ErrNotFound) {
			return result, ErrNotFound
		}
		return result, fmt.Errorf("load purchase: %w", err)
	}
	result.Purchase = purchase

	verified, err := s.verifier.Verify(ctx, n.Params, n.Raw)
	if err != nil {
		s.logger.Warn("payment verifier unavailable",
			zap.Int64("purchase_id", purchaseID),
			zap.Error(err),
		)
		return result, fmt.Errorf("%w: %w: %v", ErrVerifierUnavailable, ErrUnverified, err)
	}
	if !verified {
		s.logger.Warn("payment notification unverified, discarded",
			zap.Int64("purchase_id", purchaseID),
			zap.String("txn_id", n.Params.Get("txn_id")),
		)
		return result, ErrUnverified
	}

	amount, amountErr := paymentAmount(n.Params)
	stored, err := s.notifications.Insert(ctx, model.PaymentNotification{
		PurchaseID:    purchaseID,
		TxnID:         strings.TrimSpace(n.Params.Get("txn_id")),
		TxnType:       strings.TrimSpace(n.Params.Get("txn_type")),
		RawParams:     map[string][]string(n.Params),
		Amount:        amount,
		Currency:      strings.ToUpper(strings.TrimSpace(n.Params.Get("mc_currency"))),
		PaymentStatus: strings.TrimSpace(n.Params.Get("payment_status")),
		ReceivedAt:    s.now().UTC(),
	})
	if err != nil {
		return result, fmt.Errorf("store payment notification: %w", err)
	}
	result.NotificationID = stored.ID

	if reason := s.mismatch(purchase, stored, amountErr, n.Params); reason != "" {
		s.logger.Warn("payment_mismatch",
			zap.Int64("purchase_id", purchaseID),
			zap.String("notification_id", stored.ID),
			zap.String("reason", reason),
			zap.String("expected", purchase.Price.StringFixed(2)+" "+purchase.Currency),
			zap.String("received", stored.Amount.StringFixed(2)+" "+stored.Currency),
		)
		return result, fmt.Errorf("%w: %s", ErrPaymentMismatch, reason)
	}

	if !strings.EqualFold(stored.PaymentStatus, completedStatus) || !s.recognised(stored.TxnType) {
		result.Outcome = OutcomeNotCompleted
		return result, nil
	}

	switch purchase.Status {
	case enums.PurchaseStatusReady:
		result.Outcome = OutcomeAlreadyReady
		return result, nil
	case enums.PurchaseStatusCancelled, enums.PurchaseStatusExpired:
		s.needsReview(purchase, stored)
		result.Outcome = OutcomeNeedsReview
		return result, nil
	}

	updated, changed, err := s.ledger.MarkReady(ctx, purchaseID, s.deliveryEmail(ctx, purchase, n.Params))
	if err != nil {
		if errors.Is(err, purchasesvc.ErrInvalidState) {
			s.needsReview(purchase, stored)
			result.Outcome = OutcomeNeedsReview
			return result, nil
		}
		return result, fmt.Errorf("mark purchase ready: %w", err)
	}
	result.Purchase = updated
	if !changed {
		result.Outcome = OutcomeAlreadyReady
		return result, nil
	}

	s.logger.Info("purchase paid",
		zap.Int64("purchase_id", purchaseID),
		zap.String("notification_id", stored.ID),
		zap.String("txn_id", stored.TxnID),
	)
	result.Outcome = OutcomeMarkedReady
	return result, nil
}

func (s *Service) mismatch(p model.Purchase, n model.PaymentNotification, amountErr error, params url.Values) string {
	if amountErr != nil {
		return "amount missing or invalid"
	}
	if n.Amount.LessThan(p.Price) {
		return "underpaid"
	}
	if n.Currency != "" && !strings.EqualFold(n.Currency, p.Currency) {
		return "currency"
	}
	if receiver := strings.TrimSpace(params.Get("receiver_email")); s.receiver != "" && receiver != "" &&
		!strings.EqualFold(receiver, s.receiver) {
		return "receiver"
	}
	return ""
}

func (s *Service) recognised(txnType string) bool {
	_, ok := s.txnTypes[strings.ToLower(strings.TrimSpace(txnType))]
	return ok
}

func (s *Service) deliveryEmail(ctx context.Context, p model.Purchase, params url.Values) model.DeliveryEmail {
	email := model.DeliveryEmail{
		Name:    strings.TrimSpace(strings.TrimSpace(params.Get("first_name")) + " " + strings.TrimSpace(params.Get("last_name"))),
		Address: strings.TrimSpace(params.Get("payer_email")),
	}
	if email.Address != "" {
		return email
	}

	if p.CustomerID != nil && s.accounts != nil {
		address, err := s.accounts.Email(ctx, *p.CustomerID)
		if err == nil && address != "" {
			email.Address = address
			return email
		}
		if err != nil {
			s.logger.Warn("account email lookup failed", zap.Int64("account_id", *p.CustomerID), zap.Error(err))
		}
	}
	email.Address = p.ContactEmail
	return email
}

func (s *Service) needsReview(p model.Purchase, n model.PaymentNotification) {
	s.logger.Warn("completed payment for closed purchase",
		zap.Int64("purchase_id", p.ID),
		zap.String("status", string(p.Status)),
		zap.String("notification_id", n.ID),
		zap.String("txn_id", n.TxnID),
	)
}

func invoiceID(params url.Values) (int64, error) {
	raw := strings.TrimSpace(params.Get("invoice"))
	if raw == "" {
		return 0, fmt.Errorf("%w: invoice is required", ErrMalformed)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invoice %q", ErrMalformed, raw)
	}
	return id, nil
}

func paymentAmount(params url.Values) (decimal.Decimal, error) {
	raw := strings.TrimSpace(params.Get("mc_gross"))
	if raw == "" {
		raw = strings.TrimSpace(params.Get("payment_gross"))
	}
	if raw == "" {
		return decimal.Zero, fmt.Errorf("amount is missing")
	}
	return decimal.NewFromString(raw)
}

func outcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeNotCompleted
	case errors.Is(err, ErrMalformed):
		return OutcomeMalformed
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrVerifierUnavailable):
		return OutcomeVerifierUnavailable
	case errors.Is(err, ErrUnverified):
		return OutcomeUnverified
	case errors.Is(err, ErrPaymentMismatch):
		return OutcomeMismatch
	default:
		return OutcomeError
	}
}
