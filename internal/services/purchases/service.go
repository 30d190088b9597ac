package purchases

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MichaelUrman/bookstore/internal/domain/enums"
	"github.com/MichaelUrman/bookstore/internal/domain/model"
	"github.com/MichaelUrman/bookstore/internal/domain/rules"
	pgrepo "github.com/MichaelUrman/bookstore/internal/repo/postgres"
	catalogsvc "github.com/MichaelUrman/bookstore/internal/services/catalog"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrPurchaseNotFound    = fmt.Errorf("purchase %w", ErrNotFound)
	ErrPublicationNotFound = fmt.Errorf("publication %w", ErrNotFound)
	ErrInvalidState        = errors.New("invalid purchase state")
)

const (
	SourceCustomer   = "customer"
	SourceReconciler = "reconciler"
	SourceStaff      = "staff"
	SourceSweep      = "sweep"
)

type PurchaseStore interface {
	Create(ctx context.Context, p model.Purchase) (model.Purchase, error)
	FindByID(ctx context.Context, purchaseID int64) (model.Purchase, error)
	ListForAccounts(ctx context.Context, accountIDs []int64, limit int) ([]model.Purchase, error)
	Transition(ctx context.Context, purchaseID int64, from []enums.PurchaseStatus, to enums.PurchaseStatus) (model.Purchase, enums.PurchaseStatus, bool, error)
	MarkReady(ctx context.Context, purchaseID int64, email model.DeliveryEmail, now time.Time) (model.Purchase, enums.PurchaseStatus, bool, error)
	SetStatus(ctx context.Context, purchaseID int64, to enums.PurchaseStatus, adminID int64) (model.Purchase, enums.PurchaseStatus, error)
	ExpireOpen(ctx context.Context, cutoff time.Time) ([]model.Purchase, error)
}

type Catalog interface {
	Publication(ctx context.Context, publicationID int64) (model.Publication, error)
}

type AccountResolver interface {
	Resolve(ctx context.Context, accountID int64) ([]int64, error)
}

// Subscriber receives every committed purchase change. Errors are logged and
// never roll back or fail the operation that produced the event.
type Subscriber interface {
	Name() string
	OnPurchaseEvent(ctx context.Context, event model.PurchaseEvent) error
}

type Config struct {
	Currency      string
	PublicBaseURL string
}

type Dependencies struct {
	Purchases PurchaseStore
	Catalog   Catalog
	Accounts  AccountResolver
	Logger    *zap.Logger
}

type Service struct {
	purchases   PurchaseStore
	catalog     Catalog
	accounts    AccountResolver
	subscribers []Subscriber
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
}

type CreateInput struct {
	PublicationID   int64
	CustomerID      int64
	Kind            string
	ContactEmail    string
	DeliveryAddress string
}

type ReviewCopyInput struct {
	PublicationID int64
	Name          string
	Email         string
}

func NewService(deps Dependencies, cfg Config) *Service {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")

	return &Service{
		purchases: deps.Purchases,
		catalog:   deps.Catalog,
		accounts:  deps.Accounts,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

func (s *Service) Subscribe(sub Subscriber) {
	if sub != nil {
		s.subscribers = append(s.subscribers, sub)
	}
}

func (s *Service) CreatePurchase(ctx context.Context, in CreateInput) (model.Purchase, error) {
	if in.CustomerID <= 0 || in.PublicationID <= 0 {
		return model.Purchase{}, ErrValidation
	}
	if err := s.ready(); err != nil {
		return model.Purchase{}, err
	}
	if kind := strings.TrimSpace(in.Kind); kind != "" {
		parsed, ok := enums.ParseTransactionKind(kind)
		if !ok || (parsed != enums.TransactionKindPurchase && parsed != enums.TransactionKindFreePurchase) {
			return model.Purchase{}, ErrValidation
		}
	}

	pub, err := s.publication(ctx, in.PublicationID)
	if err != nil {
		return model.Purchase{}, err
	}
	if !pub.Purchasable {
		return model.Purchase{}, ErrPublicationNotFound
	}

	now := s.now().UTC()
	customerID := in.CustomerID
	p := model.Purchase{
		Kind:            enums.TransactionKindPurchase,
		Price:           pub.Price,
		Currency:        s.cfg.Currency,
		PublicationID:   pub.ID,
		Status:          enums.PurchaseStatusPending,
		CustomerID:      &customerID,
		ContactEmail:    strings.TrimSpace(in.ContactEmail),
		DeliveryAddress: strings.TrimSpace(in.DeliveryAddress),
		CreatedAt:       now,
	}
	if isFree(pub) {
		p.Kind = enums.TransactionKindFreePurchase
		p.Price = decimal.Zero
		p.Status = enums.PurchaseStatusReady
		p.Email = model.DeliveryEmail{Address: p.ContactEmail, Link: s.downloadLink(pub.ID)}
		p.EmailSent = true
		p.EmailSentAt = &now
	}

	created, err := s.purchases.Create(ctx, p)
	if err != nil {
		return model.Purchase{}, err
	}

	s.publish(ctx, model.PurchaseEvent{
		Type:     model.PurchaseEventCreated,
		Purchase: created,
		ActorID:  &customerID,
		Source:   SourceCustomer,
	})
	return created, nil
}

func (s *Service) ConfirmIntent(ctx context.Context, purchaseID, customerID int64) (model.Purchase, error) {
	return s.customerTransition(ctx, purchaseID, customerID, enums.PurchaseStatusSubmitted)
}

func (s *Service) Cancel(ctx context.Context, purchaseID, customerID int64) (model.Purchase, error) {
	return s.customerTransition(ctx, purchaseID, customerID, enums.PurchaseStatusCancelled)
}

func (s *Service) customerTransition(ctx context.Context, purchaseID, customerID int64, to enums.PurchaseStatus) (model.Purchase, error) {
	if purchaseID <= 0 || customerID <= 0 {
		return model.Purchase{}, ErrValidation
	}
	p, err := s.GetForCustomer(ctx, purchaseID, customerID)
	if err != nil {
		return model.Purchase{}, err
	}
	if !rules.CanTransition(p.Status, to) {
		return model.Purchase{}, fmt.Errorf("%w: %s to %s", ErrInvalidState, p.Status, to)
	}

	updated, from, changed, err := s.purchases.Transition(ctx, purchaseID, []enums.PurchaseStatus{p.Status}, to)
	if err != nil {
		return model.Purchase{}, s.mapStoreErr(err)
	}
	if !changed {
		return model.Purchase{}, fmt.Errorf("%w: %s to %s", ErrInvalidState, updated.Status, to)
	}

	actor := customerID
	s.publish(ctx, model.PurchaseEvent{
		Type:       model.PurchaseEventStatusChanged,
		Purchase:   updated,
		FromStatus: from,
		ActorID:    &actor,
		Source:     SourceCustomer,
	})
	return updated, nil
}

// StaffSetStatus moves a purchase to any status. It bypasses the transition
// table and is always attributed to adminID.
func (s *Service) StaffSetStatus(ctx context.Context, purchaseID int64, status string, adminID int64) (model.Purchase, error) {
	to, ok := enums.ParsePurchaseStatus(status)
	if !ok || purchaseID <= 0 || adminID <= 0 {
		return model.Purchase{}, ErrValidation
	}
	if err := s.ready(); err != nil {
		return model.Purchase{}, err
	}

	updated, from, err := s.purchases.SetStatus(ctx, purchaseID, to, adminID)
	if err != nil {
		return model.Purchase{}, s.mapStoreErr(err)
	}

	s.logger.Info("purchase status overridden by staff",
		zap.Int64("purchase_id", purchaseID),
		zap.Int64("admin_id", adminID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	actor := adminID
	s.publish(ctx, model.PurchaseEvent{
		Type:       model.PurchaseEventStatusChanged,
		Purchase:   updated,
		FromStatus: from,
		ActorID:    &actor,
		Source:     SourceStaff,
	})
	return updated, nil
}

// MarkReady delivers a paid purchase. The delivery email fields are written at
// most once; calling it again for a delivered purchase returns changed=false.
func (s *Service) MarkReady(ctx context.Context, purchaseID int64, email model.DeliveryEmail) (model.Purchase, bool, error) {
	if purchaseID <= 0 {
		return model.Purchase{}, false, ErrValidation
	}
	if err := s.ready(); err != nil {
		return model.Purchase{}, false, err
	}

	current, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		return model.Purchase{}, false, s.mapStoreErr(err)
	}
	if strings.TrimSpace(email.Link) == "" {
		email.Link = s.downloadLink(current.PublicationID)
	}

	return s.markReady(ctx, purchaseID, email, SourceReconciler)
}

func (s *Service) markReady(ctx context.Context, purchaseID int64, email model.DeliveryEmail, source string) (model.Purchase, bool, error) {
	email.Name = strings.TrimSpace(email.Name)
	email.Address = strings.TrimSpace(email.Address)

	updated, from, changed, err := s.purchases.MarkReady(ctx, purchaseID, email, s.now().UTC())
	if err != nil {
		return model.Purchase{}, false, s.mapStoreErr(err)
	}
	if !changed {
		return updated, false, nil
	}

	event := model.PurchaseEvent{
		Type:       model.PurchaseEventStatusChanged,
		Purchase:   updated,
		FromStatus: from,
		Source:     source,
	}
	if from == enums.PurchaseStatusReady {
		event.Type = model.PurchaseEventDelivered
	}
	s.publish(ctx, event)
	return updated, true, nil
}

func (s *Service) Expire(ctx context.Context, cutoff time.Time) ([]model.Purchase, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	expired, err := s.purchases.ExpireOpen(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, p := range expired {
		s.publish(ctx, model.PurchaseEvent{
			Type:     model.PurchaseEventStatusChanged,
			Purchase: p,
			Source:   SourceSweep,
		})
	}
	return expired, nil
}

func (s *Service) GrantReplacement(ctx context.Context, customerID, publicationID, adminID int64) (model.Purchase, error) {
	if customerID <= 0 || publicationID <= 0 || adminID <= 0 {
		return model.Purchase{}, ErrValidation
	}
	if err := s.ready(); err != nil {
		return model.Purchase{}, err
	}

	pub, err := s.publication(ctx, publicationID)
	if err != nil {
		return model.Purchase{}, err
	}

	customer := customerID
	admin := adminID
	created, err := s.purchases.Create(ctx, model.Purchase{
		Kind:          enums.TransactionKindReplace,
		Price:         decimal.Zero,
		Currency:      s.cfg.Currency,
		PublicationID: pub.ID,
		Status:        enums.PurchaseStatusReady,
		CustomerID:    &customer,
		AdminID:       &admin,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return model.Purchase{}, err
	}

	s.logger.Info("replacement purchase granted",
		zap.Int64("purchase_id", created.ID),
		zap.Int64("customer_id", customerID),
		zap.Int64("admin_id", adminID),
	)
	s.publish(ctx, model.PurchaseEvent{
		Type:     model.PurchaseEventCreated,
		Purchase: created,
		ActorID:  &admin,
		Source:   SourceStaff,
	})
	return created, nil
}

func (s *Service) IssueReviewCopy(ctx context.Context, in ReviewCopyInput, adminID int64) (model.Purchase, error) {
	address := strings.TrimSpace(in.Email)
	if in.PublicationID <= 0 || adminID <= 0 || !strings.Contains(address, "@") {
		return model.Purchase{}, ErrValidation
	}
	if err := s.ready(); err != nil {
		return model.Purchase{}, err
	}

	pub, err := s.publication(ctx, in.PublicationID)
	if err != nil {
		return model.Purchase{}, err
	}

	admin := adminID
	created, err := s.purchases.Create(ctx, model.Purchase{
		Kind:          enums.TransactionKindReviewCopy,
		Price:         decimal.Zero,
		Currency:      s.cfg.Currency,
		PublicationID: pub.ID,
		Status:        enums.PurchaseStatusReady,
		AdminID:       &admin,
		ContactEmail:  address,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return model.Purchase{}, err
	}
	s.publish(ctx, model.PurchaseEvent{
		Type:     model.PurchaseEventCreated,
		Purchase: created,
		ActorID:  &admin,
		Source:   SourceStaff,
	})

	delivered, _, err := s.markReady(ctx, created.ID, model.DeliveryEmail{
		Name:    in.Name,
		Address: address,
		Link:    s.ReviewLink(created.ID, address),
	}, SourceStaff)
	if err != nil {
		return model.Purchase{}, err
	}
	return delivered, nil
}

func (s *Service) Find(ctx context.Context, purchaseID int64) (model.Purchase, error) {
	if purchaseID <= 0 {
		return model.Purchase{}, ErrPurchaseNotFound
	}
	if err := s.ready(); err != nil {
		return model.Purchase{}, err
	}
	p, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		return model.Purchase{}, s.mapStoreErr(err)
	}
	return p, nil
}

// GetForCustomer loads a purchase owned by customerID or any account merged
// with it. Purchases of other accounts are reported as not found.
func (s *Service) GetForCustomer(ctx context.Context, purchaseID, customerID int64) (model.Purchase, error) {
	p, err := s.Find(ctx, purchaseID)
	if err != nil {
		return model.Purchase{}, err
	}
	owners, err := s.owners(ctx, customerID)
	if err != nil {
		return model.Purchase{}, err
	}
	if !p.OwnedByAny(owners) {
		return model.Purchase{}, ErrPurchaseNotFound
	}
	return p, nil
}

func (s *Service) ListForCustomer(ctx context.Context, customerID int64, limit int) ([]model.Purchase, error) {
	if customerID <= 0 {
		return nil, ErrValidation
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	owners, err := s.owners(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.purchases.ListForAccounts(ctx, owners, limit)
}

func (s *Service) ReviewLink(purchaseID int64, email string) string {
	q := url.Values{}
	q.Set("email", strings.TrimSpace(email))
	q.Set("key", rules.ReviewKey(purchaseID, email))
	return s.cfg.PublicBaseURL + "/v1/review/" + strconv.FormatInt(purchaseID, 10) + "?" + q.Encode()
}

func (s *Service) downloadLink(publicationID int64) string {
	return s.cfg.PublicBaseURL + "/v1/publications/" + strconv.FormatInt(publicationID, 10) + "/download"
}

func (s *Service) owners(ctx context.Context, customerID int64) ([]int64, error) {
	if s.accounts == nil {
		return []int64{customerID}, nil
	}
	return s.accounts.Resolve(ctx, customerID)
}

func (s *Service) publication(ctx context.Context, publicationID int64) (model.Publication, error) {
	if s.catalog == nil {
		return model.Publication{}, fmt.Errorf("catalog is nil")
	}
	pub, err := s.catalog.Publication(ctx, publicationID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrNotFound) {
			return model.Publication{}, ErrPublicationNotFound
		}
		return model.Publication{}, err
	}
	return pub, nil
}

func (s *Service) publish(ctx context.Context, event model.PurchaseEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	for _, sub := range s.subscribers {
		if err := sub.OnPurchaseEvent(ctx, event); err != nil {
			s.logger.Warn("purchase event subscriber failed",
				zap.String("subscriber", sub.Name()),
				zap.String("event", string(event.Type)),
				zap.Int64("purchase_id", event.Purchase.ID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) mapStoreErr(err error) error {
	switch {
	case errors.Is(err, pgrepo.ErrPurchaseNotFound):
		return ErrPurchaseNotFound
	case errors.Is(err, pgrepo.ErrPurchaseStatusConflict):
		return ErrInvalidState
	default:
		return err
	}
}

func (s *Service) ready() error {
	if s.purchases == nil {
		return fmt.Errorf("purchase store is nil")
	}
	return nil
}

func isFree(pub model.Publication) bool {
	return pub.Free || !pub.Price.IsPositive()
}
