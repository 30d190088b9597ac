package entitlements

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/MichaelUrman/bookstore/internal/domain/enums"
	"github.com/MichaelUrman/bookstore/internal/domain/model"
	"github.com/MichaelUrman/bookstore/internal/domain/rules"
	pgrepo "github.com/MichaelUrman/bookstore/internal/repo/postgres"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("purchase not found")
	ErrForbidden  = errors.New("not entitled")
)

type Kind string

const (
	KindAvailableNow Kind = "available_now"
	KindPending      Kind = "pending"
	KindDenied       Kind = "denied"
	KindUnpurchased  Kind = "unpurchased"
)

// Decision is the outcome of an entitlement query. Denied, Pending and
// Unpurchased are answers, not errors.
type Decision struct {
	Kind      Kind
	Purchase  *model.Purchase
	Downloads int
	Limit     int
}

func (d Decision) Allowed() bool {
	return d.Kind == KindAvailableNow && d.Purchase != nil
}

type PurchaseStore interface {
	FindByID(ctx context.Context, purchaseID int64) (model.Purchase, error)
	ListForPublication(ctx context.Context, accountIDs []int64, publicationID int64) ([]model.Purchase, error)
}

type DownloadCounter interface {
	CountByPurchase(ctx context.Context, purchaseID int64) (int, error)
}

type AccountResolver interface {
	Resolve(ctx context.Context, accountID int64) ([]int64, error)
}

type Config struct {
	AllowedDownloads    int
	ReviewCopyDownloads int
}

type Dependencies struct {
	Purchases PurchaseStore
	Downloads DownloadCounter
	Accounts  AccountResolver
}

type Service struct {
	purchases PurchaseStore
	downloads DownloadCounter
	accounts  AccountResolver
	cfg       Config
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.AllowedDownloads <= 0 {
		cfg.AllowedDownloads = rules.DefaultAllowedDownloads
	}
	if cfg.ReviewCopyDownloads <= 0 {
		cfg.ReviewCopyDownloads = rules.DefaultReviewCopyDownloads
	}
	return &Service{
		purchases: deps.Purchases,
		downloads: deps.Downloads,
		accounts:  deps.Accounts,
		cfg:       cfg,
	}
}

// CanDownload looks at every purchase of the publication made by the principal
// or any account merged with it. The newest ready purchase decides; failing
// that, the newest open one reports Pending.
func (s *Service) CanDownload(ctx context.Context, principal, publicationID int64) (Decision, error) {
	if principal <= 0 || publicationID <= 0 {
		return Decision{}, ErrValidation
	}
	if s.purchases == nil || s.downloads == nil || s.accounts == nil {
		return Decision{}, fmt.Errorf("entitlements service is not configured")
	}

	owners, err := s.accounts.Resolve(ctx, principal)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve merged accounts: %w", err)
	}

	purchases, err := s.purchases.ListForPublication(ctx, owners, publicationID)
	if err != nil {
		return Decision{}, err
	}

	if ready := newestWithStatus(purchases, enums.PurchaseStatusReady); ready != nil {
		return s.decide(ctx, *ready, s.cfg.AllowedDownloads)
	}
	if open := newestOpen(purchases); open != nil {
		return Decision{Kind: KindPending, Purchase: open}, nil
	}
	return Decision{Kind: KindUnpurchased}, nil
}

func (s *Service) ClaimReviewCopy(ctx context.Context, purchaseID int64, email, key string) (Decision, error) {
	email = strings.TrimSpace(email)
	key = strings.TrimSpace(key)
	if purchaseID <= 0 || email == "" || key == "" {
		return Decision{}, ErrValidation
	}
	if s.purchases == nil || s.downloads == nil {
		return Decision{}, fmt.Errorf("entitlements service is not configured")
	}

	expected := rules.ReviewKey(purchaseID, email)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(key))) != 1 {
		return Decision{}, ErrForbidden
	}

	p, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPurchaseNotFound) {
			return Decision{}, ErrNotFound
		}
		return Decision{}, err
	}
	if p.Kind != enums.TransactionKindReviewCopy || !strings.EqualFold(p.ContactEmail, email) {
		return Decision{}, ErrForbidden
	}
	if p.Status != enums.PurchaseStatusReady {
		return Decision{Kind: KindDenied, Purchase: &p}, nil
	}

	return s.decide(ctx, p, s.cfg.ReviewCopyDownloads)
}

func (s *Service) decide(ctx context.Context, p model.Purchase, limit int) (Decision, error) {
	count, err := s.downloads.CountByPurchase(ctx, p.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("count downloads: %w", err)
	}

	d := Decision{Kind: KindDenied, Purchase: &p, Downloads: count, Limit: limit}
	if rules.DownloadAvailable(count, limit) {
		d.Kind = KindAvailableNow
	}
	return d, nil
}

// purchases arrive newest first.
func newestWithStatus(purchases []model.Purchase, status enums.PurchaseStatus) *model.Purchase {
	for i := range purchases {
		if purchases[i].Status == status {
			return &purchases[i]
		}
	}
	return nil
}

func newestOpen(purchases []model.Purchase) *model.Purchase {
	for i := range purchases {
		if purchases[i].Status.Open() {
			return &purchases[i]
		}
	}
	return nil
}
