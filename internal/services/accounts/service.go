package accounts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
	pgrepo "github.com/MichaelUrman/bookstore/internal/repo/postgres"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrAccountNotFound = errors.New("account not found")
	ErrAlreadyGrouped  = errors.New("account already belongs to a group")
	ErrGroupNameTaken  = errors.New("account group name already exists")
)

type AccountStore interface {
	FindByID(ctx context.Context, accountID int64) (model.Account, error)
	GroupMembers(ctx context.Context, accountID int64) ([]int64, error)
	CreateGroup(ctx context.Context, name string, accountIDs []int64, createdBy int64) (model.AccountGroup, error)
	RemoveMember(ctx context.Context, accountID int64) ([]int64, error)
}

type GroupCache interface {
	Get(ctx context.Context, accountID int64) ([]int64, int64, bool, error)
	Set(ctx context.Context, accountID int64, members []int64, generation int64, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context, accountIDs ...int64) error
}

type Service struct {
	store    AccountStore
	cache    GroupCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

type Dependencies struct {
	Accounts AccountStore
	Cache    GroupCache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

func NewService(deps Dependencies) *Service {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{
		store:    deps.Accounts,
		cache:    deps.Cache,
		cacheTTL: ttl,
		logger:   log,
	}
}

// Resolve returns the accounts whose purchases accountID may use: its merged
// group, or just itself. The result always contains accountID and is sorted.
func (s *Service) Resolve(ctx context.Context, accountID int64) ([]int64, error) {
	if accountID <= 0 {
		return nil, ErrValidation
	}
	if s.store == nil {
		return nil, fmt.Errorf("account store is nil")
	}

	var generation int64
	if s.cache != nil {
		members, gen, ok, err := s.cache.Get(ctx, accountID)
		if err != nil {
			s.logger.Warn("account group cache read failed", zap.Int64("account_id", accountID), zap.Error(err))
		} else if ok {
			return withSelf(members, accountID), nil
		}
		generation = gen
	}

	members, err := s.store.GroupMembers(ctx, accountID)
	if err != nil {
		return nil, err
	}
	resolved := withSelf(members, accountID)

	if s.cache != nil {
		stored, err := s.cache.Set(ctx, accountID, resolved, generation, s.cacheTTL)
		if err != nil {
			s.logger.Warn("account group cache write failed", zap.Int64("account_id", accountID), zap.Error(err))
		} else if !stored {
			s.logger.Debug("account group changed while resolving", zap.Int64("account_id", accountID))
		}
	}
	return resolved, nil
}

func (s *Service) Email(ctx context.Context, accountID int64) (string, error) {
	if s.store == nil {
		return "", fmt.Errorf("account store is nil")
	}
	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrAccountNotFound) {
			return "", ErrAccountNotFound
		}
		return "", err
	}
	return strings.TrimSpace(account.Email), nil
}

func (s *Service) Merge(ctx context.Context, name string, accountIDs []int64, adminID int64) (model.AccountGroup, error) {
	if s.store == nil {
		return model.AccountGroup{}, fmt.Errorf("account store is nil")
	}
	ids := uniquePositive(accountIDs)
	if strings.TrimSpace(name) == "" || len(ids) < 2 || adminID <= 0 {
		return model.AccountGroup{}, ErrValidation
	}

	group, err := s.store.CreateGroup(ctx, name, ids, adminID)
	if err != nil {
		switch {
		case errors.Is(err, pgrepo.ErrAccountAlreadyGrouped):
			return model.AccountGroup{}, ErrAlreadyGrouped
		case errors.Is(err, pgrepo.ErrGroupNameTaken):
			return model.AccountGroup{}, ErrGroupNameTaken
		}
		return model.AccountGroup{}, err
	}

	s.invalidate(ctx, ids)
	s.logger.Info("account group created",
		zap.Int64("group_id", group.ID),
		zap.String("name", group.Name),
		zap.Int64s("members", group.MemberIDs),
		zap.Int64("admin_id", adminID),
	)
	return group, nil
}

func (s *Service) Unmerge(ctx context.Context, accountID, adminID int64) error {
	if s.store == nil {
		return fmt.Errorf("account store is nil")
	}
	if accountID <= 0 || adminID <= 0 {
		return ErrValidation
	}

	before, err := s.store.RemoveMember(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	s.invalidate(ctx, before)
	s.logger.Info("account removed from group",
		zap.Int64("account_id", accountID),
		zap.Int64("admin_id", adminID),
	)
	return nil
}

func (s *Service) invalidate(ctx context.Context, ids []int64) {
	if s.cache == nil || len(ids) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, ids...); err != nil {
		s.logger.Warn("account group cache invalidation failed", zap.Int64s("account_ids", ids), zap.Error(err))
	}
}

func withSelf(members []int64, accountID int64) []int64 {
	return uniquePositive(append(append([]int64(nil), members...), accountID))
}

func uniquePositive(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
