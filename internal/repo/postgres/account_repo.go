package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
)

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrAccountAlreadyGrouped = errors.New("account already belongs to a group")
	ErrGroupNameTaken        = errors.New("account group name already exists")
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) FindByID(ctx context.Context, accountID int64) (model.Account, error) {
	if r.pool == nil {
		return model.Account{}, fmt.Errorf("postgres pool is nil")
	}

	var out model.Account
	err := r.pool.QueryRow(ctx, `
SELECT id, email, name
FROM accounts
WHERE id = $1
`, accountID).Scan(&out.ID, &out.Email, &out.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, ErrAccountNotFound
		}
		return model.Account{}, fmt.Errorf("find account: %w", err)
	}
	return out, nil
}

func (r *AccountRepo) GroupMembers(ctx context.Context, accountID int64) ([]int64, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT m.account_id
FROM account_group_members m
JOIN account_group_members self ON self.group_id = m.group_id
WHERE self.account_id = $1
ORDER BY m.account_id ASC
`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return out, nil
}

func (r *AccountRepo) CreateGroup(ctx context.Context, name string, accountIDs []int64, createdBy int64) (model.AccountGroup, error) {
	if r.pool == nil {
		return model.AccountGroup{}, fmt.Errorf("postgres pool is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" || len(accountIDs) == 0 || createdBy <= 0 {
		return model.AccountGroup{}, fmt.Errorf("invalid account group payload")
	}

	group := model.AccountGroup{Name: name, CreatedBy: createdBy}
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(txCtx, `
INSERT INTO account_groups (name, created_by, created_at)
VALUES ($1, $2, NOW())
RETURNING id, created_at
`, name, createdBy).Scan(&group.ID, &group.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return ErrGroupNameTaken
			}
			return fmt.Errorf("insert account group: %w", err)
		}

		for _, id := range accountIDs {
			if _, err := tx.Exec(txCtx, `
INSERT INTO account_group_members (account_id, group_id, added_at)
VALUES ($1, $2, NOW())
`, id, group.ID); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("account %d: %w", id, ErrAccountAlreadyGrouped)
				}
				return fmt.Errorf("insert account group member: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.AccountGroup{}, err
	}

	group.MemberIDs = append([]int64(nil), accountIDs...)
	sort.Slice(group.MemberIDs, func(i, j int) bool { return group.MemberIDs[i] < group.MemberIDs[j] })
	return group, nil
}

// RemoveMember detaches accountID from its group and returns the members the
// group had before removal, so callers can invalidate cached memberships.
func (r *AccountRepo) RemoveMember(ctx context.Context, accountID int64) ([]int64, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	before, err := r.GroupMembers(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(before) == 0 {
		return nil, ErrAccountNotFound
	}

	if _, err := r.pool.Exec(ctx, `
DELETE FROM account_group_members
WHERE account_id = $1
`, accountID); err != nil {
		return nil, fmt.Errorf("remove account group member: %w", err)
	}
	return before, nil
}
