package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MichaelUrman/bookstore/internal/domain/enums"
	"github.com/MichaelUrman/bookstore/internal/domain/model"
)

var (
	ErrPurchaseNotFound       = errors.New("purchase not found")
	ErrPurchaseStatusConflict = errors.New("purchase status changed concurrently")
)

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

const purchaseColumns = `
	id,
	kind,
	price::text,
	currency,
	publication_id,
	status,
	customer_id,
	admin_id,
	contact_email,
	delivery_address,
	email_name,
	email_address,
	email_link,
	email_sent,
	email_sent_at,
	created_at,
	updated_at`

func (r *PurchaseRepo) Create(ctx context.Context, p model.Purchase) (model.Purchase, error) {
	if r.pool == nil {
		return model.Purchase{}, fmt.Errorf("postgres pool is nil")
	}
	if p.PublicationID <= 0 || p.Kind == "" || p.Status == "" || strings.TrimSpace(p.Currency) == "" {
		return model.Purchase{}, fmt.Errorf("invalid purchase create payload")
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	record, err := scanPurchase(r.pool.QueryRow(ctx, `
INSERT INTO purchases (
	kind,
	price,
	currency,
	publication_id,
	status,
	customer_id,
	admin_id,
	contact_email,
	delivery_address,
	email_name,
	email_address,
	email_link,
	email_sent,
	email_sent_at,
	created_at,
	updated_at
) VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
RETURNING`+purchaseColumns,
		string(p.Kind),
		p.Price.StringFixed(2),
		strings.ToUpper(strings.TrimSpace(p.Currency)),
		p.PublicationID,
		string(p.Status),
		p.CustomerID,
		p.AdminID,
		strings.TrimSpace(p.ContactEmail),
		strings.TrimSpace(p.DeliveryAddress),
		p.Email.Name,
		p.Email.Address,
		p.Email.Link,
		p.EmailSent,
		p.EmailSentAt,
		createdAt,
	))
	if err != nil {
		return model.Purchase{}, fmt.Errorf("create purchase: %w", err)
	}

	return record, nil
}

func (r *PurchaseRepo) FindByID(ctx context.Context, purchaseID int64) (model.Purchase, error) {
	if r.pool == nil {
		return model.Purchase{}, fmt.Errorf("postgres pool is nil")
	}
	if purchaseID <= 0 {
		return model.Purchase{}, ErrPurchaseNotFound
	}

	record, err := scanPurchase(r.pool.QueryRow(ctx, `
SELECT`+purchaseColumns+`
FROM purchases
WHERE id = $1
LIMIT 1
`, purchaseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Purchase{}, ErrPurchaseNotFound
		}
		return model.Purchase{}, fmt.Errorf("find purchase by id: %w", err)
	}

	return record, nil
}

func (r *PurchaseRepo) ListForPublication(ctx context.Context, accountIDs []int64, publicationID int64) ([]model.Purchase, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(accountIDs) == 0 || publicationID <= 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
SELECT`+purchaseColumns+`
FROM purchases
WHERE customer_id = ANY($1)
  AND publication_id = $2
ORDER BY created_at DESC, id DESC
`, accountIDs, publicationID)
	if err != nil {
		return nil, fmt.Errorf("list purchases for publication: %w", err)
	}
	return collectPurchases(rows)
}

func (r *PurchaseRepo) ListForAccounts(ctx context.Context, accountIDs []int64, limit int) ([]model.Purchase, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(accountIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT`+purchaseColumns+`
FROM purchases
WHERE customer_id = ANY($1)
ORDER BY created_at DESC, id DESC
LIMIT $2
`, accountIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases for accounts: %w", err)
	}
	return collectPurchases(rows)
}

// Transition moves a purchase to status to only while it is in one of from.
// When the guard does not match, the current row is returned with changed=false.
func (r *PurchaseRepo) Transition(
	ctx context.Context,
	purchaseID int64,
	from []enums.PurchaseStatus,
	to enums.PurchaseStatus,
) (model.Purchase, enums.PurchaseStatus, bool, error) {
	if r.pool == nil {
		return model.Purchase{}, "", false, fmt.Errorf("postgres pool is nil")
	}
	if purchaseID <= 0 || len(from) == 0 || to == "" {
		return model.Purchase{}, "", false, fmt.Errorf("invalid purchase transition payload")
	}

	var prev string
	row := r.pool.QueryRow(ctx, `
WITH prev AS (
	SELECT id, status
	FROM purchases
	WHERE id = $1
	FOR UPDATE
)
UPDATE purchases p
SET
	status = $3,
	updated_at = NOW()
FROM prev
WHERE p.id = prev.id
  AND prev.status = ANY($2)
RETURNING prev.status,`+prefixed("p", purchaseColumns),
		purchaseID, statusStrings(from), string(to))

	updated, err := scanPurchaseWithPrev(row, &prev)
	if err == nil {
		return updated, enums.PurchaseStatus(prev), true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Purchase{}, "", false, fmt.Errorf("transition purchase: %w", err)
	}

	current, err := r.FindByID(ctx, purchaseID)
	if err != nil {
		return model.Purchase{}, "", false, err
	}
	return current, current.Status, false, nil
}

// MarkReady moves an open purchase to ready and fills the delivery email
// fields. A ready purchase whose email was never sent only gets the email
// fields. A ready purchase with email_sent is returned unchanged.
func (r *PurchaseRepo) MarkReady(
	ctx context.Context,
	purchaseID int64,
	email model.DeliveryEmail,
	now time.Time,
) (model.Purchase, enums.PurchaseStatus, bool, error) {
	if r.pool == nil {
		return model.Purchase{}, "", false, fmt.Errorf("postgres pool is nil")
	}
	if purchaseID <= 0 {
		return model.Purchase{}, "", false, ErrPurchaseNotFound
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var prev string
	row := r.pool.QueryRow(ctx, `
WITH prev AS (
	SELECT id, status, email_sent
	FROM purchases
	WHERE id = $1
	FOR UPDATE
)
UPDATE purchases p
SET
	status = 'ready',
	email_name = $2,
	email_address = $3,
	email_link = $4,
	email_sent = TRUE,
	email_sent_at = $5,
	updated_at = NOW()
FROM prev
WHERE p.id = prev.id
  AND (
	prev.status IN ('pending', 'submitted')
	OR (prev.status = 'ready' AND NOT prev.email_sent)
  )
RETURNING prev.status,`+prefixed("p", purchaseColumns),
		purchaseID, email.Name, email.Address, email.Link, now.UTC())

	updated, err := scanPurchaseWithPrev(row, &prev)
	if err == nil {
		return updated, enums.PurchaseStatus(prev), true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Purchase{}, "", false, fmt.Errorf("mark purchase ready: %w", err)
	}

	current, err := r.FindByID(ctx, purchaseID)
	if err != nil {
		return model.Purchase{}, "", false, err
	}
	if current.Status == enums.PurchaseStatusReady {
		return current, current.Status, false, nil
	}
	return current, current.Status, false, ErrPurchaseStatusConflict
}

// SetStatus is the staff override. It skips the transition table but locks the
// row and writes an audit entry in the same transaction.
func (r *PurchaseRepo) SetStatus(
	ctx context.Context,
	purchaseID int64,
	to enums.PurchaseStatus,
	adminID int64,
) (model.Purchase, enums.PurchaseStatus, error) {
	if r.pool == nil {
		return model.Purchase{}, "", fmt.Errorf("postgres pool is nil")
	}
	if purchaseID <= 0 || adminID <= 0 || to == "" {
		return model.Purchase{}, "", fmt.Errorf("invalid staff status payload")
	}

	var (
		out  model.Purchase
		from enums.PurchaseStatus
	)
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(txCtx, `
SELECT status
FROM purchases
WHERE id = $1
FOR UPDATE
`, purchaseID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPurchaseNotFound
			}
			return fmt.Errorf("lock purchase for staff update: %w", err)
		}
		from = enums.PurchaseStatus(current)

		updated, err := scanPurchase(tx.QueryRow(txCtx, `
UPDATE purchases
SET
	status = $2,
	admin_id = $3,
	updated_at = NOW()
WHERE id = $1
RETURNING`+purchaseColumns, purchaseID, string(to), adminID))
		if err != nil {
			return fmt.Errorf("staff update purchase: %w", err)
		}

		if _, err := tx.Exec(txCtx, `
INSERT INTO purchase_audit (purchase_id, admin_id, from_status, to_status, created_at)
VALUES ($1, $2, $3, $4, NOW())
`, purchaseID, adminID, current, string(to)); err != nil {
			return fmt.Errorf("insert purchase audit: %w", err)
		}

		out = updated
		return nil
	})
	if err != nil {
		return model.Purchase{}, "", err
	}

	return out, from, nil
}

func (r *PurchaseRepo) ExpireOpen(ctx context.Context, cutoff time.Time) ([]model.Purchase, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
UPDATE purchases
SET
	status = 'expired',
	updated_at = NOW()
WHERE status IN ('pending', 'submitted')
  AND created_at < $1
RETURNING`+purchaseColumns, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("expire open purchases: %w", err)
	}
	return collectPurchases(rows)
}

func (r *PurchaseRepo) ListAudit(ctx context.Context, purchaseID int64) ([]model.PurchaseAudit, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT purchase_id, admin_id, from_status, to_status, created_at
FROM purchase_audit
WHERE purchase_id = $1
ORDER BY created_at ASC, id ASC
`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list purchase audit: %w", err)
	}
	defer rows.Close()

	out := make([]model.PurchaseAudit, 0)
	for rows.Next() {
		var (
			item     model.PurchaseAudit
			from, to string
		)
		if err := rows.Scan(&item.PurchaseID, &item.AdminID, &from, &to, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase audit: %w", err)
		}
		item.FromStatus = enums.PurchaseStatus(from)
		item.ToStatus = enums.PurchaseStatus(to)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase audit: %w", err)
	}
	return out, nil
}

func collectPurchases(rows pgx.Rows) ([]model.Purchase, error) {
	defer rows.Close()

	out := make([]model.Purchase, 0)
	for rows.Next() {
		record, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	return out, nil
}

func scanPurchase(row pgx.Row) (model.Purchase, error) {
	return scanPurchaseWithPrev(row, nil)
}

func scanPurchaseWithPrev(row pgx.Row, prev *string) (model.Purchase, error) {
	var (
		record  model.Purchase
		kind    string
		price   string
		status  string
		targets []any
	)
	if prev != nil {
		targets = append(targets, prev)
	}
	targets = append(targets,
		&record.ID,
		&kind,
		&price,
		&record.Currency,
		&record.PublicationID,
		&status,
		&record.CustomerID,
		&record.AdminID,
		&record.ContactEmail,
		&record.DeliveryAddress,
		&record.Email.Name,
		&record.Email.Address,
		&record.Email.Link,
		&record.EmailSent,
		&record.EmailSentAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err := row.Scan(targets...); err != nil {
		return model.Purchase{}, err
	}

	amount, err := decimal.NewFromString(price)
	if err != nil {
		return model.Purchase{}, fmt.Errorf("parse purchase price %q: %w", price, err)
	}
	record.Price = amount
	record.Kind = enums.TransactionKind(kind)
	record.Status = enums.PurchaseStatus(status)
	record.Currency = strings.TrimSpace(record.Currency)
	return record, nil
}

func statusStrings(statuses []enums.PurchaseStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = "\n\t" + alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ",")
}
