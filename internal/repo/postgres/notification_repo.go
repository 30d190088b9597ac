package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
)

type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

func (r *NotificationRepo) Insert(ctx context.Context, n model.PaymentNotification) (model.PaymentNotification, error) {
	if r.pool == nil {
		return model.PaymentNotification{}, fmt.Errorf("postgres pool is nil")
	}
	if n.PurchaseID <= 0 {
		return model.PaymentNotification{}, fmt.Errorf("invalid notification payload")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(n.RawParams)
	if err != nil {
		return model.PaymentNotification{}, fmt.Errorf("marshal notification params: %w", err)
	}

	if _, err := r.pool.Exec(ctx, `
INSERT INTO payment_notifications (
	id,
	purchase_id,
	txn_id,
	txn_type,
	raw_params,
	amount,
	currency,
	payment_status,
	received_at
) VALUES ($1, $2, $3, $4, $5::jsonb, $6::numeric, $7, $8, $9)
`,
		n.ID,
		n.PurchaseID,
		strings.TrimSpace(n.TxnID),
		strings.TrimSpace(n.TxnType),
		string(raw),
		n.Amount.StringFixed(2),
		strings.ToUpper(strings.TrimSpace(n.Currency)),
		strings.TrimSpace(n.PaymentStatus),
		n.ReceivedAt.UTC(),
	); err != nil {
		return model.PaymentNotification{}, fmt.Errorf("insert payment notification: %w", err)
	}

	return n, nil
}

func (r *NotificationRepo) ListByPurchase(ctx context.Context, purchaseID int64) ([]model.PaymentNotification, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id::text, purchase_id, txn_id, txn_type, raw_params, amount::text, currency, payment_status, received_at
FROM payment_notifications
WHERE purchase_id = $1
ORDER BY received_at ASC
`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list payment notifications: %w", err)
	}
	defer rows.Close()

	out := make([]model.PaymentNotification, 0)
	for rows.Next() {
		var (
			n      model.PaymentNotification
			raw    []byte
			amount string
		)
		if err := rows.Scan(&n.ID, &n.PurchaseID, &n.TxnID, &n.TxnType, &raw, &amount, &n.Currency, &n.PaymentStatus, &n.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan payment notification: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &n.RawParams); err != nil {
				return nil, fmt.Errorf("decode notification params: %w", err)
			}
		}
		if n.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse notification amount %q: %w", amount, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment notifications: %w", err)
	}
	return out, nil
}
