package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
)

var ErrDownloadLimitReached = errors.New("download limit reached")

type DownloadRepo struct {
	pool *pgxpool.Pool
}

func NewDownloadRepo(pool *pgxpool.Pool) *DownloadRepo {
	return &DownloadRepo{pool: pool}
}

// Record holds the purchase row lock while it counts and inserts, so two
// requests cannot both take the last download. limit <= 0 records unconditionally.
func (r *DownloadRepo) Record(ctx context.Context, purchaseID int64, remoteAddr string, at time.Time, limit int) (model.Download, error) {
	if r.pool == nil {
		return model.Download{}, fmt.Errorf("postgres pool is nil")
	}
	if purchaseID <= 0 {
		return model.Download{}, fmt.Errorf("invalid download payload")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	out := model.Download{PurchaseID: purchaseID}
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(txCtx, `
SELECT id
FROM purchases
WHERE id = $1
FOR UPDATE
`, purchaseID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPurchaseNotFound
			}
			return fmt.Errorf("lock purchase for download: %w", err)
		}

		if limit > 0 {
			var count int
			if err := tx.QueryRow(txCtx, `
SELECT COUNT(*)
FROM downloads
WHERE purchase_id = $1
`, purchaseID).Scan(&count); err != nil {
				return fmt.Errorf("count downloads: %w", err)
			}
			if count >= limit {
				return ErrDownloadLimitReached
			}
		}

		if err := tx.QueryRow(txCtx, `
INSERT INTO downloads (purchase_id, remote_addr, downloaded_at)
VALUES ($1, $2, $3)
RETURNING id, remote_addr, downloaded_at
`, purchaseID, strings.TrimSpace(remoteAddr), at.UTC()).Scan(&out.ID, &out.RemoteAddr, &out.DownloadedAt); err != nil {
			return fmt.Errorf("record download: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Download{}, err
	}
	return out, nil
}

func (r *DownloadRepo) CountByPurchase(ctx context.Context, purchaseID int64) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var count int
	if err := r.pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM downloads
WHERE purchase_id = $1
`, purchaseID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count downloads: %w", err)
	}
	return count, nil
}
