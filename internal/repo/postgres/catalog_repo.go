package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
)

var (
	ErrPublicationNotFound = errors.New("publication not found")
	ErrAliasNotFound       = errors.New("publication alias not found")
)

type CatalogRepo struct {
	pool *pgxpool.Pool
}

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{pool: pool}
}

func (r *CatalogRepo) FindPublication(ctx context.Context, publicationID int64) (model.Publication, error) {
	if r.pool == nil {
		return model.Publication{}, fmt.Errorf("postgres pool is nil")
	}

	var (
		out   model.Publication
		price string
	)
	err := r.pool.QueryRow(ctx, `
SELECT
	p.id,
	p.book_id,
	b.title,
	b.publish_date,
	f.name,
	f.mime_type,
	f.extension,
	p.price::text,
	p.free,
	p.purchasable,
	p.object_key,
	p.size_bytes
FROM publications p
JOIN books b ON b.id = p.book_id
JOIN formats f ON f.id = p.format_id
WHERE p.id = $1
`, publicationID).Scan(
		&out.ID,
		&out.BookID,
		&out.BookTitle,
		&out.PublishDate,
		&out.Format.Name,
		&out.Format.MimeType,
		&out.Format.Extension,
		&price,
		&out.Free,
		&out.Purchasable,
		&out.ObjectKey,
		&out.SizeBytes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Publication{}, ErrPublicationNotFound
		}
		return model.Publication{}, fmt.Errorf("find publication: %w", err)
	}

	if out.Price, err = decimal.NewFromString(price); err != nil {
		return model.Publication{}, fmt.Errorf("parse publication price %q: %w", price, err)
	}
	return out, nil
}

func (r *CatalogRepo) ResolveAlias(ctx context.Context, legacyID int64) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var id int64
	err := r.pool.QueryRow(ctx, `
SELECT publication_id
FROM publication_aliases
WHERE legacy_id = $1
`, legacyID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAliasNotFound
		}
		return 0, fmt.Errorf("resolve publication alias: %w", err)
	}
	return id, nil
}
