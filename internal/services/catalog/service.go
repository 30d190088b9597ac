package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/MichaelUrman/bookstore/internal/domain/model"
	pgrepo "github.com/MichaelUrman/bookstore/internal/repo/postgres"
)

var ErrNotFound = errors.New("publication not found")

type PublicationStore interface {
	FindPublication(ctx context.Context, publicationID int64) (model.Publication, error)
	ResolveAlias(ctx context.Context, legacyID int64) (int64, error)
}

type Resolver struct {
	store PublicationStore
}

func NewResolver(store PublicationStore) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) Publication(ctx context.Context, publicationID int64) (model.Publication, error) {
	if publicationID <= 0 {
		return model.Publication{}, ErrNotFound
	}
	if r.store == nil {
		return model.Publication{}, fmt.Errorf("publication store is nil")
	}

	pub, err := r.store.FindPublication(ctx, publicationID)
	if err == nil {
		return pub, nil
	}
	if !errors.Is(err, pgrepo.ErrPublicationNotFound) {
		return model.Publication{}, err
	}

	aliasID, err := r.store.ResolveAlias(ctx, publicationID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrAliasNotFound) {
			return model.Publication{}, ErrNotFound
		}
		return model.Publication{}, err
	}

	pub, err = r.store.FindPublication(ctx, aliasID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPublicationNotFound) {
			return model.Publication{}, ErrNotFound
		}
		return model.Publication{}, err
	}
	return pub, nil
}
