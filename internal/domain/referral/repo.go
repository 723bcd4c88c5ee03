package referral

import (
	"context"

	"github.com/pdclinic/pdclinic/internal/platform/store"
)

type Repository interface {
	Save(ctx context.Context, center string, r *Referral) error
	GetByID(ctx context.Context, center, id string) (*Referral, error)
	List(ctx context.Context, center string) ([]*Referral, error)
}

type StoreRepo struct {
	docs *store.Collection[Referral]
}

func NewStoreRepo(s store.DocumentStore) *StoreRepo {
	return &StoreRepo{docs: store.NewCollection[Referral](s, store.CollectionReferrals)}
}

func (r *StoreRepo) Save(ctx context.Context, center string, ref *Referral) error {
	return r.docs.Put(ctx, center, ref.ID, ref)
}

func (r *StoreRepo) GetByID(ctx context.Context, center, id string) (*Referral, error) {
	return r.docs.Get(ctx, center, id)
}

func (r *StoreRepo) List(ctx context.Context, center string) ([]*Referral, error) {
	return r.docs.List(ctx, center)
}
