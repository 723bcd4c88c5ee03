package patient

import (
	"context"

	"github.com/pdclinic/pdclinic/internal/platform/store"
)

type Repository interface {
	Save(ctx context.Context, center string, p *Patient) error
	GetByID(ctx context.Context, center, id string) (*Patient, error)
	List(ctx context.Context, center string) ([]*Patient, error)
}

// StoreRepo keeps patients in a document store.
type StoreRepo struct {
	docs *store.Collection[Patient]
}

func NewStoreRepo(s store.DocumentStore) *StoreRepo {
	return &StoreRepo{docs: store.NewCollection[Patient](s, store.CollectionPatients)}
}

func (r *StoreRepo) Save(ctx context.Context, center string, p *Patient) error {
	return r.docs.Put(ctx, center, p.ID, p)
}

func (r *StoreRepo) GetByID(ctx context.Context, center, id string) (*Patient, error) {
	return r.docs.Get(ctx, center, id)
}

func (r *StoreRepo) List(ctx context.Context, center string) ([]*Patient, error) {
	return r.docs.List(ctx, center)
}
