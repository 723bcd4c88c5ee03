package episode

import (
	"context"

	"github.com/pdclinic/pdclinic/internal/platform/store"
)

type EpisodeRepository interface {
	Save(ctx context.Context, center string, e *Episode) error
	GetByID(ctx context.Context, center, id string) (*Episode, error)
	List(ctx context.Context, center string) ([]*Episode, error)
}

// VisitRepository has no update path: visits are immutable once written.
type VisitRepository interface {
	Create(ctx context.Context, center string, v *Visit) error
	GetByID(ctx context.Context, center, id string) (*Visit, error)
	List(ctx context.Context, center string) ([]*Visit, error)
}

type EpisodeStoreRepo struct {
	docs *store.Collection[Episode]
}

func NewEpisodeStoreRepo(s store.DocumentStore) *EpisodeStoreRepo {
	return &EpisodeStoreRepo{docs: store.NewCollection[Episode](s, store.CollectionEpisodes)}
}

func (r *EpisodeStoreRepo) Save(ctx context.Context, center string, e *Episode) error {
	return r.docs.Put(ctx, center, e.ID, e)
}

func (r *EpisodeStoreRepo) GetByID(ctx context.Context, center, id string) (*Episode, error) {
	return r.docs.Get(ctx, center, id)
}

func (r *EpisodeStoreRepo) List(ctx context.Context, center string) ([]*Episode, error) {
	return r.docs.List(ctx, center)
}

type VisitStoreRepo struct {
	docs *store.Collection[Visit]
}

func NewVisitStoreRepo(s store.DocumentStore) *VisitStoreRepo {
	return &VisitStoreRepo{docs: store.NewCollection[Visit](s, store.CollectionVisits)}
}

func (r *VisitStoreRepo) Create(ctx context.Context, center string, v *Visit) error {
	return r.docs.Put(ctx, center, v.ID, v)
}

func (r *VisitStoreRepo) GetByID(ctx context.Context, center, id string) (*Visit, error) {
	return r.docs.Get(ctx, center, id)
}

// List returns visits in insertion order.
func (r *VisitStoreRepo) List(ctx context.Context, center string) ([]*Visit, error) {
	return r.docs.List(ctx, center)
}
