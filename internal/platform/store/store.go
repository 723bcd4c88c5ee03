// Package store persists clinic records as JSON documents. Documents are
// grouped by center and collection, addressed by id, and never deleted:
// clinical records are only ever amended. Three backends are provided: an
// in-memory store for tests and development, a single flat JSON file, and a
// PostgreSQL jsonb table.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// GlobalScope is the pseudo center used for records that are not owned by
// any center, such as user accounts.
const GlobalScope = "_global"

// Collection names used by the domain packages.
const (
	CollectionPatients  = "patients"
	CollectionEpisodes  = "episodes"
	CollectionVisits    = "visits"
	CollectionReferrals = "referrals"
	CollectionSettings  = "settings"
	CollectionUsers     = "users"
)

// DocumentStore is the contract every persistence backend implements.
//
// List returns documents in first-insertion order. Re-putting an existing id
// replaces the body but keeps its position.
type DocumentStore interface {
	Get(ctx context.Context, center, collection, id string) ([]byte, error)
	Put(ctx context.Context, center, collection, id string, doc []byte) error
	List(ctx context.Context, center, collection string) ([][]byte, error)
}

// Collection is a typed view over one collection of a DocumentStore.
type Collection[T any] struct {
	store DocumentStore
	name  string
}

// NewCollection binds a typed collection to a store.
func NewCollection[T any](s DocumentStore, name string) *Collection[T] {
	return &Collection[T]{store: s, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

func (c *Collection[T]) Get(ctx context.Context, center, id string) (*T, error) {
	raw, err := c.store.Get(ctx, center, c.name, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", c.name, id, err)
	}
	return &v, nil
}

func (c *Collection[T]) Put(ctx context.Context, center, id string, v *T) error {
	if id == "" {
		return fmt.Errorf("%s: id is required", c.name)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c.name, id, err)
	}
	return c.store.Put(ctx, center, c.name, id, raw)
}

func (c *Collection[T]) List(ctx context.Context, center string) ([]*T, error) {
	docs, err := c.store.List(ctx, center, c.name)
	if err != nil {
		return nil, err
	}
	items := make([]*T, 0, len(docs))
	for i, raw := range docs {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s[%d]: %w", c.name, i, err)
		}
		items = append(items, &v)
	}
	return items, nil
}
