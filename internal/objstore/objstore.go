// Package objstore abstracts the object stores holding uploaded documents
// and split page objects. Two backends exist: Google Cloud Storage and a
// local filesystem store used for development and tests.
package objstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the minimal object storage contract the pipeline needs.
type Store interface {
	// Get returns the full contents of bucket/key.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Put writes contents to bucket/key, overwriting any existing object.
	Put(ctx context.Context, bucket, key string, data []byte) error
	// Exists reports whether bucket/key is present.
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// List returns keys under the given prefix.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// PageKey builds the canonical object key for a split page.
func PageKey(documentID string, page int) string {
	return fmt.Sprintf("%s/page-%03d.pdf", documentID, page)
}

// Registry resolves a named store. The pipeline runs with two: the store
// holding raw uploads and the store holding split pages; source descriptors
// reference either by name.
type Registry struct {
	stores map[string]Store
}

// NewRegistry builds a registry from named stores.
func NewRegistry(stores map[string]Store) *Registry {
	return &Registry{stores: stores}
}

// Lookup returns the named store.
func (r *Registry) Lookup(name string) (Store, error) {
	s, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("unknown object store %q", name)
	}
	return s, nil
}
