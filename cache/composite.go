package cache

import (
	"context"

	"github.com/cockroachdb/errors"
)

type compositeStore struct {
	stores []Store
}

var _ Store = (*compositeStore)(nil)

// NewComposite returns a Store that chains stores together, typically an
// in-memory L1 in front of a shared L2.
// Get and Has check stores in order and return the first hit.
// Set, Delete and Clear apply to every store.
// At least one store must be provided; panics if empty.
func NewComposite(stores ...Store) Store {
	if len(stores) == 0 {
		panic("cache: NewComposite requires at least one store")
	}
	return &compositeStore{stores: stores}
}

func (c *compositeStore) Get(ctx context.Context, key string) (any, bool, error) {
	for _, store := range c.stores {
		val, found, err := store.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if found {
			return val, true, nil
		}
	}
	return nil, false, nil
}

func (c *compositeStore) Has(ctx context.Context, key string) (bool, error) {
	for _, store := range c.stores {
		found, err := store.Has(ctx, key)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// each applies fn to every store and joins the errors.
func (c *compositeStore) each(fn func(Store) error) error {
	var errs error
	for _, store := range c.stores {
		if err := fn(store); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

func (c *compositeStore) Set(ctx context.Context, key string, val any) error {
	return c.each(func(s Store) error { return s.Set(ctx, key, val) })
}

func (c *compositeStore) Delete(ctx context.Context, key string) error {
	return c.each(func(s Store) error { return s.Delete(ctx, key) })
}

func (c *compositeStore) Clear(ctx context.Context) error {
	return c.each(func(s Store) error { return s.Clear(ctx) })
}

func (c *compositeStore) Close() error {
	return c.each(func(s Store) error { return s.Close() })
}
