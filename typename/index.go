package typename

import (
	"context"
	"sort"
	"sync"
)

// Index maps typenames to the cache keys whose results referenced them.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Record is additive: it never removes a key from a bucket.
//   - KeysFor returns each key once, in no particular order.
type Index interface {
	// Record adds key to the bucket of every typename.
	Record(ctx context.Context, key string, typenames []string) error
	// KeysFor returns the union of the buckets of typenames.
	KeysFor(ctx context.Context, typenames []string) ([]string, error)
	// Forget removes keys from every bucket they appear in.
	Forget(ctx context.Context, keys ...string) error
	// Clear drops every bucket.
	Clear(ctx context.Context) error
}

type memoryIndex struct {
	mu     sync.RWMutex
	byType map[string]map[string]struct{}
	byKey  map[string]map[string]struct{}
}

var _ Index = (*memoryIndex)(nil)

// NewMemoryIndex returns an in-process Index.
func NewMemoryIndex() Index {
	return &memoryIndex{
		byType: make(map[string]map[string]struct{}),
		byKey:  make(map[string]map[string]struct{}),
	}
}

func add(m map[string]map[string]struct{}, bucket, member string) {
	set, ok := m[bucket]
	if !ok {
		set = make(map[string]struct{})
		m[bucket] = set
	}
	set[member] = struct{}{}
}

func (i *memoryIndex) Record(_ context.Context, key string, typenames []string) error {
	if len(typenames) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, t := range typenames {
		add(i.byType, t, key)
		add(i.byKey, key, t)
	}
	return nil
}

func (i *memoryIndex) KeysFor(_ context.Context, typenames []string) ([]string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, t := range typenames {
		for key := range i.byType[t] {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (i *memoryIndex) Forget(_ context.Context, keys ...string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, key := range keys {
		for t := range i.byKey[key] {
			bucket := i.byType[t]
			delete(bucket, key)
			if len(bucket) == 0 {
				delete(i.byType, t)
			}
		}
		delete(i.byKey, key)
	}
	return nil
}

func (i *memoryIndex) Clear(_ context.Context) error {
	i.mu.Lock()
	i.byType = make(map[string]map[string]struct{})
	i.byKey = make(map[string]map[string]struct{})
	i.mu.Unlock()
	return nil
}
