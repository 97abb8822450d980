package cache

import (
	"context"
	"sync"
	"time"
)

type value struct {
	object  any
	expires time.Time
}

func (v *value) expired(now time.Time) bool {
	return !v.expires.IsZero() && v.expires.Before(now)
}

type inMemoryStore struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cache     map[string]*value
	mutex     sync.RWMutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Store = (*inMemoryStore)(nil)

func (c *inMemoryStore) lookup(key string) (*value, bool) {
	c.mutex.RLock()
	val, ok := c.cache[key]
	c.mutex.RUnlock()
	if !ok {
		return nil, false
	}
	if val.expired(time.Now()) {
		c.mutex.Lock()
		if cur, ok := c.cache[key]; ok && cur == val {
			delete(c.cache, key)
		}
		c.mutex.Unlock()
		return nil, false
	}
	return val, true
}

func (c *inMemoryStore) Get(_ context.Context, key string) (any, bool, error) {
	val, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return val.object, true, nil
}

func (c *inMemoryStore) Has(_ context.Context, key string) (bool, error) {
	_, ok := c.lookup(key)
	return ok, nil
}

func (c *inMemoryStore) Set(_ context.Context, key string, val any) error {
	entry := &value{object: val, expires: c.cfg.deadline(time.Now())}
	c.mutex.Lock()
	c.cache[key] = entry
	c.mutex.Unlock()
	return nil
}

func (c *inMemoryStore) Delete(_ context.Context, key string) error {
	c.mutex.Lock()
	delete(c.cache, key)
	c.mutex.Unlock()
	return nil
}

func (c *inMemoryStore) Clear(_ context.Context) error {
	c.mutex.Lock()
	c.cache = make(map[string]*value)
	c.mutex.Unlock()
	return nil
}

func (c *inMemoryStore) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *inMemoryStore) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mutex.Lock()
			for key, val := range c.cache {
				if val.expired(now) {
					delete(c.cache, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}

// NewInMemory returns a Store backed by a map. Values are stored as-is, so a
// Get returns the exact value that was Set. The expiry sweeper only runs when
// WithExpires is set.
func NewInMemory(parent context.Context, opts ...Option) Store {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryStore{
		ctx:    ctx,
		cancel: cancel,
		cache:  make(map[string]*value),
		cfg:    cfg,
	}
	if cfg.expires > 0 {
		c.waitGroup.Add(1)
		go c.run()
	}
	return c
}
