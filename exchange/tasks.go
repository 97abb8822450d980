package exchange

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/agentuity/go-exchange/logger"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentWrites bounds the number of cache effects in flight.
const DefaultMaxConcurrentWrites = 64

// Tasks runs fire-and-forget cache effects. Effects run on a context detached
// from whoever issued them, so cancelling a caller never aborts a write that
// has already been decided. Errors and panics are logged and otherwise dropped.
type Tasks struct {
	ctx    context.Context
	logger logger.Logger
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

// NewTasks returns a runner whose effects inherit the values, but not the
// cancellation, of ctx. A max of zero or less uses DefaultMaxConcurrentWrites.
func NewTasks(ctx context.Context, log logger.Logger, max int64) *Tasks {
	if max <= 0 {
		max = DefaultMaxConcurrentWrites
	}
	return &Tasks{
		ctx:    context.WithoutCancel(ctx),
		logger: log,
		sem:    semaphore.NewWeighted(max),
	}
}

// Go runs fn in the background. name identifies the effect in logs.
func (t *Tasks) Go(name string, fn func(ctx context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("%s panicked: %s\n%s", name, fmt.Sprint(r), debug.Stack())
			}
		}()
		if err := t.sem.Acquire(t.ctx, 1); err != nil {
			t.logger.Error("%s: %s", name, err)
			return
		}
		defer t.sem.Release(1)
		if err := fn(t.ctx); err != nil {
			t.logger.Error("%s failed: %s", name, err)
		}
	}()
}

// Wait blocks until every effect issued so far has settled.
func (t *Tasks) Wait() {
	t.wg.Wait()
}
