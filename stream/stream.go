// Package stream provides a small push-based stream used to carry results
// between exchanges.
//
// A Stream is cold: nothing happens until Subscribe is called, and every
// subscription runs the producer again. Producers may emit from any
// goroutine. A subscription delivers at most one terminal event (Error or
// Complete) and drops any value emitted after it, or after Unsubscribe.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Observer receives the events of a subscription. Nil callbacks are ignored.
type Observer[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// Producer starts emitting to o and returns a teardown func, which may be nil.
// The teardown runs exactly once, when the subscription terminates or is
// unsubscribed.
type Producer[T any] func(o Observer[T]) (teardown func())

// Stream is a cold, push-based sequence of values.
type Stream[T any] struct {
	produce Producer[T]
}

// New returns a Stream driven by produce.
func New[T any](produce Producer[T]) *Stream[T] {
	return &Stream[T]{produce: produce}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	closed   atomic.Bool
	mu       sync.Mutex
	teardown func()
}

// Unsubscribe stops delivery and tears the producer down. It is idempotent.
func (s *Subscription) Unsubscribe() {
	if s.closed.CompareAndSwap(false, true) {
		s.cleanup()
	}
}

// Closed reports whether the subscription has terminated or been unsubscribed.
func (s *Subscription) Closed() bool {
	return s.closed.Load()
}

func (s *Subscription) cleanup() {
	s.mu.Lock()
	fn := s.teardown
	s.teardown = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Subscription) setTeardown(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		fn()
		return
	}
	s.teardown = fn
	s.mu.Unlock()
}

// Subscribe starts the stream and delivers its events to o.
func (s *Stream[T]) Subscribe(o Observer[T]) *Subscription {
	sub := &Subscription{}
	guarded := Observer[T]{
		Next: func(v T) {
			if !sub.closed.Load() && o.Next != nil {
				o.Next(v)
			}
		},
		Error: func(err error) {
			if sub.closed.CompareAndSwap(false, true) {
				if o.Error != nil {
					o.Error(err)
				}
				sub.cleanup()
			}
		},
		Complete: func() {
			if sub.closed.CompareAndSwap(false, true) {
				if o.Complete != nil {
					o.Complete()
				}
				sub.cleanup()
			}
		},
	}
	sub.setTeardown(s.produce(guarded))
	return sub
}

// Of returns a stream that synchronously emits values and completes.
func Of[T any](values ...T) *Stream[T] {
	return New(func(o Observer[T]) func() {
		for _, v := range values {
			o.Next(v)
		}
		o.Complete()
		return nil
	})
}

// Empty returns a stream that completes without emitting.
func Empty[T any]() *Stream[T] {
	return Of[T]()
}

// Fail returns a stream that terminates with err.
func Fail[T any](err error) *Stream[T] {
	return New(func(o Observer[T]) func() {
		o.Error(err)
		return nil
	})
}

// Go returns a stream that runs fn on its own goroutine for each subscription.
// The context passed to fn is cancelled on unsubscribe. The stream completes
// when fn returns nil and fails with the returned error otherwise.
func Go[T any](fn func(ctx context.Context, emit func(T)) error) *Stream[T] {
	return New(func(o Observer[T]) func() {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			if err := fn(ctx, o.Next); err != nil {
				o.Error(err)
				return
			}
			o.Complete()
		}()
		return cancel
	})
}

// Collect subscribes to s and blocks until it terminates or ctx is done,
// returning every value received. On ctx cancellation the subscription is
// torn down and ctx.Err() is returned with the values received so far.
func Collect[T any](ctx context.Context, s *Stream[T]) ([]T, error) {
	var (
		mu     sync.Mutex
		values []T
	)
	done := make(chan error, 1)
	sub := s.Subscribe(Observer[T]{
		Next: func(v T) {
			mu.Lock()
			values = append(values, v)
			mu.Unlock()
		},
		Error:    func(err error) { done <- err },
		Complete: func() { done <- nil },
	})
	select {
	case err := <-done:
		mu.Lock()
		defer mu.Unlock()
		return values, err
	case <-ctx.Done():
		sub.Unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		return values, ctx.Err()
	}
}
