package usage

import (
	"context"
	"sync"
)

// Lazy holds a value that is initialized on first use.
//
// Concurrent callers share one in-flight initialization and wait for it to
// finish. A failed initialization is not cached: the next caller retries.
type Lazy[T any] struct {
	init func(ctx context.Context) (T, error)

	mu       sync.Mutex
	ready    bool
	val      T
	inflight chan struct{}
}

// NewLazy returns a handle that calls init at most once per success.
func NewLazy[T any](init func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{init: init}
}

// Get returns the value, initializing it if needed. Waiting on another
// caller's initialization honors ctx cancellation.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		l.mu.Lock()
		if l.ready {
			v := l.val
			l.mu.Unlock()
			return v, nil
		}
		if ch := l.inflight; ch != nil {
			l.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		ch := make(chan struct{})
		l.inflight = ch
		l.mu.Unlock()

		v, err := l.init(ctx)

		l.mu.Lock()
		l.inflight = nil
		if err == nil {
			l.val = v
			l.ready = true
		}
		l.mu.Unlock()
		close(ch)

		if err != nil {
			return zero, err
		}
		return v, nil
	}
}

// Ready reports whether initialization has completed successfully.
func (l *Lazy[T]) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}
