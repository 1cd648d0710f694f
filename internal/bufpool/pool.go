// Package bufpool is a type-safe wrapper around sync.Pool, generalized
// from the teacher package's node pool to any reusable scratch value.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Pool efficiently reuses values of type T and tracks statistics on
// allocations and active use for debugging and performance tuning.
type Pool[T any] struct {
	sync.Pool

	// TODO: remove it once the code is stable.
	totalAllocated atomic.Int64
	currentLive    atomic.Int64
}

// New creates a pool whose values are produced by newFn when empty.
func New[T any](newFn func() T) *Pool[T] {
	p := &Pool[T]{}
	p.Pool.New = func() any {
		p.totalAllocated.Add(1) // TODO: remove it once the code is stable.
		return newFn()
	}

	return p
}

// Get retrieves a value from the pool, or creates a new one if needed.
func (p *Pool[T]) Get() T {
	p.currentLive.Add(1) // TODO: remove it once the code is stable.
	return p.Pool.Get().(T)
}

// Put returns v to the pool for potential reuse after reset has cleared
// its reusable state.
func (p *Pool[T]) Put(v T, reset func(T)) {
	p.currentLive.Add(-1) // TODO: remove it once the code is stable.
	if reset != nil {
		reset(v)
	}
	p.Pool.Put(v)
}

// Stats returns the number of currently live (checked-out) values and the
// total number ever allocated by this pool.
//
// TODO: remove it once the code is stable.
func (p *Pool[T]) Stats() (live, total int64) {
	return p.currentLive.Load(), p.totalAllocated.Load()
}
