// Package pool provides a typed wrapper around sync.Pool for objects
// that can be reset between uses.
package pool

import (
	"sync"
)

// Resetter interface defines the Reset method that pooled objects must implement.
type Resetter interface {
	Reset()
}

// Pool is a generic pool of objects that implement the Resetter interface.
// It uses sync.Pool internally for efficient object management.
type Pool[T Resetter] struct {
	pool sync.Pool
}

// New creates a Pool that builds fresh objects with newFn when empty.
func New[T Resetter](newFn func() T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return newFn()
			},
		},
	}
}

// Get retrieves an object from the pool, allocating one if the pool is empty.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put resets obj and places it back into the pool.
func (p *Pool[T]) Put(obj T) {
	obj.Reset()
	p.pool.Put(obj)
}
