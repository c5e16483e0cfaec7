package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("pool closed")

// PoolStatus reports pool occupancy.
type PoolStatus struct {
	Size      int `json:"size"`
	Available int `json:"available"`
	InUse     int `json:"in_use"`
}

// Pool is a fixed-size pool of reusable resources.
type Pool[T any] struct {
	items  chan T
	size   int
	inUse  atomic.Int64
	closed atomic.Bool
}

// NewPool pre-creates size resources with factory.
func NewPool[T any](size int, factory func() (T, error)) (*Pool[T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	p := &Pool[T]{items: make(chan T, size), size: size}
	for i := 0; i < size; i++ {
		item, err := factory()
		if err != nil {
			return nil, fmt.Errorf("create pool resource %d: %w", i, err)
		}
		p.items <- item
	}
	return p, nil
}

// Acquire takes a resource, waiting until one is released or ctx is done.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	if p.closed.Load() {
		return zero, ErrPoolClosed
	}
	select {
	case item := <-p.items:
		p.inUse.Add(1)
		return item, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release returns a resource to the pool.
func (p *Pool[T]) Release(item T) {
	p.inUse.Add(-1)
	select {
	case p.items <- item:
	default:
	}
}

// Status returns the pool occupancy.
func (p *Pool[T]) Status() PoolStatus {
	return PoolStatus{
		Size:      p.size,
		Available: len(p.items),
		InUse:     int(p.inUse.Load()),
	}
}

// Close stops further acquisitions.
func (p *Pool[T]) Close() {
	p.closed.Store(true)
}
