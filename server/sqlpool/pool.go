// fixed-size resource pool: counting semaphore gates entry, a mutex
// guards the idle list, and a scoped lease guarantees the resource comes
// back on every exit path
package sqlpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool hands out items from a fixed set. Get blocks while every item is
// leased; Release returns one and wakes a waiter.
type Pool[T any] struct {
	sem  *semaphore.Weighted
	mu   sync.Mutex
	idle []T
	size int
}

// NewPool takes ownership of items; the pool size is fixed at len(items).
func NewPool[T any](items []T) *Pool[T] {
	return &Pool[T]{
		sem:  semaphore.NewWeighted(int64(len(items))),
		idle: items,
		size: len(items),
	}
}

func (p *Pool[T]) Size() int { return p.size }

// Idle is the number of items currently available.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Get leases an item, blocking until one is free or ctx ends. Callers
// must defer Release on the lease.
func (p *Pool[T]) Get(ctx context.Context) (*Lease[T], error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.mu.Lock()
	item := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	p.mu.Unlock()
	return &Lease[T]{pool: p, Conn: item}, nil
}

func (p *Pool[T]) put(item T) {
	p.mu.Lock()
	p.idle = append(p.idle, item)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Drain empties the idle list for shutdown. Outstanding leases keep their
// items; callers should stop issuing work first.
func (p *Pool[T]) Drain() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.idle
	p.idle = nil
	return items
}

// Lease is a scoped hold on one pooled item. Release is idempotent, so a
// deferred call pairs safely with early returns and panics.
type Lease[T any] struct {
	pool *Pool[T]
	Conn T
	once sync.Once
}

func (l *Lease[T]) Release() {
	l.once.Do(func() {
		l.pool.put(l.Conn)
	})
}
