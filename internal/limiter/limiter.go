// Package limiter bounds how many heavyweight encode pipelines run at once.
package limiter

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is the number of simultaneous encodes a typical host sustains.
const DefaultCapacity = 2

// Limiter is a counting permit pool. Waiters are woken in FIFO order.
//
// Every successful Acquire must be paired with exactly one Release; prefer Do,
// which pairs them for you.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	active   atomic.Int64
	waiting  atomic.Int64
}

// New creates a limiter with the given capacity. Capacity below 1 uses DefaultCapacity.
func New(capacity int) *Limiter {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.waiting.Add(1)
	err := l.sem.Acquire(ctx, 1)
	l.waiting.Add(-1)
	if err != nil {
		return fmt.Errorf("waiting for encode permit: %w", err)
	}
	l.active.Add(1)
	return nil
}

// Release returns one permit to the pool, waking the longest waiter.
func (l *Limiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// Do runs fn while holding a permit. The permit is released whatever fn returns,
// including when fn panics.
func (l *Limiter) Do(ctx context.Context, label string, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		l.Release()
		log.Printf("[Limiter] %s released permit (%d/%d in use)", label, l.Active(), l.capacity)
	}()

	log.Printf("[Limiter] %s acquired permit (%d/%d in use, %d waiting)", label, l.Active(), l.capacity, l.Waiting())
	return fn(ctx)
}

// Capacity returns the fixed number of permits.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Active returns the number of permits currently held.
func (l *Limiter) Active() int {
	return int(l.active.Load())
}

// Waiting returns the number of callers blocked in Acquire.
func (l *Limiter) Waiting() int {
	return int(l.waiting.Load())
}
