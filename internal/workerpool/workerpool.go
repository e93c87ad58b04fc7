// Package workerpool provides the process-wide, fixed-size worker pool
// that runs each connection's exchange loop (spec §4.J "a shared worker
// pool, sized per config at first-server start"). Concurrency is capped
// with a weighted semaphore; submitted work that must itself fan out
// further (e.g. a handler invoking several sub-tasks) uses errgroup to
// collect the first error, the way docker-compose's convergence pass
// does.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently running tasks to a fixed size.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// New creates a Pool admitting at most size concurrent goroutines.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size returns the pool's configured concurrency limit.
func (p *Pool) Size() int { return int(p.size) }

// Go acquires a slot (blocking until one is free or ctx is done) and
// runs fn in a new goroutine, releasing the slot when fn returns. It
// returns ctx.Err() without running fn if a slot could not be acquired.
func (p *Pool) Go(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}

// Group returns a plain errgroup and its context, per
// errgroup.WithContext: the context is cancelled on the first task
// error. The group itself acquires no pool slots; only tasks submitted
// through GoInGroup are bounded by the pool's concurrency cap, while
// tasks started with the group's own Go method are not.
func (p *Pool) Group(ctx context.Context) (*errgroup.Group, context.Context) {
	eg, gctx := errgroup.WithContext(ctx)
	return eg, gctx
}

// GoInGroup submits fn to eg, first acquiring a slot from p (blocking on
// ctx). Use alongside Group to fan out pool-bounded sub-tasks.
func (p *Pool) GoInGroup(eg *errgroup.Group, ctx context.Context, fn func() error) {
	eg.Go(func() error {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer p.sem.Release(1)
		return fn()
	})
}
