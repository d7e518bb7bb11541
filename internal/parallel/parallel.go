// Package parallel implements the Parallel Runner (spec.md §4.E): a
// bounded worker pool sized by a domain.Parallelism, exposing a
// push/push-available/drain protocol so callers can submit jobs as they
// become available (e.g. as the Execution Graph unblocks nodes) without
// pre-enumerating the whole batch.
//
// Grounded on the teacher's dag.Executor.RunParallel fixed-worker-count
// channel pool, generalized to the four-way Parallelism bound (None/
// Count/All/Infinite) and to golang.org/x/sync/semaphore for the
// acquire/release primitive instead of a hand-rolled channel-of-tokens,
// since Infinite needs an effectively unbounded weight the teacher's
// fixed-size channel buffer cannot express.
package parallel

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"blaze/internal/domain"
)

// unboundedWeight stands in for "no limit" when Parallelism is Infinite;
// large enough that no real workload will ever saturate it.
const unboundedWeight = int64(1) << 40

// Pool runs jobs with bounded concurrency and aggregates their panics so
// Drain can re-raise them on the caller's goroutine, matching Go's usual
// single-point-of-failure convention for worker pools.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.Mutex
	panics []any
}

// New builds a Pool bounded by p.
func New(p domain.Parallelism) *Pool {
	weight := int64(p.Max())
	if p.IsInfinite() || weight <= 0 {
		weight = unboundedWeight
	}
	return &Pool{sem: semaphore.NewWeighted(weight)}
}

// Push blocks until a slot is available (or ctx is done), then runs fn on
// a new goroutine.
func (p *Pool) Push(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("parallel: acquiring slot: %w", err)
	}
	p.run(fn)
	return nil
}

// PushAvailable runs fn immediately if a slot is free without blocking,
// reporting false if the pool is currently saturated.
func (p *Pool) PushAvailable(fn func()) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.run(fn)
	return true
}

func (p *Pool) run(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.mu.Lock()
				p.panics = append(p.panics, r)
				p.mu.Unlock()
			}
		}()
		fn()
	}()
}

// Drain waits for every pushed job to finish, then re-panics with the
// first panic recorded from any worker, if any occurred.
func (p *Pool) Drain() {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.panics) > 0 {
		panic(p.panics[0])
	}
}
