// Package worker runs CPU-bound rewrites off the loaders' goroutines with a
// bound on how many run at once.
package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

type Pool struct {
	sem     *semaphore.Weighted
	size    int
	timeout time.Duration
	wg      sync.WaitGroup

	running atomic.Int64
	waiting atomic.Int64
}

// New creates a pool running at most workers tasks at a time, each with the
// given deadline. Zero workers means one per CPU; zero timeout means none.
func New(workers int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(workers)),
		size:    workers,
		timeout: timeout,
	}
}

// Go schedules task. The task always runs exactly once: if ctx ends before a
// slot is free it runs immediately with that ended context, so the caller
// still gets its completion.
func (p *Pool) Go(ctx context.Context, task func(ctx context.Context)) {
	p.wg.Add(1)
	p.waiting.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.sem.Acquire(ctx, 1)
		p.waiting.Add(-1)
		if err != nil {
			task(ctx)
			return
		}
		defer p.sem.Release(1)

		p.running.Add(1)
		defer p.running.Add(-1)

		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		task(ctx)
	}()
}

func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) Running() int64 {
	return p.running.Load()
}

func (p *Pool) Waiting() int64 {
	return p.waiting.Load()
}

// Close waits for every scheduled task to return.
func (p *Pool) Close() error {
	p.wg.Wait()
	return nil
}
