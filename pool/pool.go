// ABOUTME: Bounded worker pools shared across the decision engine and applier
// ABOUTME: Built on golang.org/x/sync semaphore and errgroup with basic counters

package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool is a bounded worker pool. Submit schedules fire-and-forget tasks
// against the pool-wide budget; Group hands out a bounded errgroup for
// parallel-join workloads like the collector's tiered fetches.
type Pool struct {
	name string
	size int64
	sem  *semaphore.Weighted
	wg   sync.WaitGroup

	submitted atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates a pool with the given concurrency budget.
func New(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		name: name,
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Submit runs fn on a pool worker. It blocks until a slot is free or the
// context is cancelled. Task errors are logged, not returned; tasks that
// need their error propagated should use Group instead.
func (p *Pool) Submit(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("pool %s: acquiring worker slot: %w", p.name, err)
	}

	p.submitted.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.sem.Release(1)
		defer p.wg.Done()

		p.active.Add(1)
		defer p.active.Add(-1)

		if err := fn(ctx); err != nil {
			p.failed.Add(1)
			slog.Error("Pool task failed", "pool", p.name, "task", name, "error", err)
			return
		}
		p.completed.Add(1)
	}()
	return nil
}

// Group returns an errgroup bounded by the pool size, for callers that
// fan out and join. The group's limit is the pool's size; its context is
// cancelled on the first task error.
func (p *Pool) Group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(p.size))
	return g, gctx
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Active    int64  `json:"active"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Size:      p.size,
		Active:    p.active.Load(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// LogStats writes the counters to the log, used by the
// PRINT_THREAD_POOL_STATS diagnostic.
func (p *Pool) LogStats() {
	s := p.Stats()
	slog.Info("Pool stats",
		"pool", s.Name,
		"size", s.Size,
		"active", s.Active,
		"submitted", s.Submitted,
		"completed", s.Completed,
		"failed", s.Failed,
	)
}
