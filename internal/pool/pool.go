// Package pool provides the fixed-size worker pool used to parallelize
// object downloads and uploads. Tasks are grouped into batches so that each
// sync phase can barrier on exactly its own submissions while other batches
// keep running.
package pool

import (
	"context"

	"github.com/creachadair/taskgroup"
)

// Pool bounds the number of concurrently running tasks across all batches.
type Pool struct {
	sem chan struct{}
}

// New creates a pool running at most size tasks at once. A size below one is
// treated as one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Size returns the pool's concurrency bound.
func (p *Pool) Size() int { return cap(p.sem) }

// Batch is a set of related task submissions. Wait returns once every task
// in the batch has finished; tasks from other batches are unaffected.
type Batch struct {
	pool *Pool
	g    *taskgroup.Group
	ctx  context.Context
}

// NewBatch starts an empty batch. Tasks submitted to it observe ctx: a task
// still queued when ctx ends is skipped without running, and a task already
// running sees the canceled context and is expected to bail out promptly.
func (p *Pool) NewBatch(ctx context.Context) *Batch {
	return &Batch{
		pool: p,
		g:    taskgroup.New(nil),
		ctx:  ctx,
	}
}

// Submit schedules task on the pool. The call never blocks; the task waits
// for a free worker slot off the calling goroutine. Tasks report their
// outcome through their own closure state, never through the batch.
func (b *Batch) Submit(task func(ctx context.Context)) {
	b.g.Go(func() error {
		select {
		case b.pool.sem <- struct{}{}:
		case <-b.ctx.Done():
			return nil
		}
		defer func() { <-b.pool.sem }()

		// a task that wins a slot after cancellation still must not run
		if b.ctx.Err() != nil {
			return nil
		}

		task(b.ctx)
		return nil
	})
}

// Wait blocks until every submitted task has terminated.
func (b *Batch) Wait() {
	_ = b.g.Wait()
}
