package pool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/zilliqa/persistence-sync/internal/pool"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	defer leaktest.Check(t)()

	const size = 4
	p := pool.New(size)

	var running, peak int32
	batch := p.NewBatch(context.Background())
	for i := 0; i < 50; i++ {
		batch.Submit(func(ctx context.Context) {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	batch.Wait()

	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(size))
	require.Zero(t, atomic.LoadInt32(&running))
}

func TestBatchesAreIndependent(t *testing.T) {
	defer leaktest.Check(t)()

	p := pool.New(8)
	ctx := context.Background()

	release := make(chan struct{})
	slow := p.NewBatch(ctx)
	slow.Submit(func(ctx context.Context) { <-release })

	var done int32
	fast := p.NewBatch(ctx)
	for i := 0; i < 5; i++ {
		fast.Submit(func(ctx context.Context) { atomic.AddInt32(&done, 1) })
	}

	// the fast batch drains while the slow one is still blocked
	fast.Wait()
	require.EqualValues(t, 5, atomic.LoadInt32(&done))

	close(release)
	slow.Wait()
}

func TestCanceledContextSkipsQueuedTasks(t *testing.T) {
	defer leaktest.Check(t)()

	p := pool.New(1)
	ctx, cancel := context.WithCancel(context.Background())

	var mtx sync.Mutex
	started := 0

	block := make(chan struct{})
	running := make(chan struct{})
	batch := p.NewBatch(ctx)
	batch.Submit(func(ctx context.Context) {
		mtx.Lock()
		started++
		mtx.Unlock()
		close(running)
		<-block
	})

	// the first task occupies the only worker slot before the rest are
	// queued behind it
	<-running
	for i := 0; i < 10; i++ {
		batch.Submit(func(ctx context.Context) {
			mtx.Lock()
			started++
			mtx.Unlock()
		})
	}

	// let the queued tasks reach the slot wait, then cancel
	time.Sleep(10 * time.Millisecond)
	cancel()
	close(block)
	batch.Wait()

	mtx.Lock()
	defer mtx.Unlock()
	require.Equal(t, 1, started)
}

func TestMinimumSize(t *testing.T) {
	require.Equal(t, 1, pool.New(0).Size())
	require.Equal(t, 1, pool.New(-3).Size())
	require.Equal(t, 50, pool.New(50).Size())
}
