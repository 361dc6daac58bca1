package pool_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pool "github.com/zx80/resource-pool"
)

// testResource is a minimal opaque resource: the pool never looks inside it,
// only at its pointer identity, so a pointer to an int is enough to make
// every constructed resource distinguishable (mirrors the teacher's R struct).
type testResource struct {
	n int64
}

func newCountingFactory(t *testing.T) (pool.Factory[*testResource], *int64) {
	var calls int64
	return func(id int64) (*testResource, error) {
		atomic.AddInt64(&calls, 1)
		return &testResource{n: id}, nil
	}, &calls
}

func TestPool(t *testing.T) {
	t.Parallel()

	t.Run("when there are no resources available, the pool builds one from the factory", func(t *testing.T) {
		t.Parallel()
		fun, calls := newCountingFactory(t)
		p, err := pool.New(pool.Config[*testResource]{Fun: fun, MaxSize: 2, MinSize: 0, Timeout: 100 * time.Millisecond})
		require.NoError(t, err)

		r, err := p.Acquire(context.Background(), "c1")
		require.NoError(t, err)
		require.NotNil(t, r)
		require.Equal(t, int64(1), atomic.LoadInt64(calls))
	})

	t.Run("recycle law: acquire then release returns the same resource next time", func(t *testing.T) {
		t.Parallel()
		fun, calls := newCountingFactory(t)
		p, err := pool.New(pool.Config[*testResource]{Fun: fun, MaxSize: 1, MinSize: 0, Timeout: 100 * time.Millisecond})
		require.NoError(t, err)

		a, err := p.Acquire(context.Background(), "c1")
		require.NoError(t, err)
		p.Release(a)

		b, err := p.Acquire(context.Background(), "c1")
		require.NoError(t, err)
		require.Same(t, a, b)
		require.Equal(t, int64(1), atomic.LoadInt64(calls))
	})

	t.Run("bounded-wait law: acquiring past max_size times out without creating a new resource", func(t *testing.T) {
		t.Parallel()
		fun, calls := newCountingFactory(t)
		p, err := pool.New(pool.Config[*testResource]{Fun: fun, MaxSize: 1, MinSize: 0, Timeout: 50 * time.Millisecond})
		require.NoError(t, err)

		_, err = p.Acquire(context.Background(), "c1")
		require.NoError(t, err)

		start := time.Now()
		_, err = p.Acquire(context.Background(), "c2")
		elapsed := time.Since(start)

		require.Error(t, err)
		require.True(t, pool.IsTimeout(err))
		require.Less(t, elapsed, 500*time.Millisecond)
		require.Equal(t, int64(1), atomic.LoadInt64(calls))
	})

	t.Run("retire-on-use law: a resource is destroyed after max_use acquisitions", func(t *testing.T) {
		t.Parallel()
		fun, calls := newCountingFactory(t)
		var destroyed int64
		p, err := pool.New(pool.Config[*testResource]{
			Fun: fun, MaxSize: 1, MinSize: 0, Timeout: time.Second, MaxUse: 2,
			Hooks: pool.Hooks[*testResource]{Closer: func(*testResource) { atomic.AddInt64(&destroyed, 1) }},
		})
		require.NoError(t, err)

		r1, err := p.Acquire(context.Background(), "c")
		require.NoError(t, err)
		p.Release(r1)

		r2, err := p.Acquire(context.Background(), "c")
		require.NoError(t, err)
		require.Same(t, r1, r2)
		p.Release(r2)

		r3, err := p.Acquire(context.Background(), "c")
		require.NoError(t, err)
		require.NotSame(t, r1, r3, "resource must be recycled at most max_use times")
		require.Equal(t, int64(2), atomic.LoadInt64(calls))
		require.Equal(t, int64(1), atomic.LoadInt64(&destroyed))

		stats := p.Stats()
		require.Equal(t, int64(1), stats.Counters.Destroyed)
	})

	t.Run("idle-retire law: resources idle past max_avail_delay are swept by the housekeeper", func(t *testing.T) {
		t.Parallel()
		fun, calls := newCountingFactory(t)
		var destroyed int64
		p, err := pool.New(pool.Config[*testResource]{
			Fun: fun, MaxSize: 0, MinSize: 0, Timeout: time.Second,
			MaxAvailDelay: 100 * time.Millisecond,
			HKDelay:       50 * time.Millisecond,
			Hooks:         pool.Hooks[*testResource]{Closer: func(*testResource) { atomic.AddInt64(&destroyed, 1) }},
		})
		require.NoError(t, err)

		r1, err := p.Acquire(context.Background(), "c")
		require.NoError(t, err)
		p.Release(r1)

		require.Eventually(t, func() bool {
			return atomic.LoadInt64(&destroyed) == 1
		}, 2*time.Second, 20*time.Millisecond)

		r2, err := p.Acquire(context.Background(), "c")
		require.NoError(t, err)
		require.NotSame(t, r1, r2)
		require.Equal(t, int64(2), atomic.LoadInt64(calls))
	})

	t.Run("long-hold kill: the housekeeper forcibly retires a resource held past max_using_delay_kill", func(t *testing.T) {
		t.Parallel()
		fun, _ := newCountingFactory(t)
		var killed int64
		p, err := pool.New(pool.Config[*testResource]{
			Fun: fun, MaxSize: 1, MinSize: 0, Timeout: 2 * time.Second,
			MaxUsingDelayKill: 150 * time.Millisecond,
			HKDelay:           50 * time.Millisecond,
			Hooks:             pool.Hooks[*testResource]{Closer: func(*testResource) { atomic.AddInt64(&killed, 1) }},
		})
		require.NoError(t, err)

		stuck, err := p.Acquire(context.Background(), "holder")
		require.NoError(t, err)
		_ = stuck

		// A second acquire is blocked on the gate until the housekeeper kills
		// the stuck holder's entry and frees its permit.
		second, err := p.Acquire(context.Background(), "second")
		require.NoError(t, err)
		require.NotNil(t, second)
		require.Eventually(t, func() bool { return atomic.LoadInt64(&killed) >= 1 }, 2*time.Second, 20*time.Millisecond)

		stats := p.Stats()
		require.GreaterOrEqual(t, stats.Counters.Killed, int64(1))
	})

	t.Run("factory failure surfaces as PoolError without leaking capacity", func(t *testing.T) {
		t.Parallel()
		var calls int64
		fun := func(id int64) (*testResource, error) {
			n := atomic.AddInt64(&calls, 1)
			if n == 2 {
				return nil, fmt.Errorf("boom")
			}
			return &testResource{n: id}, nil
		}
		p, err := pool.New(pool.Config[*testResource]{Fun: fun, MaxSize: 2, MinSize: 0, Timeout: time.Second})
		require.NoError(t, err)

		_, err = p.Acquire(context.Background(), "c1")
		require.NoError(t, err)

		_, err = p.Acquire(context.Background(), "c2")
		require.Error(t, err)

		stats := p.Stats()
		require.Equal(t, 1, stats.NTotal)

		third, err := p.Acquire(context.Background(), "c3")
		require.NoError(t, err)
		require.NotNil(t, third)
	})

	t.Run("release of an unknown resource is tolerated and counted", func(t *testing.T) {
		t.Parallel()
		fun, _ := newCountingFactory(t)
		p, err := pool.New(pool.Config[*testResource]{Fun: fun, MaxSize: 1, MinSize: 0, Timeout: time.Second})
		require.NoError(t, err)

		p.Release(&testResource{n: 999})

		stats := p.Stats()
		require.Equal(t, int64(1), stats.Counters.BadReturns)
	})

	t.Run("double release is tolerated and counted, not fatal", func(t *testing.T) {
		t.Parallel()
		fun, _ := newCountingFactory(t)
		p, err := pool.New(pool.Config[*testResource]{Fun: fun, MaxSize: 1, MinSize: 0, Timeout: time.Second})
		require.NoError(t, err)

		r, err := p.Acquire(context.Background(), "c")
		require.NoError(t, err)
		p.Release(r)
		p.Release(r)

		require.Equal(t, int64(1), p.Stats().Counters.BadReturns)
	})

	t.Run("acquire after shutdown fails with PoolClosed", func(t *testing.T) {
		t.Parallel()
		fun, _ := newCountingFactory(t)
		p, err := pool.New(pool.Config[*testResource]{Fun: fun, MaxSize: 1, MinSize: 0, Timeout: time.Second})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Shutdown(ctx)

		_, err = p.Acquire(context.Background(), "c")
		require.Error(t, err)
		require.True(t, pool.PoolClosed(err))
	})

	t.Run("shutdown calls the closer for every available resource", func(t *testing.T) {
		t.Parallel()
		fun, _ := newCountingFactory(t)
		var destroyed int64
		p, err := pool.New(pool.Config[*testResource]{
			Fun: fun, MaxSize: 5, MinSize: 0, Timeout: time.Second,
			Hooks: pool.Hooks[*testResource]{Closer: func(*testResource) { atomic.AddInt64(&destroyed, 1) }},
		})
		require.NoError(t, err)

		var rs []*testResource
		for i := 0; i < 5; i++ {
			r, err := p.Acquire(context.Background(), "c")
			require.NoError(t, err)
			rs = append(rs, r)
		}
		for _, r := range rs {
			p.Release(r)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Shutdown(ctx)

		require.Equal(t, int64(5), atomic.LoadInt64(&destroyed))
	})

	t.Run("min_size pre-fills the pool eagerly", func(t *testing.T) {
		t.Parallel()
		fun, calls := newCountingFactory(t)
		p, err := pool.New(pool.Config[*testResource]{Fun: fun, MaxSize: 5, MinSize: 3, Timeout: time.Second})
		require.NoError(t, err)
		require.Eventually(t, func() bool { return atomic.LoadInt64(calls) >= 3 }, time.Second, 10*time.Millisecond)
		require.Equal(t, 3, p.Stats().NTotal)
	})

	t.Run("getter hook failure retires the resource and propagates the error", func(t *testing.T) {
		t.Parallel()
		fun, _ := newCountingFactory(t)
		var destroyed int64
		p, err := pool.New(pool.Config[*testResource]{
			Fun: fun, MaxSize: 1, MinSize: 0, Timeout: time.Second,
			Hooks: pool.Hooks[*testResource]{
				Getter: func(*testResource) error { return fmt.Errorf("getter refused") },
				Closer: func(*testResource) { atomic.AddInt64(&destroyed, 1) },
			},
		})
		require.NoError(t, err)

		_, err = p.Acquire(context.Background(), "c")
		require.Error(t, err)
		require.Equal(t, int64(1), atomic.LoadInt64(&destroyed))

		// capacity was released: a second acquire on the same single-slot pool
		// reaches the getter again instead of timing out on the gate
		_, err = p.Acquire(context.Background(), "c")
		require.Error(t, err)
		require.False(t, pool.IsTimeout(err))
		require.Equal(t, int64(2), atomic.LoadInt64(&destroyed))

		// the same factory hands out resources from a pool without the failing getter
		p2, err := pool.New(pool.Config[*testResource]{Fun: fun, MaxSize: 1, MinSize: 0, Timeout: time.Second})
		require.NoError(t, err)
		r, err := p2.Acquire(context.Background(), "c")
		require.NoError(t, err)
		require.NotNil(t, r)
	})

	t.Run("unlimited pool still recycles an available resource before creating another", func(t *testing.T) {
		t.Parallel()
		fun, calls := newCountingFactory(t)
		p, err := pool.New(pool.Config[*testResource]{Fun: fun, MaxSize: 0, MinSize: 0, Timeout: time.Second})
		require.NoError(t, err)

		r1, err := p.Acquire(context.Background(), "c")
		require.NoError(t, err)
		p.Release(r1)

		r2, err := p.Acquire(context.Background(), "c")
		require.NoError(t, err)
		require.Same(t, r1, r2)
		require.Equal(t, int64(1), atomic.LoadInt64(calls))
	})
}
