package pool

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// gate is the capacity admission control of §4.1 (C1): a counting semaphore
// of maxSize permits, or a no-op when unbounded. It is always acquired
// outside the pool's main lock and released independently of it, so that a
// blocked waiter never holds up an unrelated Get/Put under lock (§5).
type gate struct {
	sem     *semaphore.Weighted
	bounded bool
}

func newGate(maxSize int64) *gate {
	if maxSize <= 0 {
		return &gate{bounded: false}
	}
	return &gate{sem: semaphore.NewWeighted(maxSize), bounded: true}
}

// acquire blocks for at most timeout (0 or negative means wait forever, per
// the Open Question resolution in §9/DESIGN.md) waiting for a permit.
func (g *gate) acquire(ctx context.Context, timeout time.Duration) error {
	if !g.bounded {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return ErrTimeout
	}
	return nil
}

// release returns one permit. Safe to call even on an unbounded gate (no-op).
func (g *gate) release() {
	if g.bounded {
		g.sem.Release(1)
	}
}

// tryAcquire takes one permit without blocking, reporting whether it got one.
// Used by top-up (§4.3 step 6), which must never stall the housekeeper
// waiting for capacity that min_size <= max_size says should already exist.
func (g *gate) tryAcquire() bool {
	if !g.bounded {
		return true
	}
	return g.sem.TryAcquire(1)
}
