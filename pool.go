// Package pool implements a generic, thread-safe resource pool: a bounded,
// self-healing container of opaque resources with capacity admission, timed
// waits, usage accounting, background housekeeping, lifecycle hooks, and
// observable statistics.
//
// It amortises the cost of creating expensive, reusable resources (database
// connections, authenticated sessions, search clients) across many
// concurrent callers. The pool does not interpret the resources it holds;
// it only counts and times them and calls user-supplied hooks.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Factory constructs a new resource. id is the monotonically increasing
// creation index described in §3, also handed to the user for tagging.
type Factory[T any] func(id int64) (T, error)

// Config is the pool construction record of §6 "Pool construction".
type Config[T comparable] struct {
	// Fun is the resource factory. Required.
	Fun Factory[T]

	// MaxSize bounds the number of live resources; 0 means unbounded (no
	// capacity gate).
	MaxSize int64
	// MinSize is the aspired lower bound the housekeeper tops up to. Unlike
	// spec.md's table (default 1), a zero-value Config leaves MinSize at 0:
	// Go has no way to distinguish "field left unset" from "explicitly 0" on
	// a plain int64, so silently substituting 1 would surprise a caller who
	// really wants an empty pool until first use. Set it explicitly to 1 for
	// the spec's default behavior.
	MinSize int64
	// Timeout bounds how long Acquire waits for a capacity permit. <= 0
	// means wait forever (§9 Open Question).
	Timeout time.Duration
	// MaxUse retires a resource after this many acquisitions. 0 = unlimited.
	MaxUse int64
	// MaxAvailDelay retires idle resources older than this. 0 = never.
	MaxAvailDelay time.Duration
	// MaxUsingDelay logs a warning once a held resource crosses this age. 0 = never.
	MaxUsingDelay time.Duration
	// MaxUsingDelayKill forcibly retires a held resource past this age. 0 = never.
	MaxUsingDelayKill time.Duration
	// HealthFreq runs the health probe every N housekeeper sweeps. Must be >= 1.
	HealthFreq int
	// HKDelay is the housekeeper period; 0 derives one from the other timers (§9).
	HKDelay time.Duration

	Hooks[T]

	// Logger receives diagnostic output; defaults to a no-op logger.
	Logger *zap.Logger
	// PoolID is a diagnostic identifier; a uuid is generated when empty.
	PoolID string
}

func (c *Config[T]) setDefaults() {
	if c.HealthFreq < 1 {
		c.HealthFreq = 1
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.PoolID == "" {
		c.PoolID = uuid.NewString()
	}
	if c.HKDelay <= 0 {
		c.HKDelay = deriveHKDelay(c.MaxAvailDelay, c.MaxUsingDelay, c.MaxUsingDelayKill)
	}
}

// deriveHKDelay implements the §9 Open Question resolution: hk_delay =
// min(positive timers) / 2, capped to [1s, 3600s].
func deriveHKDelay(timers ...time.Duration) time.Duration {
	var min time.Duration
	for _, t := range timers {
		if t > 0 && (min == 0 || t < min) {
			min = t
		}
	}
	if min == 0 {
		return time.Hour
	}
	d := min / 2
	if d < time.Second {
		d = time.Second
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// Pool is a generic, thread-safe resource pool (§1-§5).
//
// It is unsafe to copy a Pool after first use; always pass *Pool[T].
type Pool[T comparable] struct {
	cfg Config[T]

	gate *gate

	mu   sync.Mutex
	cond *sync.Cond
	reg  *registry[T]
	ctr  counters

	shutdown  bool
	startedAt time.Time

	hkOnce sync.Once
	hkStop chan struct{}
	hkDone chan struct{}
	sweeps int64
}

// New creates a pool from cfg. The background housekeeper (C4) starts
// eagerly when MinSize > 0 (§3 Lifecycle), lazily on first Acquire otherwise.
func New[T comparable](cfg Config[T]) (*Pool[T], error) {
	if cfg.Fun == nil {
		return nil, fmt.Errorf("pool: Config.Fun is required")
	}
	cfg.setDefaults()

	p := &Pool[T]{
		cfg:       cfg,
		gate:      newGate(cfg.MaxSize),
		reg:       newRegistry[T](),
		startedAt: time.Now(),
		hkStop:    make(chan struct{}),
		hkDone:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	if cfg.MinSize > 0 {
		p.startHousekeeper()
		p.topUp()
	}

	return p, nil
}

func (p *Pool[T]) startHousekeeper() {
	p.hkOnce.Do(func() {
		go p.housekeeperLoop()
	})
}

// Acquire obtains a resource for caller, admitting under the capacity gate
// (C1), then picking the oldest-returned available entry or constructing a
// new one (C3), per the numbered algorithm in §4.2.
func (p *Pool[T]) Acquire(ctx context.Context, caller string) (T, error) {
	var zero T

	p.startHousekeeper()

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return zero, ErrPoolClosed
	}
	p.mu.Unlock()

	if err := p.gate.acquire(ctx, p.cfg.Timeout); err != nil {
		atomic.AddInt64(&p.ctr.nTimeouts, 1)
		return zero, err
	}

	e, err := p.takeOrCreate(caller)
	if err != nil {
		p.gate.release()
		return zero, err
	}

	if gerr := p.cfg.Hooks.invokeGetter(e.obj); gerr != nil {
		p.destroyBusyEntry(e.id, "getter failure")
		p.gate.release()
		return zero, wrapPoolError("getter", gerr)
	}

	return e.obj, nil
}

// takeOrCreate implements §4.2 acquire step 3: reuse from avail, or
// construct via the factory with the lock released during construction.
func (p *Pool[T]) takeOrCreate(caller string) (*entry[T], error) {
	p.mu.Lock()
	if e := p.reg.popAvail(); e != nil {
		now := time.Now()
		e.holder = caller
		e.lastGetAt = now
		e.uses++
		p.reg.addBusy(e)
		atomic.AddInt64(&p.ctr.nAcquisitions, 1)
		p.mu.Unlock()
		return e, nil
	}

	id := p.reg.takeID()
	p.mu.Unlock()

	obj, err := p.cfg.Fun(id)
	if err != nil {
		return nil, wrapPoolError("factory", err)
	}

	now := time.Now()
	e := &entry[T]{
		obj:       obj,
		id:        id,
		createdAt: now,
		lastGetAt: now,
		uses:      1,
		holder:    caller,
	}

	p.mu.Lock()
	p.reg.addBusy(e)
	atomic.AddInt64(&p.ctr.nCreated, 1)
	atomic.AddInt64(&p.ctr.nAcquisitions, 1)
	p.mu.Unlock()

	p.cfg.Hooks.invokeOpener(p.cfg.Logger, obj)
	return e, nil
}

// Release returns a resource to the pool (§4.2 "release(obj)"). It never
// returns an error: double-returns and unknown objects are tolerated and
// counted (§9 Open Question), matching the signature callers of the teacher
// library expect (Put returned only a bool; here misuse is observable only
// via Stats()).
func (p *Pool[T]) Release(obj T) {
	p.mu.Lock()
	e := p.reg.findBusy(obj)
	if e == nil {
		atomic.AddInt64(&p.ctr.nBadReturns, 1)
		p.mu.Unlock()
		p.cfg.Logger.Warn("release of unknown or already-returned resource", zap.String("pool_id", p.cfg.PoolID))
		return
	}
	p.reg.removeBusy(e.id)
	p.mu.Unlock()

	if rerr := p.cfg.Hooks.invokeRetter(obj); rerr != nil {
		p.cfg.Logger.Warn("retter hook failed, retiring resource", zap.Int64("resource_id", e.id), zap.Error(rerr))
		p.finishRelease(e, true, "retter failure")
		return
	}

	retire := p.cfg.MaxUse > 0 && e.uses >= p.cfg.MaxUse
	reason := "max_use exceeded"

	if !retire && p.cfg.Hooks.Health != nil {
		healthy, herr := p.cfg.Hooks.invokeHealth(obj)
		if herr != nil || !healthy {
			retire = true
			reason = "health check failed"
			atomic.AddInt64(&p.ctr.nHealthFail, 1)
		}
	}

	p.finishRelease(e, retire, reason)
}

func (p *Pool[T]) finishRelease(e *entry[T], retire bool, reason string) {
	p.mu.Lock()
	if p.shutdown {
		retire = true
		reason = "shutdown"
	}
	if retire {
		e.state = Retiring
		p.mu.Unlock()
		p.cfg.Hooks.invokeCloser(p.cfg.Logger, e.obj)
		atomic.AddInt64(&p.ctr.nDestroyed, 1)
		p.gate.release()
		p.cfg.Logger.Debug("resource retired on release", zap.Int64("resource_id", e.id), zap.String("reason", reason))
	} else {
		now := time.Now()
		e.lastRetAt = now
		e.holder = ""
		e.lastGetAt = time.Time{}
		p.reg.pushAvail(e)
		atomic.AddInt64(&p.ctr.nReturns, 1)
		p.mu.Unlock()
		// The permit Acquire took for this resource (whether reused from
		// avail or freshly constructed) covers exactly one checkout; give it
		// back now that the resource is parked, or every bounded pool would
		// leak one permit per acquire/release cycle that doesn't retire (§4.1).
		p.gate.release()
	}
	p.cond.Broadcast()
}

// destroyBusyEntry retires an entry that is still registered as busy (used
// when the getter hook fails right after acquisition, §4.2 step 4).
func (p *Pool[T]) destroyBusyEntry(id int64, reason string) {
	p.mu.Lock()
	e := p.reg.removeBusy(id)
	p.mu.Unlock()
	if e == nil {
		return
	}
	p.cfg.Hooks.invokeCloser(p.cfg.Logger, e.obj)
	atomic.AddInt64(&p.ctr.nDestroyed, 1)
	p.cfg.Logger.Debug("resource destroyed", zap.Int64("resource_id", id), zap.String("reason", reason))
	p.cond.Broadcast()
}

// topUp constructs resources until n_total reaches MinSize (§4.3 step 6),
// used both at startup and from the housekeeper's periodic sweep. Each
// top-up entry claims a capacity permit for its whole lifetime, like any
// other entry (§4.1, invariant 2), given back only when it is eventually
// retired — the same destruction paths every other entry already releases
// its permit through.
func (p *Pool[T]) topUp() {
	for {
		p.mu.Lock()
		if p.shutdown || p.reg.total() >= int(p.cfg.MinSize) {
			p.mu.Unlock()
			return
		}
		id := p.reg.takeID()
		p.mu.Unlock()

		if !p.gate.tryAcquire() {
			// min_size <= max_size is assumed, so this should not happen in
			// practice; if capacity is momentarily exhausted, stop topping up
			// rather than blocking the housekeeper on it.
			return
		}

		obj, err := p.cfg.Fun(id)
		if err != nil {
			p.gate.release()
			atomic.AddInt64(&p.ctr.nHealthFail, 1)
			p.cfg.Logger.Warn("top-up factory call failed, aborting this sweep", zap.Error(err))
			return
		}
		now := time.Now()
		e := &entry[T]{obj: obj, id: id, createdAt: now, lastRetAt: now}

		p.mu.Lock()
		p.reg.pushAvail(e)
		atomic.AddInt64(&p.ctr.nCreated, 1)
		p.mu.Unlock()

		p.cfg.Hooks.invokeOpener(p.cfg.Logger, obj)
		p.cond.Broadcast()
	}
}

// Shutdown stops the housekeeper, rejects new Acquires, and destroys every
// entry: available ones immediately, busy ones as they are returned or
// forcibly once ctx is done (§3 Lifecycle, §7 "Fatal").
func (p *Pool[T]) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	avail := make([]*entry[T], 0, p.reg.avail.Len())
	for e := p.reg.popAvail(); e != nil; e = p.reg.popAvail() {
		avail = append(avail, e)
	}
	p.mu.Unlock()

	close(p.hkStop)

	for _, e := range avail {
		p.cfg.Hooks.invokeCloser(p.cfg.Logger, e.obj)
		atomic.AddInt64(&p.ctr.nDestroyed, 1)
		p.gate.release()
	}
	p.cond.Broadcast()

	// Wait for outstanding holders to return, or the deadline to force them.
	deadline := ctx.Done()
	for {
		p.mu.Lock()
		remaining := len(p.reg.busy)
		p.mu.Unlock()
		if remaining == 0 {
			return
		}
		select {
		case <-deadline:
			p.forceKillRemaining()
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Stats returns a point-in-time snapshot of the pool (C6, §4.5). The
// snapshot itself is taken under lock; formatting (trace strings, the user
// hook) happens afterward outside it.
func (p *Pool[T]) Stats() Stats {
	type live struct {
		obj T
		snap EntrySnapshot
	}

	p.mu.Lock()
	avail := make([]live, 0, p.reg.avail.Len())
	for elem := p.reg.avail.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*entry[T])
		avail = append(avail, live{obj: e.obj, snap: e.snapshot("")})
	}
	busy := make([]live, 0, len(p.reg.busy))
	for _, e := range p.reg.busy {
		busy = append(busy, live{obj: e.obj, snap: e.snapshot("")})
	}
	nTotal := p.reg.total()
	ctrs := p.ctr.snapshot()
	p.mu.Unlock()

	now := time.Now()
	s := Stats{
		PoolID:    p.cfg.PoolID,
		Version:   Version,
		StartedAt: p.startedAt,
		Now:       now,
		Uptime:    now.Sub(p.startedAt),
		NTotal:    nTotal,
		NAvail:    len(avail),
		NBusy:     len(busy),
		Counters:  ctrs,
		Config: ConfigSnapshot{
			MaxSize:           p.cfg.MaxSize,
			MinSize:           p.cfg.MinSize,
			Timeout:           p.cfg.Timeout,
			MaxUse:            p.cfg.MaxUse,
			MaxAvailDelay:     p.cfg.MaxAvailDelay,
			MaxUsingDelay:     p.cfg.MaxUsingDelay,
			MaxUsingDelayKill: p.cfg.MaxUsingDelayKill,
			HealthFreq:        p.cfg.HealthFreq,
			HKDelay:           p.cfg.HKDelay,
		},
		Avail: make([]EntrySnapshot, 0, len(avail)),
		Busy:  make([]EntrySnapshot, 0, len(busy)),
	}
	for _, l := range avail {
		snap := l.snap
		snap.Trace = p.cfg.Hooks.invokeTracer(p.cfg.Logger, l.obj)
		s.Avail = append(s.Avail, snap)
	}
	for _, l := range busy {
		snap := l.snap
		snap.Trace = p.cfg.Hooks.invokeTracer(p.cfg.Logger, l.obj)
		s.Busy = append(s.Busy, snap)
	}
	if p.cfg.Hooks.Stats != nil {
		s.User = p.cfg.Hooks.Stats()
	}
	return s
}

func (p *Pool[T]) forceKillRemaining() {
	p.mu.Lock()
	leftover := make([]*entry[T], 0, len(p.reg.busy))
	for id, e := range p.reg.busy {
		leftover = append(leftover, e)
		delete(p.reg.busy, id)
		delete(p.reg.objIndex, e.obj)
	}
	p.mu.Unlock()

	for _, e := range leftover {
		p.cfg.Logger.Warn("shutdown deadline reached, forcibly destroying held resource",
			zap.Int64("resource_id", e.id), zap.String("holder", e.holder))
		p.cfg.Hooks.invokeCloser(p.cfg.Logger, e.obj)
		atomic.AddInt64(&p.ctr.nKilled, 1)
		atomic.AddInt64(&p.ctr.nDestroyed, 1)
		p.gate.release()
	}
}
