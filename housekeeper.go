package pool

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// housekeeperLoop runs the background sweep (C4, §4.3) on a ticker derived
// from cfg.HKDelay. Each sweep builds a worklist under lock, then acts
// outside the lock so hook/factory calls never block Acquire/Release.
func (p *Pool[T]) housekeeperLoop() {
	defer close(p.hkDone)

	ticker := time.NewTicker(p.cfg.HKDelay)
	defer ticker.Stop()

	for {
		select {
		case <-p.hkStop:
			return
		case <-ticker.C:
			p.sweepOnce()
		}
	}
}

// sweepOnce runs steps 1-6 of §4.3, catching any panic from a hook or the
// factory so one bad entry never stops the rest of the sweep.
func (p *Pool[T]) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.Error("housekeeper sweep recovered from panic", zap.Any("panic", r))
		}
	}()

	p.sweeps++
	now := time.Now()

	idleExpired, useExpired, warn, killed := p.collectSweepWorklist(now)

	for _, e := range idleExpired {
		p.retireAvailEntry(e, "idle expired")
	}
	for _, e := range useExpired {
		p.retireAvailEntry(e, "max_use exceeded")
	}
	for _, w := range warn {
		p.cfg.Logger.Warn("resource held past max_using_delay",
			zap.Int64("resource_id", w.id), zap.String("holder", w.holder),
			zap.Duration("age", now.Sub(w.lastGetAt)))
	}
	for _, e := range killed {
		p.cfg.Logger.Warn("killing long-held resource past max_using_delay_kill",
			zap.Int64("resource_id", e.id), zap.String("holder", e.holder))
		p.cfg.Hooks.invokeCloser(p.cfg.Logger, e.obj)
		atomic.AddInt64(&p.ctr.nKilled, 1)
		atomic.AddInt64(&p.ctr.nDestroyed, 1)
		p.gate.release()
	}

	if p.cfg.Hooks.Health != nil && p.sweeps%int64(p.cfg.HealthFreq) == 0 {
		p.healthSweep()
	}

	if len(idleExpired)+len(useExpired)+len(killed) > 0 {
		p.cond.Broadcast()
	}

	p.topUp()
}

// collectSweepWorklist implements §4.3 steps 1-4, scanning under lock and
// returning the entries each policy wants to act on; destruction itself
// happens outside the lock by the caller.
func (p *Pool[T]) collectSweepWorklist(now time.Time) (idleExpired, useExpired, warn, killed []*entry[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for elem := p.reg.avail.Front(); elem != nil; {
		e := elem.Value.(*entry[T])
		next := elem.Next()

		switch {
		case p.cfg.MaxAvailDelay > 0 && now.Sub(e.lastRetAt) > p.cfg.MaxAvailDelay:
			p.reg.avail.Remove(elem)
			e.listElem = nil
			e.state = Retiring
			idleExpired = append(idleExpired, e)
		case p.cfg.MaxUse > 0 && e.uses >= p.cfg.MaxUse:
			p.reg.avail.Remove(elem)
			e.listElem = nil
			e.state = Retiring
			useExpired = append(useExpired, e)
		}

		elem = next
	}

	if p.cfg.MaxUsingDelay > 0 || p.cfg.MaxUsingDelayKill > 0 {
		for id, e := range p.reg.busy {
			age := now.Sub(e.lastGetAt)
			if p.cfg.MaxUsingDelayKill > 0 && age > p.cfg.MaxUsingDelayKill {
				delete(p.reg.busy, id)
				delete(p.reg.objIndex, e.obj)
				e.state = Retiring
				killed = append(killed, e)
				continue
			}
			if p.cfg.MaxUsingDelay > 0 && age > p.cfg.MaxUsingDelay {
				warn = append(warn, e)
			}
		}
	}

	return
}

// retireAvailEntry destroys an entry already removed from avail by the scan.
func (p *Pool[T]) retireAvailEntry(e *entry[T], reason string) {
	p.cfg.Hooks.invokeCloser(p.cfg.Logger, e.obj)
	atomic.AddInt64(&p.ctr.nDestroyed, 1)
	p.gate.release()
	p.cfg.Logger.Debug("idle resource retired by housekeeper", zap.Int64("resource_id", e.id), zap.String("reason", reason))
}

// healthSweep implements §4.3 step 5: probe every currently available
// entry, retiring any that fail. Entries currently busy are never probed —
// only the holder may use a resource while it is checked out (§5).
func (p *Pool[T]) healthSweep() {
	p.mu.Lock()
	candidates := make([]*entry[T], 0, p.reg.avail.Len())
	for elem := p.reg.avail.Front(); elem != nil; elem = elem.Next() {
		candidates = append(candidates, elem.Value.(*entry[T]))
	}
	p.mu.Unlock()

	for _, e := range candidates {
		healthy, err := p.cfg.Hooks.invokeHealth(e.obj)
		if err == nil && healthy {
			continue
		}

		p.mu.Lock()
		// The entry may have already been acquired since we snapshotted it;
		// only act if it is still sitting available.
		if e.listElem == nil || e.state != Available {
			p.mu.Unlock()
			continue
		}
		p.reg.removeAvail(e)
		e.state = Retiring
		p.mu.Unlock()
		atomic.AddInt64(&p.ctr.nHealthFail, 1)

		p.cfg.Hooks.invokeCloser(p.cfg.Logger, e.obj)
		atomic.AddInt64(&p.ctr.nDestroyed, 1)
		p.gate.release()
		p.cfg.Logger.Debug("resource failed health probe", zap.Int64("resource_id", e.id))
	}
}
