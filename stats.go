package pool

import (
	"sync/atomic"
	"time"
)

// counters are the monotonically non-decreasing tallies of §3 "Pool state"
// and invariant 3. Plain atomics: they are read far more often (every
// Stats() call, every Prometheus scrape) than they are written, and nothing
// about them needs to be consistent with the lock-guarded registry state at
// single-field granularity — only the aggregate snapshot in Stats() does,
// and that is taken under lock.
type counters struct {
	nCreated      int64
	nDestroyed    int64
	nAcquisitions int64
	nReturns      int64
	nTimeouts     int64
	nHealthFail   int64
	nKilled       int64
	nBadReturns   int64
}

func (c *counters) snapshot() CounterSnapshot {
	return CounterSnapshot{
		Created:      atomic.LoadInt64(&c.nCreated),
		Destroyed:    atomic.LoadInt64(&c.nDestroyed),
		Acquisitions: atomic.LoadInt64(&c.nAcquisitions),
		Returns:      atomic.LoadInt64(&c.nReturns),
		Timeouts:     atomic.LoadInt64(&c.nTimeouts),
		HealthFail:   atomic.LoadInt64(&c.nHealthFail),
		Killed:       atomic.LoadInt64(&c.nKilled),
		BadReturns:   atomic.LoadInt64(&c.nBadReturns),
	}
}

// CounterSnapshot is the counter block of §4.5's stats snapshot.
type CounterSnapshot struct {
	Created      int64 `json:"n_created"`
	Destroyed    int64 `json:"n_destroyed"`
	Acquisitions int64 `json:"n_acquisitions"`
	Returns      int64 `json:"n_returns"`
	Timeouts     int64 `json:"n_timeouts"`
	HealthFail   int64 `json:"n_health_fail"`
	Killed       int64 `json:"n_killed"`
	BadReturns   int64 `json:"n_bad_returns"`
}

// EntrySnapshot is the per-entry record described in §4.5 and the stats
// shape table in §6 ("entry = { id, created_at, last_get_at, last_ret_at,
// uses, holder, trace }").
type EntrySnapshot struct {
	ID            int64      `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAcquireAt *time.Time `json:"last_get_at,omitempty"`
	LastReturnAt  *time.Time `json:"last_ret_at,omitempty"`
	Uses          int64      `json:"uses"`
	Holder        string     `json:"holder,omitempty"`
	Trace         string     `json:"trace,omitempty"`
}

// ConfigSnapshot mirrors the configuration fields of §6 for inclusion in the
// stats snapshot, so operators can see what a running pool was configured
// with without holding onto the original Config value.
type ConfigSnapshot struct {
	MaxSize           int64         `json:"max_size"`
	MinSize           int64         `json:"min_size"`
	Timeout           time.Duration `json:"timeout"`
	MaxUse            int64         `json:"max_use"`
	MaxAvailDelay     time.Duration `json:"max_avail_delay"`
	MaxUsingDelay     time.Duration `json:"max_using_delay"`
	MaxUsingDelayKill time.Duration `json:"max_using_delay_kill"`
	HealthFreq        int           `json:"health_freq"`
	HKDelay           time.Duration `json:"hk_delay"`
}

// Stats is the snapshot shape of §6 "Stats snapshot (shape)".
type Stats struct {
	PoolID    string           `json:"pool_id"`
	Version   string           `json:"version"`
	StartedAt time.Time        `json:"started_at"`
	Now       time.Time        `json:"now"`
	Uptime    time.Duration    `json:"uptime"`
	NTotal    int             `json:"n_total"`
	NAvail    int             `json:"n_avail"`
	NBusy     int             `json:"n_busy"`
	Counters  CounterSnapshot `json:"counters"`
	Config    ConfigSnapshot  `json:"config"`
	Avail     []EntrySnapshot `json:"avail"`
	Busy      []EntrySnapshot `json:"busy"`
	User      map[string]any  `json:"user,omitempty"`
}

// Version is the module's user-visible identifier, surfaced in Stats so
// operators scraping many pools can tell which build produced a snapshot.
const Version = "resource-pool/2"
