package pool

import "github.com/prometheus/client_golang/prometheus"

// PrometheusCollector adapts a Pool's Stats() snapshot into the
// prometheus.Collector interface, so the pool's occupancy and counters can
// be scraped directly (§4.5 "Statistics view", wired to the domain metrics
// stack per SPEC_FULL.md §6.2). It is independent of the Hooks.Stats hook —
// that one merges arbitrary user counters into the JSON snapshot; this one
// exposes the pool's own counters to Prometheus.
type PrometheusCollector struct {
	statsFn func() Stats

	nTotal       *prometheus.Desc
	nAvail       *prometheus.Desc
	nBusy        *prometheus.Desc
	created      *prometheus.Desc
	destroyed    *prometheus.Desc
	acquisitions *prometheus.Desc
	returns      *prometheus.Desc
	timeouts     *prometheus.Desc
	healthFail   *prometheus.Desc
	killed       *prometheus.Desc
	badReturns   *prometheus.Desc
}

// NewPrometheusCollector wraps p for registration with a prometheus.Registry.
func NewPrometheusCollector[T comparable](p *Pool[T]) *PrometheusCollector {
	const ns = "resource_pool"
	labels := []string{"pool_id"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(ns+"_"+name, help, labels, nil)
	}
	return &PrometheusCollector{
		statsFn:      p.Stats,
		nTotal:       desc("resources_total", "Live resources currently managed by the pool."),
		nAvail:       desc("resources_available", "Resources currently idle and available."),
		nBusy:        desc("resources_in_use", "Resources currently checked out."),
		created:      desc("created_total", "Resources constructed over the pool's lifetime."),
		destroyed:    desc("destroyed_total", "Resources destroyed over the pool's lifetime."),
		acquisitions: desc("acquisitions_total", "Successful Acquire calls."),
		returns:      desc("returns_total", "Resources recycled via Release."),
		timeouts:     desc("timeouts_total", "Acquire calls that timed out waiting for capacity."),
		healthFail:   desc("health_check_failures_total", "Health probe failures and failed top-up constructions."),
		killed:       desc("killed_total", "Resources forcibly retired for exceeding max_using_delay_kill or still held at the shutdown deadline."),
		badReturns:   desc("bad_returns_total", "Release calls for an unknown or already-returned resource."),
	}
}

func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.nTotal
	ch <- c.nAvail
	ch <- c.nBusy
	ch <- c.created
	ch <- c.destroyed
	ch <- c.acquisitions
	ch <- c.returns
	ch <- c.timeouts
	ch <- c.healthFail
	ch <- c.killed
	ch <- c.badReturns
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statsFn()

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, s.PoolID)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, s.PoolID)
	}

	gauge(c.nTotal, float64(s.NTotal))
	gauge(c.nAvail, float64(s.NAvail))
	gauge(c.nBusy, float64(s.NBusy))
	counter(c.created, float64(s.Counters.Created))
	counter(c.destroyed, float64(s.Counters.Destroyed))
	counter(c.acquisitions, float64(s.Counters.Acquisitions))
	counter(c.returns, float64(s.Counters.Returns))
	counter(c.timeouts, float64(s.Counters.Timeouts))
	counter(c.healthFail, float64(s.Counters.HealthFail))
	counter(c.killed, float64(s.Counters.Killed))
	counter(c.badReturns, float64(s.Counters.BadReturns))
}
