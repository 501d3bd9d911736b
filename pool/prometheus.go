package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

var _ prometheus.Collector = (*Collector)(nil)

// Collector exposes pool state as Prometheus gauges, one series per
// tag. Register it with your registry next to the promhttp handler:
//
//	prometheus.MustRegister(pool.NewCollector(p))
type Collector struct {
	pool *Pool

	candidates *prometheus.Desc
	active     *prometheus.Desc
}

// NewCollector creates a collector that snapshots p on every scrape.
func NewCollector(p *Pool) *Collector {
	return &Collector{
		pool: p,
		candidates: prometheus.NewDesc(
			"db_pool_candidates",
			"Candidate connections not yet tried, per tag.",
			[]string{"tag"}, nil,
		),
		active: prometheus.NewDesc(
			"db_pool_active",
			"Whether a live connection is cached for the tag (0 or 1).",
			[]string{"tag"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.candidates
	ch <- c.active
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for tag, stats := range c.pool.Stats() {
		ch <- prometheus.MustNewConstMetric(
			c.candidates, prometheus.GaugeValue, float64(stats.Candidates), tag)

		active := 0.0
		if stats.Active {
			active = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.active, prometheus.GaugeValue, active, tag)
	}
}
