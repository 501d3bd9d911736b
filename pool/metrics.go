package pool

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Lookup outcomes recorded on the lookup duration histogram.
const (
	lookupCached   = "cached"
	lookupPromoted = "promoted"
	lookupError    = "error"
)

// metrics holds the metric instruments for pool operations.
type metrics struct {
	// Lookup latency histogram, labeled by tag and outcome
	lookupDuration metric.Float64Histogram

	// Candidates discarded after a failed probe
	discards metric.Int64Counter
}

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	// Lookups are probe-bound, so the buckets reach into seconds
	m.lookupDuration, err = meter.Float64Histogram(
		"db.client.pool.lookup.duration",
		metric.WithDescription("Duration of pool connection lookups in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	m.discards, err = meter.Int64Counter(
		"db.client.pool.discards",
		metric.WithDescription("Number of candidate connections discarded after a failed probe"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// recordLookup records the duration and outcome of a pool lookup.
func (m *metrics) recordLookup(ctx context.Context, duration time.Duration, tag, status string) {
	if m == nil || m.lookupDuration == nil {
		return
	}

	m.lookupDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("pool.tag", tag),
		attribute.String("status", status),
	))
}

// recordDiscard counts a candidate discarded after a failed probe.
func (m *metrics) recordDiscard(ctx context.Context, tag string) {
	if m == nil || m.discards == nil {
		return
	}

	m.discards.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pool.tag", tag),
	))
}
