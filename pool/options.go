package pool

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/cozyframework/database/pool"

	// DefaultTag is the tag used when none is given.
	DefaultTag = "main"
)

// SelectionMode controls the order in which candidates are probed on a
// cold lookup.
type SelectionMode int

const (
	// Sequential probes candidates in insertion order, giving a
	// deterministic primary-then-replica failover.
	Sequential SelectionMode = iota

	// Random shuffles the remaining candidates before each search,
	// spreading cold lookups across interchangeable replicas. Selection
	// order is not reproducible across calls.
	Random
)

// config holds the configuration for a Pool.
type config struct {
	// TracerProvider is the tracer provider to use.
	// If not set, uses the global provider via otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use.
	// If not set, uses the global provider via otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	// Tracer is the tracer instance created from TracerProvider.
	Tracer trace.Tracer

	// Meter is the meter instance created from MeterProvider.
	Meter metric.Meter

	// Metrics holds the metric instruments.
	Metrics *metrics

	// Logger receives info-level promotion logs and warn-level probe
	// failures. Defaults to a no-op logger.
	Logger zerolog.Logger

	// Mode is the candidate selection order.
	Mode SelectionMode
}

// newConfig creates a new config with defaults and applies options.
func newConfig(opts ...Option) *config {
	cfg := &config{
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Logger:         zerolog.Nop(),
		Mode:           Sequential,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Initialize metrics (ignore errors, will just be nil if fails)
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// Option configures a Pool.
type Option func(*config)

// WithTracerProvider sets a custom tracer provider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom meter provider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *config) {
		cfg.MeterProvider = mp
	}
}

// WithLogger sets the logger for promotion and probe-failure logs.
// The default logger discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *config) {
		cfg.Logger = logger
	}
}

// WithSelectionMode sets the candidate probing order. Sequential is the
// default: candidates are tried in the order they were added, so list
// the primary first. Random spreads cold lookups across replicas.
func WithSelectionMode(mode SelectionMode) Option {
	return func(cfg *config) {
		cfg.Mode = mode
	}
}
