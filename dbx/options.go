package dbx

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/cozyframework/database/dbx"

	// DefaultProbeQuery is the liveness probe statement.
	DefaultProbeQuery = "SELECT 1"

	// DefaultProbeTimeout bounds a liveness probe so a dead host cannot
	// stall a pool lookup for multiple seconds.
	DefaultProbeTimeout = 3 * time.Second
)

// config holds the configuration for a Connection and the Statements it
// prepares.
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

	// Logger receives debug-level query logs and warn-level probe
	// failures. Defaults to a no-op logger.
	Logger zerolog.Logger

	// DBSystem identifies the database management system (DBMS) product.
	// Examples: "postgresql", "mysql", "sqlite"
	DBSystem string

	// DBName is the name of the database being accessed.
	DBName string

	// InstanceName identifies a specific connection, such as "primary"
	// or "replica-1". Added as the "db.instance" attribute on all spans.
	InstanceName string

	// QuerySanitizer sanitizes SQL queries before adding them to spans
	// and logs. If nil, queries are included as-is.
	QuerySanitizer func(query string) string

	// DisableQuery disables recording of SQL text in spans and logs.
	DisableQuery bool

	// ProbeQuery is the statement IsAlive runs.
	ProbeQuery string

	// ProbeTimeout bounds each liveness probe.
	ProbeTimeout time.Duration

	// AutoExecute is the initial auto-execute policy for prepared
	// statements. Statements can override it with SetAutoExecute.
	AutoExecute bool

	// ConnectRetry controls the handshake retry performed by Connect.
	ConnectRetry RetryConfig

	// Breaker, when set, wraps statement execution in a circuit breaker.
	Breaker *BreakerConfig
}

// newConfig creates a new config with defaults and applies options.
func newConfig(opts ...Option) *config {
	cfg := &config{
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Logger:         zerolog.Nop(),
		ProbeQuery:     DefaultProbeQuery,
		ProbeTimeout:   DefaultProbeTimeout,
		AutoExecute:    true,
		ConnectRetry:   DefaultRetryConfig(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// With no global provider configured these are no-op
	// implementations: no errors, just no telemetry collected.
	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Initialize metrics (ignore errors, will just be nil if fails)
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// Option configures a Connection.
type Option func(*config)

// WithTracerProvider sets a custom tracer provider.
// If not called, the global provider from otel.GetTracerProvider() is used.
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(...)
//	conn, _ := dbx.Open("postgres", dsn,
//	    dbx.WithTracerProvider(tp),
//	)
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

// WithLogger sets the logger for debug-level query logging and
// warn-level probe failures. The default logger discards everything.
//
// Example:
//
//	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
//	conn, _ := dbx.Open("postgres", dsn, dbx.WithLogger(logger))
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *config) {
		cfg.Logger = logger
	}
}

// WithDBSystem sets the database system identifier (DBMS product).
// This is added as the "db.system" attribute on all spans.
//
// Common values:
//   - "postgresql" - PostgreSQL
//   - "mysql" - MySQL
//   - "sqlite" - SQLite
func WithDBSystem(system string) Option {
	return func(cfg *config) {
		cfg.DBSystem = system
	}
}

// WithDBName sets the database name being accessed.
// This is added as the "db.name" attribute on all spans.
func WithDBName(name string) Option {
	return func(cfg *config) {
		cfg.DBName = name
	}
}

// WithInstanceName sets an identifier for this specific connection.
// This is added as the "db.instance" attribute on all spans.
//
// Use this to distinguish between multiple connections to the SAME
// database:
//   - Primary/replica setups: "primary", "replica-1"
//   - Read/write splits: "read", "write"
//   - Sharded databases: "shard-0", "shard-1"
//
// Failover pools lean on this heavily: give every candidate its own
// instance name and pool promotions become visible in traces and logs.
func WithInstanceName(name string) Option {
	return func(cfg *config) {
		cfg.InstanceName = name
	}
}

// WithQuerySanitizer sets a custom query sanitizer function.
// The sanitizer receives the raw SQL and should return a version with
// sensitive literals replaced.
//
// Use DefaultQuerySanitizer for a basic implementation:
//
//	conn, _ := dbx.Open("postgres", dsn,
//	    dbx.WithQuerySanitizer(dbx.DefaultQuerySanitizer),
//	)
//	// Query: "SELECT * FROM users WHERE id = 123"
//	// Recorded as: "SELECT * FROM users WHERE id = ?"
func WithQuerySanitizer(fn func(string) string) Option {
	return func(cfg *config) {
		cfg.QuerySanitizer = fn
	}
}

// WithDisableQuery disables recording of SQL text in spans and logs
// entirely. The "db.operation" attribute (SELECT, INSERT, ...) is still
// recorded.
func WithDisableQuery() Option {
	return func(cfg *config) {
		cfg.DisableQuery = true
	}
}

// WithProbeQuery sets the statement IsAlive runs. Defaults to
// "SELECT 1"; use "SELECT 1 FROM dual" for Oracle-style backends.
func WithProbeQuery(query string) Option {
	return func(cfg *config) {
		if query != "" {
			cfg.ProbeQuery = query
		}
	}
}

// WithProbeTimeout bounds each liveness probe. Defaults to 3s.
func WithProbeTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.ProbeTimeout = d
		}
	}
}

// WithAutoExecuteDisabled makes prepared statements require an explicit
// Execute before any fetch. By default a fetch on an unexecuted
// statement executes it transparently.
func WithAutoExecuteDisabled() Option {
	return func(cfg *config) {
		cfg.AutoExecute = false
	}
}

// WithConnectRetry sets the handshake retry policy used by Connect.
func WithConnectRetry(rc RetryConfig) Option {
	return func(cfg *config) {
		cfg.ConnectRetry = rc
	}
}

// WithBreaker wraps statement execution in a circuit breaker. Pass
// DefaultBreakerConfig() for a local breaker or DistributedBreakerConfig
// with a Redis store to share breaker state across instances.
//
// Example:
//
//	conn, _ := dbx.Open("postgres", dsn,
//	    dbx.WithBreaker(dbx.DefaultBreakerConfig()),
//	)
func WithBreaker(bc BreakerConfig) Option {
	return func(cfg *config) {
		cfg.Breaker = &bc
	}
}
