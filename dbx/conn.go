package dbx

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Connection attribute names accepted by SetAttribute.
const (
	// AttrErrorMode selects how failures are reported. Every Connection
	// is strict: errors are returned, never swallowed. Setting anything
	// other than ErrorModeStrict is rejected.
	AttrErrorMode = "error_mode"

	// AttrEmulatePrepares would switch to client-side statement
	// preparation. Emulated prepares bypass the server's parameter
	// typing, so enabling them is rejected.
	AttrEmulatePrepares = "emulate_prepares"
)

// ErrorModeStrict is the only accepted value for AttrErrorMode.
const ErrorModeStrict = "strict"

// Connection owns one configured backend handle. It prepares
// statements, controls transactions and answers liveness probes.
//
// A Connection wraps a *sqlx.DB, so "connection" means a configured
// handle with its own small pool of sockets underneath, not a single
// pinned socket.
type Connection struct {
	db      *sqlx.DB
	cfg     *config
	id      string
	breaker CircuitBreaker

	tx    *sqlx.Tx
	attrs map[string]any
}

// Open opens a database handle without verifying that the server is
// reachable. Use Connect when the caller needs a verified handle.
//
// Example:
//
//	conn, err := dbx.Open("postgres", dsn,
//	    dbx.WithDBSystem("postgresql"),
//	    dbx.WithDBName("orders"),
//	)
func Open(driverName, dsn string, opts ...Option) (*Connection, error) {
	cfg := newConfig(opts...)

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, wrapDriverError(err, "")
	}

	return newConnection(db, cfg), nil
}

// Connect opens a database handle and verifies it with a ping, retrying
// the handshake with exponential backoff per WithConnectRetry.
//
// Example:
//
//	conn, err := dbx.Connect(ctx, "postgres", dsn,
//	    dbx.WithDBSystem("postgresql"),
//	    dbx.WithConnectRetry(dbx.DefaultRetryConfig()),
//	)
func Connect(ctx context.Context, driverName, dsn string, opts ...Option) (*Connection, error) {
	conn, err := Open(driverName, dsn, opts...)
	if err != nil {
		return nil, err
	}

	if err := conn.handshake(ctx); err != nil {
		conn.db.Close()
		return nil, err
	}

	return conn, nil
}

// New wraps an existing *sql.DB. The driver name decides the bindvar
// style used when rebinding placeholders.
//
// Example:
//
//	sqlDB, _ := sql.Open("postgres", dsn)
//	conn := dbx.New(sqlDB, "postgres", dbx.WithDBSystem("postgresql"))
func New(db *sql.DB, driverName string, opts ...Option) *Connection {
	return newConnection(sqlx.NewDb(db, driverName), newConfig(opts...))
}

func newConnection(db *sqlx.DB, cfg *config) *Connection {
	id := uuid.NewString()

	breakerName := cfg.InstanceName
	if breakerName == "" {
		breakerName = id
	}

	return &Connection{
		db:      db,
		cfg:     cfg,
		id:      id,
		breaker: newBreaker(breakerName, cfg.Breaker),
		attrs: map[string]any{
			AttrErrorMode:       ErrorModeStrict,
			AttrEmulatePrepares: false,
		},
	}
}

// handshake pings the server, retrying with backoff per the configured
// retry policy.
func (c *Connection) handshake(ctx context.Context) error {
	rc := c.cfg.ConnectRetry
	if !rc.IsEnabled() {
		return wrapDriverError(c.db.PingContext(ctx), "")
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(rc.backOff()),
		backoff.WithMaxTries(rc.MaxRetries + 1), // +1 because the initial attempt is counted
	}
	if rc.MaxElapsedTime > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(rc.MaxElapsedTime))
	}
	retryOpts = append(retryOpts, backoff.WithNotify(func(err error, next time.Duration) {
		c.cfg.Logger.Warn().
			Str("conn_id", c.id).
			Dur("next_attempt_in", next).
			Err(err).
			Msg("database handshake failed, retrying")
	}))

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.db.PingContext(ctx)
	}, retryOpts...)

	return wrapDriverError(err, "")
}

// ID returns the unique identifier of this connection, used in logs.
func (c *Connection) ID() string {
	return c.id
}

// DriverName returns the driver name the handle was opened with.
func (c *Connection) DriverName() string {
	return c.db.DriverName()
}

// DB exposes the underlying sqlx handle for operations this package
// does not wrap.
func (c *Connection) DB() *sqlx.DB {
	return c.db
}

// Close releases the underlying handle. Any open transaction is rolled
// back by the driver.
func (c *Connection) Close() error {
	c.tx = nil
	return wrapDriverError(c.db.Close(), "")
}

// Prepare parses the query's placeholders and prepares it server-side,
// returning a Statement. Named placeholders (:name) are rewritten to
// the driver's bindvar style; a query mixing named and positional
// placeholders is rejected. When a transaction is open the statement is
// prepared inside it and lives only as long as the transaction.
func (c *Connection) Prepare(ctx context.Context, query string) (*Statement, error) {
	params, err := scanPlaceholders(query)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	ctx, span := c.cfg.Tracer.Start(ctx, "dbx.Prepare",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.cfg.queryAttributes(query)...),
	)
	defer span.End()

	driverQuery := c.db.Rebind(params.query)

	var stmt *sqlx.Stmt
	if c.tx != nil {
		stmt, err = c.tx.PreparexContext(ctx, driverQuery)
	} else {
		stmt, err = c.db.PreparexContext(ctx, driverQuery)
	}

	c.cfg.Metrics.recordQueryDuration(
		ctx,
		time.Since(start),
		"PREPARE",
		c.cfg.baseAttributes(),
		err,
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrapDriverError(err, query)
	}

	return newStatement(c, query, params, stmt), nil
}

// Query is a one-shot convenience: prepare, bind args positionally and
// execute. Args pass through to the driver without bind-type coercion.
//
// Example:
//
//	stmt, err := conn.Query(ctx, "SELECT id, name FROM users WHERE org = ?", 42)
//	if err != nil {
//	    return err
//	}
//	rows, err := stmt.FetchAll(ctx)
func (c *Connection) Query(ctx context.Context, query string, args ...any) (*Statement, error) {
	stmt, err := c.Prepare(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := stmt.executeArgs(ctx, args); err != nil {
		stmt.Close()
		return nil, err
	}

	return stmt, nil
}

// Exec runs a statement directly, without the prepare/fetch lifecycle.
// Use it for data modification where only the sql.Result matters.
func (c *Connection) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	operation := extractOperation(query)

	ctx, span := c.cfg.Tracer.Start(ctx, spanName(query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.cfg.queryAttributes(query)...),
	)
	defer span.End()

	var (
		res sql.Result
		err error
	)
	if c.tx != nil {
		res, err = c.tx.ExecContext(ctx, query, args...)
	} else {
		res, err = c.db.ExecContext(ctx, query, args...)
	}

	c.cfg.Metrics.recordQueryDuration(
		ctx,
		time.Since(start),
		operation,
		c.cfg.baseAttributes(),
		err,
	)
	c.logQuery(query, args, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrapDriverError(err, query)
	}

	return res, nil
}

// Begin starts a transaction with default options.
func (c *Connection) Begin(ctx context.Context) error {
	return c.BeginTx(ctx, nil)
}

// BeginTx starts a transaction. Beginning while one is already open is
// a CodeTransactionState error; this library does not emulate nested
// transactions.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) error {
	if c.tx != nil {
		return NewError(CodeTransactionState, "transaction already open")
	}

	start := time.Now()

	ctx, span := c.cfg.Tracer.Start(ctx, "BEGIN",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.cfg.baseAttributes()...),
	)
	defer span.End()

	tx, err := c.db.BeginTxx(ctx, opts)

	c.cfg.Metrics.recordQueryDuration(
		ctx,
		time.Since(start),
		"BEGIN",
		c.cfg.baseAttributes(),
		err,
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return wrapDriverError(err, "")
	}

	c.tx = tx
	return nil
}

// Commit commits the open transaction. The transaction is finished
// afterwards even when the driver reports a failure.
func (c *Connection) Commit() error {
	if c.tx == nil {
		return NewError(CodeTransactionState, "no transaction open")
	}

	start := time.Now()
	ctx := context.Background()

	ctx, span := c.cfg.Tracer.Start(ctx, "COMMIT",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.cfg.baseAttributes()...),
	)
	defer span.End()

	err := c.tx.Commit()
	c.tx = nil

	c.cfg.Metrics.recordQueryDuration(
		ctx,
		time.Since(start),
		"COMMIT",
		c.cfg.baseAttributes(),
		err,
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return wrapDriverError(err, "")
}

// Rollback aborts the open transaction.
func (c *Connection) Rollback() error {
	if c.tx == nil {
		return NewError(CodeTransactionState, "no transaction open")
	}

	start := time.Now()
	ctx := context.Background()

	ctx, span := c.cfg.Tracer.Start(ctx, "ROLLBACK",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.cfg.baseAttributes()...),
	)
	defer span.End()

	err := c.tx.Rollback()
	c.tx = nil

	c.cfg.Metrics.recordQueryDuration(
		ctx,
		time.Since(start),
		"ROLLBACK",
		c.cfg.baseAttributes(),
		err,
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return wrapDriverError(err, "")
}

// InTransaction reports whether a transaction is open.
func (c *Connection) InTransaction() bool {
	return c.tx != nil
}

// IsAlive probes the backend with a cheap bounded query and reports the
// outcome. Probe failures are never propagated: a dead host answers
// false, not an error. Pools call this before trusting a cached or
// candidate connection.
func (c *Connection) IsAlive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()

	rows, err := c.db.QueryContext(ctx, c.cfg.ProbeQuery)
	if rows != nil {
		if err == nil {
			err = rows.Err()
		}
		rows.Close()
	}

	alive := err == nil
	c.cfg.Metrics.recordProbe(ctx, c.cfg.baseAttributes(), alive)

	if !alive {
		c.cfg.Logger.Warn().
			Str("conn_id", c.id).
			Str("db_instance", c.cfg.InstanceName).
			Dur("took", time.Since(start)).
			Err(err).
			Msg("liveness probe failed")
	}

	return alive
}

// SetAttribute stores a connection attribute. Two attributes guard
// invariants and reject weakening values: AttrErrorMode accepts only
// ErrorModeStrict, and AttrEmulatePrepares accepts only false. Other
// attributes are stored opaquely for the caller's own use.
func (c *Connection) SetAttribute(name string, value any) error {
	switch name {
	case AttrErrorMode:
		if value != ErrorModeStrict {
			return NewError(CodeErrorModeLocked,
				"error reporting cannot be weakened below %q", ErrorModeStrict)
		}
	case AttrEmulatePrepares:
		if enabled, ok := value.(bool); !ok || enabled {
			return NewError(CodeEmulationLocked,
				"emulated prepares cannot be enabled")
		}
	}

	c.attrs[name] = value
	return nil
}

// Attribute returns a previously stored attribute.
func (c *Connection) Attribute(name string) (any, bool) {
	v, ok := c.attrs[name]
	return v, ok
}

// logQuery writes a debug-level log line for an executed query.
func (c *Connection) logQuery(query string, args []any, took time.Duration, err error) {
	ev := c.cfg.Logger.Debug()
	if !ev.Enabled() {
		return
	}

	ev = ev.Str("conn_id", c.id)
	if !c.cfg.DisableQuery {
		ev = ev.Str("query", c.cfg.sanitizedQuery(query))
		if len(args) > 0 {
			if payload, jsonErr := json.Marshal(args); jsonErr == nil {
				ev = ev.RawJSON("args", payload)
			}
		}
	}
	ev.Dur("took", took).Err(err).Msg("query executed")
}
