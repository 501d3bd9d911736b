package dbx

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Statement wraps one prepared statement and owns its execution/fetch
// state machine: prepare, bind, execute, fetch until end of data, close
// the cursor, re-execute. Fetch operations on a statement without a
// prior successful execution either auto-execute (the default) or fail
// with CodeFetchUnexecuted.
//
// A Statement is not safe for concurrent use.
type Statement struct {
	conn   *Connection
	cfg    *config
	query  string
	params *placeholderSet
	stmt   *sqlx.Stmt

	autoExecute bool
	executed    bool
	executedOK  bool

	namedBinds      map[string]any
	positionalBinds map[int]any
	boundColumns    []boundColumn

	rows *sqlx.Rows
}

// boundColumn associates a result column with a caller-owned output
// slot for FetchBound.
type boundColumn struct {
	pos  int // 1-based position; 0 when bound by name
	name string
	dest any
	typ  ParamType
}

func newStatement(conn *Connection, query string, params *placeholderSet, stmt *sqlx.Stmt) *Statement {
	return &Statement{
		conn:            conn,
		cfg:             conn.cfg,
		query:           query,
		params:          params,
		stmt:            stmt,
		autoExecute:     conn.cfg.AutoExecute,
		namedBinds:      make(map[string]any),
		positionalBinds: make(map[int]any),
	}
}

// Query returns the SQL text the statement was prepared from.
func (s *Statement) Query() string {
	return s.query
}

// SetAutoExecute toggles the auto-execute policy for this statement.
// When enabled (the default), a fetch on a statement without a prior
// successful execution executes it transparently first.
func (s *Statement) SetAutoExecute(enabled bool) {
	s.autoExecute = enabled
}

// Executed reports whether the last execution attempt succeeded.
func (s *Statement) Executed() bool {
	return s.executedOK
}

// BindValue binds a value to a placeholder, identified by 1-based
// position (int) or by name (string, with or without the leading
// colon). The value is coerced per typ; a nil value always binds NULL.
// Binding an unknown placeholder fails immediately with
// CodeBadParameter, carrying the SQL text.
func (s *Statement) BindValue(param, value any, typ ParamType) error {
	coerced, err := typ.coerce(value)
	if err != nil {
		return newStatementError(CodeBadParameter, s.query, "bind %v: %v", param, err)
	}

	switch p := param.(type) {
	case int:
		if s.params.kind == placeholderNamed {
			return newStatementError(CodeBadParameter, s.query,
				"statement uses named placeholders, positional bind %d rejected", p)
		}
		if p < 1 || (s.params.count > 0 && p > s.params.count) {
			return newStatementError(CodeBadParameter, s.query,
				"no placeholder at position %d", p)
		}
		s.positionalBinds[p] = coerced
	case string:
		name := strings.TrimPrefix(p, ":")
		if s.params.kind != placeholderNamed || !s.params.has(name) {
			return newStatementError(CodeBadParameter, s.query,
				"unknown placeholder :%s", name)
		}
		s.namedBinds[name] = coerced
	default:
		return newStatementError(CodeBadParameter, s.query,
			"parameter must be a 1-based position or a name, got %T", param)
	}

	return nil
}

// BindColumn associates a result column, by 1-based position (int) or
// name (string), with a caller-owned destination pointer for
// FetchBound. The column's existence is checked against the result set
// at fetch time. The bind type guides conversion when dest is *any;
// typed destinations convert through database/sql as usual.
func (s *Statement) BindColumn(col, dest any, typ ParamType) error {
	if dest == nil {
		return newStatementError(CodeBadParameter, s.query,
			"bind column %v: nil destination", col)
	}

	switch c := col.(type) {
	case int:
		if c < 1 {
			return newStatementError(CodeBadParameter, s.query,
				"no column at position %d", c)
		}
		s.boundColumns = append(s.boundColumns, boundColumn{pos: c, dest: dest, typ: typ})
	case string:
		s.boundColumns = append(s.boundColumns, boundColumn{name: c, dest: dest, typ: typ})
	default:
		return newStatementError(CodeBadParameter, s.query,
			"column must be a 1-based position or a name, got %T", col)
	}

	return nil
}

// Execute runs the prepared statement with the currently bound values.
// Re-executing closes any previous result set first. Every placeholder
// must have a bound value; driver failures come back as *Error with the
// SQL text and the driver's native error info.
func (s *Statement) Execute(ctx context.Context) error {
	args, err := s.buildArgs()
	if err != nil {
		return err
	}
	return s.executeArgs(ctx, args)
}

// Exec runs the prepared statement for data modification, returning the
// driver's sql.Result. The statement counts as executed, with no result
// set to fetch from.
func (s *Statement) Exec(ctx context.Context) (sql.Result, error) {
	args, err := s.buildArgs()
	if err != nil {
		return nil, err
	}

	s.closeRows()

	start := time.Now()
	operation := extractOperation(s.query)

	ctx, span := s.cfg.Tracer.Start(ctx, spanName(s.query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(s.cfg.queryAttributes(s.query)...),
	)
	defer span.End()

	s.executed = true
	s.executedOK = false

	res, err := s.execResult(ctx, args)

	s.cfg.Metrics.recordQueryDuration(
		ctx,
		time.Since(start),
		operation,
		s.cfg.baseAttributes(),
		err,
	)
	s.conn.logQuery(s.query, args, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, wrapDriverError(err, s.query)
	}

	s.executedOK = true
	return res, nil
}

// CloseCursor releases the active result set, returning the statement
// to its unexecuted state so it can be executed again.
func (s *Statement) CloseCursor() error {
	var err error
	if s.rows != nil {
		err = s.rows.Close()
		s.rows = nil
	}
	if err != nil {
		return wrapDriverError(err, s.query)
	}

	s.executed = false
	s.executedOK = false
	return nil
}

// NextRowset advances to the next result set of a multi-result
// statement. It returns false with no error when there are no more
// result sets or the driver does not support them.
func (s *Statement) NextRowset() (bool, error) {
	if s.rows == nil {
		return false, newStatementError(CodeFetchUnexecuted, s.query,
			"no active result set")
	}

	if s.rows.NextResultSet() {
		return true, nil
	}
	if err := s.rows.Err(); err != nil {
		return false, wrapDriverError(err, s.query)
	}
	return false, nil
}

// Columns returns the column names of the active result set.
func (s *Statement) Columns() ([]string, error) {
	if s.rows == nil {
		return nil, newStatementError(CodeFetchUnexecuted, s.query,
			"no active result set")
	}

	cols, err := s.rows.Columns()
	if err != nil {
		return nil, wrapDriverError(err, s.query)
	}
	return cols, nil
}

// ColumnCount returns the number of columns in the active result set,
// or zero when there is none.
func (s *Statement) ColumnCount() int {
	cols, err := s.Columns()
	if err != nil {
		return 0
	}
	return len(cols)
}

// Close releases the statement and any active result set.
func (s *Statement) Close() error {
	s.closeRows()
	s.executed = false
	s.executedOK = false
	return wrapDriverError(s.stmt.Close(), s.query)
}

// buildArgs assembles driver arguments from the bound values, in
// placeholder order. A placeholder with no bound value is a
// CodeBadParameter error.
func (s *Statement) buildArgs() ([]any, error) {
	if s.params.kind == placeholderNamed {
		args := make([]any, 0, len(s.params.names))
		for _, name := range s.params.names {
			v, ok := s.namedBinds[name]
			if !ok {
				return nil, newStatementError(CodeBadParameter, s.query,
					"placeholder :%s has no bound value", name)
			}
			args = append(args, v)
		}
		return args, nil
	}

	n := s.params.count
	if n == 0 {
		// Driver-native placeholder syntax the scanner does not track:
		// trust the highest bound position.
		for p := range s.positionalBinds {
			if p > n {
				n = p
			}
		}
	}

	args := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		v, ok := s.positionalBinds[i]
		if !ok {
			return nil, newStatementError(CodeBadParameter, s.query,
				"placeholder %d has no bound value", i)
		}
		args = append(args, v)
	}
	return args, nil
}

// executeArgs is the execution core shared by Execute and
// Connection.Query. It replaces any previous result set.
func (s *Statement) executeArgs(ctx context.Context, args []any) error {
	s.closeRows()

	start := time.Now()
	operation := extractOperation(s.query)

	ctx, span := s.cfg.Tracer.Start(ctx, spanName(s.query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(s.cfg.queryAttributes(s.query)...),
	)
	defer span.End()

	s.executed = true
	s.executedOK = false

	rows, err := s.queryRows(ctx, args)

	s.cfg.Metrics.recordQueryDuration(
		ctx,
		time.Since(start),
		operation,
		s.cfg.baseAttributes(),
		err,
	)
	s.conn.logQuery(s.query, args, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return wrapDriverError(err, s.query)
	}

	s.rows = rows
	s.executedOK = true
	return nil
}

// queryRows runs the prepared statement, through the circuit breaker
// when one is configured. A rejected execution surfaces
// gobreaker.ErrOpenState in the error chain.
func (s *Statement) queryRows(ctx context.Context, args []any) (*sqlx.Rows, error) {
	if s.conn.breaker == nil {
		return s.stmt.QueryxContext(ctx, args...)
	}

	res, err := s.conn.breaker.Execute(func() (any, error) {
		return s.stmt.QueryxContext(ctx, args...)
	})
	if err != nil {
		return nil, err
	}

	rows, _ := res.(*sqlx.Rows)
	return rows, nil
}

// execResult runs the prepared statement for its sql.Result, through
// the circuit breaker when one is configured.
func (s *Statement) execResult(ctx context.Context, args []any) (sql.Result, error) {
	if s.conn.breaker == nil {
		return s.stmt.ExecContext(ctx, args...)
	}

	res, err := s.conn.breaker.Execute(func() (any, error) {
		return s.stmt.ExecContext(ctx, args...)
	})
	if err != nil {
		return nil, err
	}

	result, _ := res.(sql.Result)
	return result, nil
}

// fetchNext advances the cursor one row, auto-executing per policy.
// A false return with a nil error means end of data, which is a normal
// outcome, not a failure.
func (s *Statement) fetchNext(ctx context.Context) (bool, error) {
	if !s.executedOK {
		if !s.autoExecute {
			return false, newStatementError(CodeFetchUnexecuted, s.query,
				"fetch before successful execution with auto-execute disabled")
		}
		if err := s.Execute(ctx); err != nil {
			return false, err
		}
	}

	if s.rows == nil {
		return false, nil
	}
	if s.rows.Next() {
		return true, nil
	}
	if err := s.rows.Err(); err != nil {
		return false, wrapDriverError(err, s.query)
	}
	return false, nil
}

func (s *Statement) closeRows() {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
}
