// Package dbx provides a prepared-statement toolkit on top of sqlx
// with a deterministic execution/fetch lifecycle, typed parameter
// binding, result shaping (indexing, multi-level grouping, column
// extraction) and automatic OpenTelemetry tracing and metrics.
//
// Features:
//   - Statement state machine: prepare once, execute, fetch, close the
//     cursor, re-execute. Fetching before a successful execution either
//     auto-executes (default) or fails fast.
//   - Typed parameter binding by 1-based position or :name, with a
//     closed set of bind types (string, int, bool, lob, null).
//   - Result shaping: rows as maps, rows indexed by a column, rows
//     grouped under up to three levels of column values, single-column
//     extraction.
//   - Generic typed fetches: Get[T], Select[T], SelectIndexed[T] and
//     friends scan rows into caller-supplied struct types.
//   - End-of-data is a normal return, never an error. Driver failures
//     are wrapped into *Error with the SQL text and the driver's native
//     error info preserved.
//   - Liveness probing with a bounded timeout, for failover pools.
//   - Optional circuit breaker around statement execution, local or
//     Redis-backed for multi-instance coordination.
//   - Automatic spans and a db.client.operation.duration histogram for
//     every prepare/execute/transaction operation.
//
// Quick Start:
//
//	conn, err := dbx.Connect(ctx, "postgres", dsn,
//	    dbx.WithDBSystem("postgresql"),
//	    dbx.WithDBName("orders"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	stmt, err := conn.Prepare(ctx, "SELECT id, status FROM orders WHERE region = :region")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = stmt.BindValue("region", "eu-west", dbx.TypeString)
//
//	rows, err := stmt.FetchAll(ctx) // auto-executes
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, row := range rows {
//	    fmt.Println(row["id"], row["status"])
//	}
//
// Typed fetches use a type parameter instead of runtime reflection by
// class name:
//
//	type Order struct {
//	    ID     int64  `db:"id"`
//	    Status string `db:"status"`
//	}
//
//	orders, err := dbx.Select[Order](ctx, stmt)
//
// A Statement is not safe for concurrent use: its execution and cursor
// state are not reentrant. Share Connections, not Statements.
package dbx
