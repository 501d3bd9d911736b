// Package pool provides a tag-based failover pool over dbx connections.
//
// Connections are registered under tags ("main", "replica", ...) and a
// lookup for a tag returns a connection that probed alive, remembering
// the winner so the failover cost is paid once per cold lookup.
//
// # Features
//
//   - Named connection groups with a cached last-known-good connection
//   - Fresh liveness probe on every lookup, cached or not
//   - Sequential (primary-then-replica) or random (load-spreading)
//     candidate ordering
//   - Dead candidates are discarded, closed and never retried
//   - OpenTelemetry tracing and metrics for lookups, plus an optional
//     Prometheus collector for pool state
//
// # Quick Start
//
// Register candidates and let the pool pick a live one:
//
//	primary, _ := dbx.Open("postgres", primaryDSN, dbx.WithInstanceName("primary"))
//	replica, _ := dbx.Open("postgres", replicaDSN, dbx.WithInstanceName("replica-1"))
//
//	p := pool.New()
//	p.Add(pool.DefaultTag, primary, replica)
//	defer p.Close()
//
//	conn, err := p.Get(ctx, pool.DefaultTag)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stmt, err := conn.Prepare(ctx, "SELECT id, name FROM users")
//
// # Failover Semantics
//
// Get re-probes the cached connection first and returns it while it
// stays alive. Once it goes dead the remaining candidates are probed in
// selection order; the first live one is promoted and the dead ones are
// discarded for the lifetime of the pool. A tag with no registered
// candidates fails with dbx.CodeNoCandidates, a tag whose every
// candidate is dead fails with dbx.CodeNoLiveConnection, so callers can
// tell misconfiguration from an outage.
package pool
