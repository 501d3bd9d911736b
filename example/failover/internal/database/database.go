package database

import (
	"context"
	"log"

	"github.com/cozyframework/database/dbx"
	"github.com/cozyframework/database/example/failover/internal/config"
	"github.com/cozyframework/database/pool"
	_ "github.com/lib/pq" // Register postgres driver
	"github.com/prometheus/client_golang/prometheus"
)

// Cluster routes queries through a failover pool spanning the primary
// and replica databases.
type Cluster struct {
	Pool *pool.Pool
}

// New opens both candidate databases and seeds the failover pool.
// Open does not dial, so a candidate that is down at startup is fine:
// the pool probes liveness when a connection is first requested.
func New() (*Cluster, error) {
	primary, err := dbx.Open("postgres", config.PrimaryDSN,
		dbx.WithDBSystem(config.DBSystem),
		dbx.WithDBName(config.DBName),
		dbx.WithInstanceName("primary"),
	)
	if err != nil {
		return nil, err
	}

	replica, err := dbx.Open("postgres", config.ReplicaDSN,
		dbx.WithDBSystem(config.DBSystem),
		dbx.WithDBName(config.DBName),
		dbx.WithInstanceName("replica"),
	)
	if err != nil {
		return nil, err
	}

	p := pool.New()
	p.Add(config.PoolTag, primary, replica)

	// Expose db_pool_active and db_pool_candidates on /metrics
	if err := prometheus.Register(pool.NewCollector(p)); err != nil {
		log.Printf("Failed to register pool collector: %v", err)
	}

	return &Cluster{Pool: p}, nil
}

// Get returns the live connection for the demo tag, failing over to the
// next candidate when the cached one stops answering probes.
func (c *Cluster) Get(ctx context.Context) (*dbx.Connection, error) {
	return c.Pool.Get(ctx, config.PoolTag)
}

// Close releases the promoted connection and all remaining candidates.
func (c *Cluster) Close() error {
	return c.Pool.Close()
}
