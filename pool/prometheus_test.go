package pool

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Describe(t *testing.T) {
	c := NewCollector(New())

	ch := make(chan *prometheus.Desc, 4)
	c.Describe(ch)
	close(ch)

	var descs []*prometheus.Desc
	for d := range ch {
		descs = append(descs, d)
	}
	assert.Len(t, descs, 2)
}

func TestCollector_Collect(t *testing.T) {
	c1, m1 := newPoolConn(t)
	c2, _ := newPoolConn(t)

	p := New()
	defer p.Close()
	p.Add("main", c1, c2)

	collector := NewCollector(p)

	err := testutil.CollectAndCompare(collector, strings.NewReader(`
# HELP db_pool_active Whether a live connection is cached for the tag (0 or 1).
# TYPE db_pool_active gauge
db_pool_active{tag="main"} 0
# HELP db_pool_candidates Candidate connections not yet tried, per tag.
# TYPE db_pool_candidates gauge
db_pool_candidates{tag="main"} 2
`))
	require.NoError(t, err)

	// Promote one connection and scrape again.
	expectAlive(m1)
	_, err = p.Get(context.Background(), "main")
	require.NoError(t, err)

	err = testutil.CollectAndCompare(collector, strings.NewReader(`
# HELP db_pool_active Whether a live connection is cached for the tag (0 or 1).
# TYPE db_pool_active gauge
db_pool_active{tag="main"} 1
# HELP db_pool_candidates Candidate connections not yet tried, per tag.
# TYPE db_pool_candidates gauge
db_pool_candidates{tag="main"} 1
`))
	require.NoError(t, err)
}

func TestCollector_RegisterScrape(t *testing.T) {
	p := New()
	defer p.Close()

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(p)))

	// An empty pool exposes no series but must still scrape cleanly.
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}
