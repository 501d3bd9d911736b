package pool

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cozyframework/database/dbx"
)

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("pool is closed")

// Pool selects among pre-configured connections by tag, remembering the
// last connection that probed alive per tag. All methods are safe for
// concurrent use; the probe-and-promote sequence runs under one lock so
// two callers cannot promote different connections for the same tag.
//
// Statements prepared on a returned connection are not reentrant; share
// the Pool, not a Statement.
type Pool struct {
	cfg *config

	mu         sync.Mutex
	candidates map[string][]*dbx.Connection
	active     map[string]*dbx.Connection
	closed     bool
}

// New creates an empty pool. Register candidates with Add.
func New(opts ...Option) *Pool {
	return &Pool{
		cfg:        newConfig(opts...),
		candidates: make(map[string][]*dbx.Connection),
		active:     make(map[string]*dbx.Connection),
	}
}

// Add registers candidate connections under tag, appending to any
// already registered. No liveness check happens at add time. The empty
// tag means DefaultTag. Adding to a closed pool is a no-op.
func (p *Pool) Add(tag string, conns ...*dbx.Connection) {
	if tag == "" {
		tag = DefaultTag
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for _, conn := range conns {
		if conn == nil {
			continue
		}
		p.candidates[tag] = append(p.candidates[tag], conn)
	}
}

// Get returns a live connection for tag. The cached connection is
// re-probed first and returned while it stays alive; otherwise the
// remaining candidates are probed in selection order and the first live
// one is promoted. Probe failures never surface as errors, only as
// discarded candidates. The empty tag means DefaultTag.
//
// A tag with no registered candidates fails with dbx.CodeNoCandidates;
// a tag whose every candidate is dead fails with
// dbx.CodeNoLiveConnection.
func (p *Pool) Get(ctx context.Context, tag string) (*dbx.Connection, error) {
	if tag == "" {
		tag = DefaultTag
	}

	start := time.Now()
	ctx, span := p.cfg.Tracer.Start(ctx, "pool.Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("pool.tag", tag)),
	)
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	conn, status, err := p.lookup(ctx, tag)
	p.cfg.Metrics.recordLookup(ctx, time.Since(start), tag, status)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("pool.status", status))
	return conn, nil
}

// lookup runs the check-cache, probe, promote sequence. The caller
// holds p.mu.
func (p *Pool) lookup(ctx context.Context, tag string) (*dbx.Connection, string, error) {
	if p.closed {
		return nil, lookupError, ErrClosed
	}

	// A cached connection is only trusted after a fresh probe.
	if cached, ok := p.active[tag]; ok {
		if cached.IsAlive(ctx) {
			return cached, lookupCached, nil
		}
		delete(p.active, tag)
		p.cfg.Logger.Warn().
			Str("pool_tag", tag).
			Str("conn_id", cached.ID()).
			Msg("cached connection went dead")
		p.discard(ctx, tag, cached)
	}

	if len(p.candidates[tag]) == 0 {
		return nil, lookupError, dbx.NewError(dbx.CodeNoCandidates,
			"no connections configured for tag %q", tag)
	}

	if p.cfg.Mode == Random {
		remaining := p.candidates[tag]
		rand.Shuffle(len(remaining), func(i, j int) {
			remaining[i], remaining[j] = remaining[j], remaining[i]
		})
	}

	// Candidates are consumed as they are tried: one that fails its
	// probe is assumed down for the lifetime of this pool.
	for len(p.candidates[tag]) > 0 {
		candidate := p.candidates[tag][0]
		p.candidates[tag] = p.candidates[tag][1:]

		if candidate.IsAlive(ctx) {
			p.active[tag] = candidate
			p.cfg.Logger.Info().
				Str("pool_tag", tag).
				Str("conn_id", candidate.ID()).
				Int("candidates_left", len(p.candidates[tag])).
				Msg("connection promoted")
			return candidate, lookupPromoted, nil
		}

		p.cfg.Logger.Warn().
			Str("pool_tag", tag).
			Str("conn_id", candidate.ID()).
			Msg("candidate failed probe")
		p.discard(ctx, tag, candidate)
	}

	return nil, lookupError, dbx.NewError(dbx.CodeNoLiveConnection,
		"no live connection for tag %q", tag)
}

// discard drops a dead connection for good, closing it so its driver
// pool does not linger.
func (p *Pool) discard(ctx context.Context, tag string, conn *dbx.Connection) {
	p.cfg.Metrics.recordDiscard(ctx, tag)
	if err := conn.Close(); err != nil {
		p.cfg.Logger.Debug().
			Err(err).
			Str("pool_tag", tag).
			Str("conn_id", conn.ID()).
			Msg("closing dead connection")
	}
}

// Tags returns the sorted set of known tags.
func (p *Pool) Tags() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]struct{}, len(p.candidates)+len(p.active))
	for tag := range p.candidates {
		seen[tag] = struct{}{}
	}
	for tag := range p.active {
		seen[tag] = struct{}{}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Stats is a point-in-time snapshot of one tag's state.
type Stats struct {
	// Candidates is the number of connections not yet tried.
	Candidates int

	// Active reports whether a last-known-good connection is cached.
	Active bool

	// ActiveID is the cached connection's ID, if any.
	ActiveID string
}

// Stats returns a snapshot per tag.
func (p *Pool) Stats() map[string]Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Stats, len(p.candidates)+len(p.active))
	for tag, list := range p.candidates {
		s := out[tag]
		s.Candidates = len(list)
		out[tag] = s
	}
	for tag, conn := range p.active {
		s := out[tag]
		s.Active = true
		s.ActiveID = conn.ID()
		out[tag] = s
	}
	return out
}

// Close closes every connection still held by the pool, cached and
// candidate alike, and marks the pool closed. Further Get calls fail
// with ErrClosed. Connections discarded by earlier failed probes were
// closed at discard time.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, conn := range p.active {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, list := range p.candidates {
		for _, conn := range list {
			if err := conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	p.active = make(map[string]*dbx.Connection)
	p.candidates = make(map[string][]*dbx.Connection)
	return errors.Join(errs...)
}
