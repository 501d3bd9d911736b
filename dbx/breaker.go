package dbx

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisBreakerStore creates a SharedDataStore backed by Redis for
// distributed circuit breaking. This uses the official
// sony/gobreaker/v2/redis implementation.
//
// Usage:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	store := dbx.NewRedisBreakerStore(rdb)
func NewRedisBreakerStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// CircuitBreaker is the interface statement execution runs through when
// a breaker is configured. It matches the gobreaker signature.
type CircuitBreaker interface {
	Execute(req func() (any, error)) (any, error)
}

// BreakerClassifier determines whether an execution failure should
// contribute to the breaker trip count. Returns true for system
// failures (dead host, network error), false for errors tripping the
// breaker would not help with (bad SQL, constraint violations).
type BreakerClassifier func(err error) bool

// BreakerConfig holds the configuration for the execution circuit
// breaker.
//
// Concepts:
//   - Closed: Normal state, executions allowed.
//   - Open: Failing state, executions rejected immediately with
//     gobreaker.ErrOpenState.
//   - Half-Open: Probing state, limited executions allowed to test
//     recovery.
type BreakerConfig struct {
	// MaxRequests is the maximum number of executions allowed to pass
	// through when the breaker is half-open. If 0, one is allowed.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for the breaker
	// to clear its internal counts. If 0, counts are never cleared while
	// closed.
	Interval time.Duration

	// Timeout is the period of the open state, after which the breaker
	// becomes half-open.
	Timeout time.Duration

	// FailureThreshold is the minimum number of executions needed before
	// the circuit can trip on failure ratio.
	FailureThreshold uint32

	// FailureRatio is the failure ratio (0.0 - 1.0) that trips the
	// circuit.
	FailureRatio float64

	// ConsecutiveFailures trips the circuit after this many sequential
	// failures. If 0, this rule is disabled.
	ConsecutiveFailures uint32

	// Store is the shared data store for distributed circuit breaking.
	// If nil, the breaker is local (in-memory).
	Store gobreaker.SharedDataStore

	// Classifier determines which errors count as failures.
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier

	// OnStateChange is invoked when the breaker state changes.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns a safe default configuration for a local
// (in-memory) circuit breaker.
//
// Defaults:
//   - Interval: 10s
//   - Timeout: 10s (fail fast, recover fast)
//   - FailureThreshold: 20 (minimum executions before ratio applies)
//   - FailureRatio: 0.5
//   - ConsecutiveFailures: 5
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig returns a configuration for a distributed
// circuit breaker backed by a shared store. When one instance trips the
// breaker, every instance sharing the store stops executing against the
// failing database.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts network-level failures and leaves
// statement-level failures alone. A syntax error or constraint
// violation says nothing about database health, so it must not open the
// circuit; library configuration errors (CZ* codes) never reach the
// breaker in the first place.
func DefaultBreakerClassifier(err error) bool {
	if err == nil {
		return false
	}

	if isNetworkError(err) {
		return true
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	return false
}

// isNetworkError checks for common network errors.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	return false
}

// newBreaker builds the gobreaker instance for a connection. Returns
// nil when no breaker is configured.
func newBreaker(name string, bc *BreakerConfig) CircuitBreaker {
	if bc == nil {
		return nil
	}

	classifier := bc.Classifier
	if classifier == nil {
		classifier = DefaultBreakerClassifier
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		// Only classified failures count against the breaker; bad SQL
		// still returns its error but does not open the circuit.
		IsSuccessful: func(err error) bool {
			return !classifier(err)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if bc.ConsecutiveFailures > 0 &&
				counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
				return true
			}
			// The threshold gates the ratio rule so a single early
			// failure cannot trip a barely-used breaker.
			if bc.FailureThreshold > 0 && counts.Requests < bc.FailureThreshold {
				return false
			}
			if bc.FailureRatio > 0 && counts.TotalFailures > 0 {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= bc.FailureRatio
			}
			return false
		},
		OnStateChange: bc.OnStateChange,
	}

	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[any](bc.Store, st)
		if err == nil {
			return dcb
		}
		// Fall back to a local breaker when the store is unusable.
	}

	return gobreaker.NewCircuitBreaker[any](st)
}
