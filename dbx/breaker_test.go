package dbx

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type NetError struct {
	Msg string
}

func (e *NetError) Error() string   { return e.Msg }
func (e *NetError) Timeout() bool   { return false }
func (e *NetError) Temporary() bool { return false }

func TestDefaultBreakerConfig(t *testing.T) {
	cfg := DefaultBreakerConfig()
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, uint32(20), cfg.FailureThreshold)
	assert.InEpsilon(t, 0.5, cfg.FailureRatio, 0.001)
	assert.Equal(t, uint32(5), cfg.ConsecutiveFailures)
	assert.Nil(t, cfg.Store)
	assert.NotNil(t, cfg.Classifier)
}

func TestDistributedBreakerConfig(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisBreakerStore(rdb)

	cfg := DistributedBreakerConfig(store)

	assert.Equal(t, store, cfg.Store)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, uint32(5), cfg.ConsecutiveFailures)
}

func TestDefaultBreakerClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "given nil error, then not a failure",
			err:  nil,
			want: false,
		},
		{
			name: "given network error, then failure",
			err:  &NetError{Msg: "network error"},
			want: true,
		},
		{
			name: "given wrapped network error, then failure",
			err:  fmt.Errorf("query: %w", &NetError{Msg: "network error"}),
			want: true,
		},
		{
			name: "given connection refused, then failure",
			err:  fmt.Errorf("dial: %w", syscall.ECONNREFUSED),
			want: true,
		},
		{
			name: "given connection reset, then failure",
			err:  fmt.Errorf("read: %w", syscall.ECONNRESET),
			want: true,
		},
		{
			name: "given bad connection, then failure",
			err:  fmt.Errorf("exec: %w", driver.ErrBadConn),
			want: true,
		},
		{
			name: "given connection done, then failure",
			err:  sql.ErrConnDone,
			want: true,
		},
		{
			name: "given plain statement error, then not a failure",
			err:  assert.AnError,
			want: false,
		},
		{
			name: "given library configuration error, then not a failure",
			err:  NewError(CodeBadParameter, "no placeholder at position 3"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultBreakerClassifier(tt.err))
		})
	}
}

func TestNewBreaker(t *testing.T) {
	t.Run("given nil config, then no breaker", func(t *testing.T) {
		assert.Nil(t, newBreaker("test", nil))
	})

	t.Run("given consecutive failures, then the circuit opens", func(t *testing.T) {
		cb := newBreaker("test", &BreakerConfig{
			MaxRequests:         1,
			Timeout:             time.Minute,
			ConsecutiveFailures: 2,
		})
		require.NotNil(t, cb)

		for i := 0; i < 2; i++ {
			_, err := cb.Execute(func() (any, error) {
				return nil, &NetError{Msg: "network error"}
			})
			require.Error(t, err)
		}

		called := false
		_, err := cb.Execute(func() (any, error) {
			called = true
			return nil, nil
		})

		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.False(t, called)
	})

	t.Run("given failure ratio past the threshold, then the circuit opens", func(t *testing.T) {
		cb := newBreaker("test", &BreakerConfig{
			MaxRequests:      1,
			Timeout:          time.Minute,
			FailureThreshold: 4,
			FailureRatio:     0.5,
		})

		fail := func() (any, error) { return nil, &NetError{Msg: "network error"} }
		succeed := func() (any, error) { return "ok", nil }

		for _, fn := range []func() (any, error){fail, succeed, fail, succeed, fail} {
			cb.Execute(fn)
		}

		_, err := cb.Execute(succeed)

		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	})

	t.Run("given unclassified errors, then the circuit stays closed", func(t *testing.T) {
		cb := newBreaker("test", &BreakerConfig{
			MaxRequests:         1,
			Timeout:             time.Minute,
			ConsecutiveFailures: 2,
		})

		for i := 0; i < 5; i++ {
			_, err := cb.Execute(func() (any, error) {
				return nil, assert.AnError
			})
			assert.ErrorIs(t, err, assert.AnError)
		}

		called := false
		_, err := cb.Execute(func() (any, error) {
			called = true
			return nil, nil
		})

		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("given a shared store, then breaker state is distributed", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

		cb := newBreaker("test-distributed", &BreakerConfig{
			MaxRequests:         1,
			Timeout:             time.Minute,
			ConsecutiveFailures: 2,
			Store:               NewRedisBreakerStore(rdb),
		})
		require.NotNil(t, cb)

		res, err := cb.Execute(func() (any, error) { return "ok", nil })
		require.NoError(t, err)
		assert.Equal(t, "ok", res)

		for i := 0; i < 2; i++ {
			cb.Execute(func() (any, error) {
				return nil, &NetError{Msg: "network error"}
			})
		}

		_, err = cb.Execute(func() (any, error) { return nil, nil })

		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	})
}

func TestStatement_Breaker(t *testing.T) {
	t.Run("given repeated network failures, then execution short-circuits", func(t *testing.T) {
		conn, mock := newTestConn(t, WithBreaker(BreakerConfig{
			MaxRequests:         1,
			Timeout:             time.Minute,
			ConsecutiveFailures: 2,
		}))
		mock.ExpectPrepare("SELECT id FROM users")
		mock.ExpectQuery("SELECT id FROM users").
			WillReturnError(&NetError{Msg: "connection reset"})
		mock.ExpectQuery("SELECT id FROM users").
			WillReturnError(&NetError{Msg: "connection reset"})

		stmt, err := conn.Prepare(context.Background(), "SELECT id FROM users")
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			require.Error(t, stmt.Execute(context.Background()))
		}

		// The circuit is open now: no expectation backs this call, so a
		// pass-through would fail the mock.
		err = stmt.Execute(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("given statement errors, then the breaker lets them through", func(t *testing.T) {
		conn, mock := newTestConn(t, WithBreaker(BreakerConfig{
			MaxRequests:         1,
			Timeout:             time.Minute,
			ConsecutiveFailures: 2,
		}))
		mock.ExpectPrepare("SELECT id FROM users")
		for i := 0; i < 3; i++ {
			mock.ExpectQuery("SELECT id FROM users").WillReturnError(assert.AnError)
		}
		mock.ExpectQuery("SELECT id FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

		stmt, err := conn.Prepare(context.Background(), "SELECT id FROM users")
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			require.Error(t, stmt.Execute(context.Background()))
		}

		require.NoError(t, stmt.Execute(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
