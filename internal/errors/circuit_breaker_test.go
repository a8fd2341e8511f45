package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
	}
}

func failTransient(context.Context) error {
	return NewTransientError(errors.New("service down"), "")
}

func succeed(context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", testBreakerConfig())

	require.Error(t, cb.Execute(context.Background(), failTransient))
	assert.Equal(t, StateClosed, cb.State())

	require.Error(t, cb.Execute(context.Background(), failTransient))
	assert.Equal(t, StateOpen, cb.State())

	// Requests are rejected without touching the function.
	calls := 0
	err := cb.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsDegraded(err))
	assert.Zero(t, calls)
}

func TestBreakerPermanentErrorsDoNotOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", testBreakerConfig())
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			return NewPermanentError(errors.New("bad request"), "")
		})
	}
	assert.Equal(t, StateClosed, cb.State(), "caller mistakes are not service failures")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", testBreakerConfig())
	_ = cb.Execute(context.Background(), failTransient)
	_ = cb.Execute(context.Background(), failTransient)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.State(), "success threshold closes the breaker")
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", testBreakerConfig())
	_ = cb.Execute(context.Background(), failTransient)
	_ = cb.Execute(context.Background(), failTransient)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	require.Error(t, cb.Execute(context.Background(), failTransient))
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker("test", testBreakerConfig())
	_ = cb.Execute(context.Background(), failTransient)
	_ = cb.Execute(context.Background(), failTransient)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Execute(context.Background(), succeed))
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	cfg := testBreakerConfig()
	cfg.OnStateChange = func(from, to CircuitState, name string) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	cb := NewCircuitBreaker("test", cfg)
	_ = cb.Execute(context.Background(), failTransient)
	_ = cb.Execute(context.Background(), failTransient)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestExecuteFunc(t *testing.T) {
	cb := NewCircuitBreaker("test", testBreakerConfig())

	got, err := ExecuteFunc(cb, context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
