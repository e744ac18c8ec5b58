package fulfill

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []CircuitBreakerState
	cb := NewDefaultCircuitBreaker(2, time.Minute, func(s CircuitBreakerState) {
		transitions = append(transitions, s)
	})
	boom := errors.New("unreachable")

	assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []CircuitBreakerState{StateOpen}, transitions)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	cb := NewDefaultCircuitBreaker(1, time.Second, nil)
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewDefaultCircuitBreaker(1, time.Second, nil)
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(context.Background(), func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_FailureFilter(t *testing.T) {
	notCounted := errors.New("expected")
	cb := NewDefaultCircuitBreaker(1, time.Minute, nil).WithFailureFilter(func(err error) bool {
		return !errors.Is(err, notCounted)
	})

	assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return notCounted }), notCounted)
	assert.Equal(t, StateClosed, cb.State())
}
