package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeforge/orchestrator/internal/orcherr"
)

func TestEnvelopeCallSucceeds(t *testing.T) {
	e := NewEnvelope(NewRegistry(nil, nil))
	err := e.Call(context.Background(), "validator", time.Second, func(context.Context) error { return nil })
	require.NoError(t, err)
}

func TestEnvelopeCallRetriesTransientThenGivesUp(t *testing.T) {
	e := &Envelope{Breakers: NewRegistry(nil, nil), Retry: RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}}
	attempts := 0
	err := e.Call(context.Background(), "validator", time.Second, func(context.Context) error {
		attempts++
		return transientErr()
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestEnvelopeCallDoesNotRetryPermanentError(t *testing.T) {
	e := NewEnvelope(NewRegistry(nil, nil))
	attempts := 0
	permanent := orcherr.New("test", orcherr.KindPermanentBackend, "", "bad request", errors.New("bad"))
	err := e.Call(context.Background(), "codegen", time.Second, func(context.Context) error {
		attempts++
		return permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestEnvelopeCallTreatsDeadlineAsTransient(t *testing.T) {
	e := &Envelope{Breakers: NewRegistry(nil, nil), Retry: RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}}
	attempts := 0
	err := e.Call(context.Background(), "sandbox", 5*time.Millisecond, func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	kind, ok := orcherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindTransientBackend, kind)
}

func TestEnvelopeCallReturnsTransientWhenBreakerOpen(t *testing.T) {
	reg := NewRegistryWithDefaults(nil, nil, 1, time.Minute)
	e := &Envelope{Breakers: reg, Retry: RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond}}

	require.Error(t, e.Call(context.Background(), "memory", time.Second, func(context.Context) error { return transientErr() }))
	require.Equal(t, Open, reg.Get("memory").State())

	err := e.Call(context.Background(), "memory", time.Second, func(context.Context) error {
		t.Fatal("fn must not run while breaker is open")
		return nil
	})
	require.Error(t, err)
	kind, ok := orcherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, orcherr.KindTransientBackend, kind)
}
