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

func transientErr() error {
	return orcherr.New("test", orcherr.KindTransientBackend, "", "boom", errors.New("boom"))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "svc", ConsecutiveFailureThreshold: 3, SleepWindow: time.Minute})

	for i := 0; i < 2; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return transientErr() })
		require.Error(t, err)
		assert.Equal(t, Closed, b.State())
	}

	err := b.Execute(context.Background(), func(context.Context) error { return transientErr() })
	require.Error(t, err)
	assert.Equal(t, Open, b.State())
}

func TestBreakerOpenRejectsWithoutCallingFn(t *testing.T) {
	b := New(Config{Name: "svc", ConsecutiveFailureThreshold: 1, SleepWindow: time.Minute})
	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return transientErr() }))
	require.Equal(t, Open, b.State())

	called := false
	err := b.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "Execute must not invoke fn while Open")
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	b := New(Config{Name: "svc", ConsecutiveFailureThreshold: 1, SleepWindow: 10 * time.Millisecond})
	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return transientErr() }))
	require.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)

	blocked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(blocked)
			<-release
			return nil
		})
	}()
	<-blocked

	// A second caller arriving while the probe is in flight must be rejected.
	err := b.Execute(context.Background(), func(context.Context) error {
		t.Fatal("second concurrent call must not run during half-open probe")
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)

	close(release)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{Name: "svc", ConsecutiveFailureThreshold: 1, SleepWindow: 10 * time.Millisecond})
	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return transientErr() }))
	time.Sleep(20 * time.Millisecond)

	err := b.Execute(context.Background(), func(context.Context) error { return transientErr() })
	require.Error(t, err)
	assert.Equal(t, Open, b.State())
}

func TestBreakerSuccessResetsConsecutiveCount(t *testing.T) {
	b := New(Config{Name: "svc", ConsecutiveFailureThreshold: 2, SleepWindow: time.Minute})
	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return transientErr() }))
	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return transientErr() }))
	assert.Equal(t, Closed, b.State(), "a success between failures must reset the streak")
}

func TestRegistryKeysBreakersByEndpoint(t *testing.T) {
	var transitions []string
	r := NewRegistryWithDefaults(nil, func(endpoint string, from, to State) {
		transitions = append(transitions, endpoint+":"+to.String())
	}, 1, time.Minute)

	a := r.Get("validator")
	require.Same(t, a, r.Get("validator"))
	other := r.Get("codegen:gpt-4o")
	assert.NotSame(t, a, other)

	require.Error(t, a.Execute(context.Background(), func(context.Context) error { return transientErr() }))
	assert.Contains(t, transitions, "validator:open")
}
