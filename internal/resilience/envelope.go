package resilience

import (
	"context"
	"time"

	"github.com/codeforge/orchestrator/internal/orcherr"
)

// Endpoint default timeouts (spec §4.2).
const (
	ThinkerTimeout   = 30 * time.Second
	CodeGenTimeout   = 120 * time.Second
	ValidatorTimeout = 120 * time.Second
	SandboxTimeout   = 180 * time.Second
	MemoryTimeout    = 30 * time.Second
)

// Envelope is the Resilience Envelope of spec §4.2: every external call goes
// through Call, which applies a deadline, retries transient failures with
// exponential backoff, and runs the attempt through the endpoint's circuit
// breaker.
type Envelope struct {
	Breakers *Registry
	Retry    RetryConfig
}

// NewEnvelope builds an Envelope with spec.md's default retry policy.
func NewEnvelope(breakers *Registry) *Envelope {
	return &Envelope{Breakers: breakers, Retry: DefaultRetryConfig()}
}

// Call wraps fn with a per-call deadline, retry, and the endpoint's circuit
// breaker. fn should return an *orcherr.Error classified as
// TransientBackendError for retry-eligible failures and
// PermanentBackendError otherwise; Call does not reclassify fn's errors
// (spec: "Deadline expiry counts as transient for retry").
func (e *Envelope) Call(ctx context.Context, endpoint string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	breaker := e.Breakers.Get(endpoint)
	err := RetryWithBreaker(ctx, e.Retry, breaker, func(ctx context.Context) error {
		callErr := fn(ctx)
		if callErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Deadline expiry counts as transient (spec §4.2).
			return orcherr.New("resilience.Call", orcherr.KindTransientBackend, "", "deadline exceeded", ctx.Err())
		}
		return callErr
	})
	if err == ErrOpen {
		return orcherr.New("resilience.Call", orcherr.KindTransientBackend, "", "circuit breaker open for "+endpoint, err)
	}
	return err
}
