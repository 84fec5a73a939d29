// Package resilience implements the Resilience Envelope (spec §4.2): retry
// with exponential backoff composed inside a per-endpoint circuit breaker.
// Grounded on the teacher's resilience/circuit_breaker.go state machine, but
// simplified from its error-rate/volume-threshold model to spec.md §4.2's
// literal "N consecutive failures" trigger and single-probe half-open
// admission — the spec's numbers are load-bearing (see DESIGN.md).
package resilience

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeforge/orchestrator/internal/logging"
)

// State is one of the three circuit breaker states (spec §4.2).
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// StateChangeListener is notified on every transition, for observability
// (spec §4.2: "Transitions emit events for observability").
type StateChangeListener func(endpoint string, from, to State)

// Config configures one breaker instance.
type Config struct {
	// Name identifies the protected endpoint (e.g. "validator", "codegen:gpt-4o").
	Name string
	// ConsecutiveFailureThreshold is the count of back-to-back failures in
	// Closed that trips to Open. Spec §4.2 default: 5.
	ConsecutiveFailureThreshold int
	// SleepWindow is how long Open rejects calls before trying HalfOpen.
	// Spec §4.2 default: 30s.
	SleepWindow time.Duration
	Logger      logging.Logger
	OnChange    StateChangeListener
}

// DefaultConfig returns spec.md §4.2's defaults for name.
func DefaultConfig(name string) Config {
	return Config{
		Name:                        name,
		ConsecutiveFailureThreshold: 5,
		SleepWindow:                 30 * time.Second,
		Logger:                      logging.NoOpLogger{},
	}
}

// ErrOpen is returned by Execute when the breaker is Open or when HalfOpen
// has already admitted its one probe.
var ErrOpen = fmt.Errorf("circuit breaker open")

// Breaker is a single per-endpoint circuit breaker.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probeInFlight   bool

	transitions int64 // atomic counter, exposed via Metrics for tests/observability
}

// New builds a Breaker. A zero Config.ConsecutiveFailureThreshold/SleepWindow
// is replaced with spec.md's defaults.
func New(cfg Config) *Breaker {
	if cfg.ConsecutiveFailureThreshold <= 0 {
		cfg.ConsecutiveFailureThreshold = 5
	}
	if cfg.SleepWindow <= 0 {
		cfg.SleepWindow = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the current state (for status endpoints and tests).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Transitions returns the number of state transitions observed so far.
func (b *Breaker) Transitions() int64 { return atomic.LoadInt64(&b.transitions) }

// allow decides whether a call may proceed, and if it may (HalfOpen probe),
// marks the probe as in-flight so a second concurrent caller is rejected.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if time.Since(b.openedAt) >= b.cfg.SleepWindow {
			b.setState(HalfOpen)
			b.probeInFlight = true
			return nil
		}
		return ErrOpen
	case HalfOpen:
		if b.probeInFlight {
			return ErrOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

func (b *Breaker) onResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.probeInFlight = false
		if err == nil {
			b.consecutiveFail = 0
			b.setState(Closed)
		} else {
			b.setState(Open)
			b.openedAt = time.Now()
		}
	case Closed:
		if err == nil {
			b.consecutiveFail = 0
			return
		}
		b.consecutiveFail++
		if b.consecutiveFail >= b.cfg.ConsecutiveFailureThreshold {
			b.setState(Open)
			b.openedAt = time.Now()
		}
	case Open:
		// A call that slipped through a race lost to the sleep window;
		// nothing to update beyond the shared openedAt.
	}
}

// setState must be called with b.mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	atomic.AddInt64(&b.transitions, 1)
	b.cfg.Logger.Info("circuit breaker transition", logging.Fields{
		"endpoint": b.cfg.Name, "from": from.String(), "to": to.String(),
	})
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(b.cfg.Name, from, to)
	}
}

// Execute runs fn if the breaker allows it, and records the outcome.
// ErrOpen is returned without calling fn when the breaker is tripped.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.onResult(err)
	return err
}

// ForceOpen/Reset support operational overrides and tests.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(Open)
	b.openedAt = time.Now()
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFail = 0
	b.probeInFlight = false
	b.setState(Closed)
}

// Registry keys breakers by endpoint name so every collaborator call site
// shares one breaker per endpoint, as spec §4.2 requires ("per remote
// endpoint").
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	logger    logging.Logger
	onChange  StateChangeListener
	threshold int
	window    time.Duration
}

// NewRegistry builds a Registry that creates every endpoint's breaker with
// spec.md §4.2's defaults (5 consecutive failures, 30s break).
func NewRegistry(logger logging.Logger, onChange StateChangeListener) *Registry {
	return NewRegistryWithDefaults(logger, onChange, 5, 30*time.Second)
}

// NewRegistryWithDefaults builds a Registry whose lazily-created breakers
// use threshold/window instead of spec.md's literal defaults, wiring
// §6.3's Resilience.CircuitBreakerThreshold/CircuitBreakerBreakDuration
// through to every endpoint.
func NewRegistryWithDefaults(logger logging.Logger, onChange StateChangeListener, threshold int, window time.Duration) *Registry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Registry{breakers: make(map[string]*Breaker), logger: logger, onChange: onChange, threshold: threshold, window: window}
}

// Get returns the breaker for endpoint, creating it with the registry's
// configured threshold/window on first use.
func (r *Registry) Get(endpoint string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[endpoint]; ok {
		return b
	}
	cfg := DefaultConfig(endpoint)
	cfg.ConsecutiveFailureThreshold = r.threshold
	cfg.SleepWindow = r.window
	cfg.Logger = r.logger
	cfg.OnChange = r.onChange
	b := New(cfg)
	r.breakers[endpoint] = b
	return b
}
