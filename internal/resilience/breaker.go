// Package resilience provides the fault-tolerance layer shared by every
// outbound call the pipeline makes: a per-service circuit breaker (this
// file) and a bounded-exponential-backoff retry policy (retry.go).
package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"collabiq/internal/apperr"
)

// State is the circuit breaker state.
type State int32

const (
	StateClosed   State = iota // normal operation, requests pass through
	StateOpen                  // failing fast
	StateHalfOpen               // probing for recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the thresholds for one breaker. Defaults match §3's
// "Circuit breaker state" table.
type Config struct {
	Name               string
	FailureThreshold   int           // consecutive failures before opening
	SuccessThreshold   int           // consecutive half-open successes before closing
	Cooldown           time.Duration // time in open before probing half-open
	MaxHalfOpenRequest int           // concurrent probes allowed in half-open
}

// DefaultConfig returns the spec's default breaker thresholds
// (failure_threshold=5, success_threshold=2, cooldown_ms=60000).
func DefaultConfig(name string) Config {
	return Config{
		Name:               name,
		FailureThreshold:   5,
		SuccessThreshold:   2,
		Cooldown:           60 * time.Second,
		MaxHalfOpenRequest: 1,
	}
}

// SecretsConfig returns the tighter thresholds the spec calls out for the
// secrets service (failure_threshold=3, cooldown_ms=30000).
func SecretsConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.FailureThreshold = 3
	cfg.Cooldown = 30 * time.Second
	return cfg
}

// Breaker is a single per-service circuit breaker. It is in-process only
// — never persisted — so a restart legitimately resets it (per §4.2).
type Breaker struct {
	cfg Config

	state            int32 // atomic State
	failureCount     int32 // atomic
	successCount     int32 // atomic
	halfOpenRequests int32 // atomic

	mu              sync.RWMutex
	lastFailureTime time.Time
	openSince       time.Time

	onStateChange func(name string, from, to State)
}

// New creates a breaker with the given config. A zero-value Config name
// falls back to "default".
func New(cfg Config) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.MaxHalfOpenRequest == 0 {
		cfg.MaxHalfOpenRequest = 1
	}
	return &Breaker{cfg: cfg, state: int32(StateClosed)}
}

// OnStateChange registers a callback invoked on every state transition.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// State returns the current state, lazily transitioning open->half-open
// if the cooldown has elapsed (transitions are decided at check time, per
// §4.2).
func (b *Breaker) State() State {
	cur := State(atomic.LoadInt32(&b.state))
	if cur != StateOpen {
		return cur
	}
	b.mu.RLock()
	lastFailure := b.lastFailureTime
	b.mu.RUnlock()
	if time.Since(lastFailure) >= b.cfg.Cooldown {
		b.setState(StateHalfOpen)
		atomic.StoreInt32(&b.halfOpenRequests, 0)
		atomic.StoreInt32(&b.successCount, 0)
		return StateHalfOpen
	}
	return StateOpen
}

// Name returns the breaker's service/provider key.
func (b *Breaker) Name() string { return b.cfg.Name }

// Allow reports whether a call should be permitted. In closed and
// half-open (up to MaxHalfOpenRequest probes) it returns true; in open,
// before cooldown, it returns false.
func (b *Breaker) Allow() bool {
	switch b.State() {
	case StateClosed:
		return true
	case StateHalfOpen:
		current := atomic.AddInt32(&b.halfOpenRequests, 1)
		if int(current) > b.cfg.MaxHalfOpenRequest {
			atomic.AddInt32(&b.halfOpenRequests, -1)
			return false
		}
		return true
	default: // StateOpen
		return false
	}
}

// Execute runs fn under breaker protection: if Allow() denies the call, a
// classified Transient apperr.ErrCircuitOpen-shaped error is returned
// without invoking fn (avoiding a thundering herd); otherwise fn runs and
// its outcome updates the breaker.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return apperr.NewTransient(b.cfg.Name, "circuit breaker is open", nil)
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

// RecordSuccess resets the failure count (I3: consecutive_failures resets
// to 0 on success) and, in half-open, advances toward closing.
func (b *Breaker) RecordSuccess() {
	state := b.State()
	atomic.StoreInt32(&b.failureCount, 0)

	if state == StateHalfOpen {
		atomic.AddInt32(&b.halfOpenRequests, -1)
		successes := atomic.AddInt32(&b.successCount, 1)
		if int(successes) >= b.cfg.SuccessThreshold {
			b.setState(StateClosed)
		}
	}
}

// RecordFailure updates failure counters and may transition the breaker.
// The only transition into open is consecutive_failures >= threshold (I3).
func (b *Breaker) RecordFailure() {
	state := b.State()

	b.mu.Lock()
	b.lastFailureTime = time.Now()
	b.mu.Unlock()

	atomic.StoreInt32(&b.successCount, 0)

	switch state {
	case StateClosed:
		failures := atomic.AddInt32(&b.failureCount, 1)
		if int(failures) >= b.cfg.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		atomic.AddInt32(&b.halfOpenRequests, -1)
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(newState State) {
	oldState := State(atomic.SwapInt32(&b.state, int32(newState)))
	if oldState == newState {
		return
	}

	atomic.StoreInt32(&b.failureCount, 0)
	atomic.StoreInt32(&b.successCount, 0)

	if newState == StateOpen {
		b.mu.Lock()
		b.openSince = time.Now()
		b.mu.Unlock()
	}

	b.mu.RLock()
	cb := b.onStateChange
	b.mu.RUnlock()
	if cb != nil {
		cb(b.cfg.Name, oldState, newState)
	}
}

// Reset forces the breaker back to closed, e.g. for tests.
func (b *Breaker) Reset() {
	b.setState(StateClosed)
	atomic.StoreInt32(&b.failureCount, 0)
	atomic.StoreInt32(&b.successCount, 0)
	atomic.StoreInt32(&b.halfOpenRequests, 0)
}

// Stats is a point-in-time snapshot of one breaker's state and counters.
type Stats struct {
	Name            string
	State           string
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
	OpenSince       time.Time
}

func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	lastFailure := b.lastFailureTime
	openSince := b.openSince
	b.mu.RUnlock()

	return Stats{
		Name:            b.cfg.Name,
		State:           b.State().String(),
		FailureCount:    int(atomic.LoadInt32(&b.failureCount)),
		SuccessCount:    int(atomic.LoadInt32(&b.successCount)),
		LastFailureTime: lastFailure,
		OpenSince:       openSince,
	}
}

// Registry owns one Breaker per service key (e.g. "mail", "llm.openai",
// "workspace", "secrets"), creating it lazily with the right defaults —
// secrets gets the tighter SecretsConfig, everything else DefaultConfig.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b
	}

	var cfg Config
	if key == "secrets" {
		cfg = SecretsConfig(key)
	} else {
		cfg = DefaultConfig(key)
	}
	b := New(cfg)
	r.breakers[key] = b
	return b
}

// All returns a snapshot of every breaker's stats, keyed by service name.
func (r *Registry) All() map[string]Stats {
	r.mu.Lock()
	keys := make([]string, 0, len(r.breakers))
	breakers := make([]*Breaker, 0, len(r.breakers))
	for k, b := range r.breakers {
		keys = append(keys, k)
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(keys))
	for i, k := range keys {
		out[k] = breakers[i].Stats()
	}
	return out
}
