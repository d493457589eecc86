// Package llmhealth implements the per-provider health, cost, and quality
// trackers (C4): in-memory state guarded by a mutex, persisted to JSON
// atomically on every update. Each tracker is an explicit,
// dependency-injected object owned by the daemon controller — no package
// singletons — per §9's redesign note on global singleton state.
package llmhealth

import (
	"sync"
	"time"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/internal/atomicfile"
)

// ewmaAlpha is the EWMA smoothing factor for rolling latency (§9 open
// question, resolved to 0.2 absent a product-owner decision).
const ewmaAlpha = 0.2

// HealthTracker persists per-provider success/failure/latency state.
type HealthTracker struct {
	mu     sync.Mutex
	path   string
	byName map[string]*domain.ProviderHealth
}

// NewHealthTracker loads any existing state at path, or starts empty.
func NewHealthTracker(path string) *HealthTracker {
	t := &HealthTracker{path: path, byName: make(map[string]*domain.ProviderHealth)}
	var snapshot map[string]domain.ProviderHealth
	if err := atomicfile.ReadJSON(path, &snapshot); err == nil {
		for name, h := range snapshot {
			h := h
			t.byName[name] = &h
		}
	}
	return t
}

func (t *HealthTracker) entry(name string) *domain.ProviderHealth {
	h, ok := t.byName[name]
	if !ok {
		h = &domain.ProviderHealth{ProviderName: name, CircuitState: domain.CircuitClosed}
		t.byName[name] = h
	}
	return h
}

// Record updates the provider's counters from one completed call.
func (t *HealthTracker) Record(outcome out.CallOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(outcome.Provider)
	now := time.Now()

	if outcome.Success {
		h.SuccessCount++
		h.ConsecutiveFailures = 0 // I3
		h.LastSuccessAt = &now
	} else {
		h.FailureCount++
		h.ConsecutiveFailures++
		h.LastFailureAt = &now
		h.LastError = truncate(outcome.ErrorMessage, 500)
	}

	h.TotalLatencyMS += outcome.LatencyMS
	h.SampleCount++
	if h.SampleCount == 1 {
		h.AvgLatencyMS = float64(outcome.LatencyMS)
	} else {
		h.AvgLatencyMS = ewmaAlpha*float64(outcome.LatencyMS) + (1-ewmaAlpha)*h.AvgLatencyMS
	}

	t.persistLocked()
}

// SetCircuitState records the breaker's current state for the status CLI.
func (t *HealthTracker) SetCircuitState(provider string, state domain.CircuitState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry(provider).CircuitState = state
	t.persistLocked()
}

// Get returns a snapshot of one provider's health.
func (t *HealthTracker) Get(provider string) domain.ProviderHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.entry(provider)
}

// All returns a snapshot of every tracked provider's health.
func (t *HealthTracker) All() map[string]domain.ProviderHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]domain.ProviderHealth, len(t.byName))
	for name, h := range t.byName {
		out[name] = *h
	}
	return out
}

func (t *HealthTracker) persistLocked() {
	snapshot := make(map[string]domain.ProviderHealth, len(t.byName))
	for name, h := range t.byName {
		snapshot[name] = *h
	}
	_ = atomicfile.WriteJSON(t.path, snapshot)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
