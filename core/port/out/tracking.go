package out

import "collabiq/core/domain"

// CallOutcome is what a single provider call reports to the trackers.
type CallOutcome struct {
	Provider     string
	Success      bool
	LatencyMS    int64
	ErrorMessage string

	InputTokens  int
	OutputTokens int

	// Quality signals, only meaningful on success.
	OverallConfidence float64
	FieldConfidence   map[string]float64
	Completeness      float64
	ValidationOK      bool
}

// HealthTracker persists success/failure counts and rolling latency per
// provider (§4.4). Implementations must be safe for concurrent use — the
// orchestrator calls it from multiple in-flight provider goroutines.
type HealthTracker interface {
	Record(outcome CallOutcome)
	Get(provider string) domain.ProviderHealth
	All() map[string]domain.ProviderHealth
	SetCircuitState(provider string, state domain.CircuitState)
}

// CostTracker accumulates token usage and USD cost per provider.
type CostTracker interface {
	Record(provider string, inputTokens, outputTokens int, cfg domain.ProviderConfig)
	Get(provider string) domain.CostSummary
	All() map[string]domain.CostSummary
}

// QualityTracker accumulates rolling quality signals per provider and
// ranks providers for quality-based routing.
type QualityTracker interface {
	Record(provider string, outcome CallOutcome)
	Get(provider string) domain.QualityMetrics
	All() map[string]domain.QualityMetrics
	// RankedProviders returns enabled, healthy providers ordered by
	// descending value score, ties broken by lower priority then
	// lexicographic name (§9).
	RankedProviders(configs []domain.ProviderConfig, health map[string]domain.ProviderHealth) []string
}
