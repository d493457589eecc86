package domain

import "time"

// ProviderConfig is one LLM provider's static configuration (§3).
type ProviderConfig struct {
	Name               string
	ModelID            string
	Enabled            bool
	Priority           int // unique, lower = higher priority
	TimeoutMS          int
	MaxRetries         int
	InputPricePerMTok  float64
	OutputPricePerMTok float64
}

// CircuitState mirrors resilience.State as a plain string for persistence
// and API surfaces that shouldn't import the resilience package directly.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// ProviderHealth is the persisted health record for one LLM provider (§3,
// §4.4). SuccessRate and IsHealthy are derived on read, not stored.
type ProviderHealth struct {
	ProviderName        string
	SuccessCount        int64
	FailureCount        int64
	ConsecutiveFailures int64
	AvgLatencyMS        float64 // EWMA, alpha=0.2 by default (§9 open question)
	TotalLatencyMS      int64   // audit trail backing AvgLatencyMS
	SampleCount         int64
	LastSuccessAt       *time.Time
	LastFailureAt       *time.Time
	LastError           string
	CircuitState        CircuitState
}

// SuccessRate returns success_count / (success_count+failure_count), or 1.0
// if the provider has never been called.
func (h ProviderHealth) SuccessRate() float64 {
	total := h.SuccessCount + h.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(h.SuccessCount) / float64(total)
}

// IsHealthy reports whether the provider is safe to route to: breaker not
// open, and not currently failing consecutively past a small grace window.
func (h ProviderHealth) IsHealthy() bool {
	return h.CircuitState != CircuitOpen && h.ConsecutiveFailures < 5
}

// CostSummary is the per-provider running cost total (§3).
type CostSummary struct {
	ProviderName    string
	APICalls        int64
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	TotalCostUSD    float64
	AvgCostPerEmail float64
}

// QualityMetrics is the per-provider rolling quality record (§3, §4.4).
// QualityScore and ValueScore are derived on read.
type QualityMetrics struct {
	ProviderName           string
	AvgConfidence          float64
	AvgFieldConfidence     map[string]float64
	AvgCompleteness        float64
	ValidationSuccessRate  float64
	SampleCount            int64
}

// QualityScore is 0.4*confidence + 0.3*completeness + 0.3*validation_success.
func (q QualityMetrics) QualityScore() float64 {
	return 0.4*q.AvgConfidence + 0.3*q.AvgCompleteness + 0.3*q.ValidationSuccessRate
}

// ValueScore weights quality against cost, favoring free/cheap providers;
// costPerEmail of 0 (a free tier) yields the quality score unscaled.
func (q QualityMetrics) ValueScore(costPerEmail float64) float64 {
	quality := q.QualityScore()
	if costPerEmail <= 0 {
		return quality
	}
	return quality / costPerEmail
}
