package llmhealth

import (
	"math"
	"path/filepath"
	"testing"

	"collabiq/core/domain"
	"collabiq/core/port/out"
)

func TestQualityTrackerIgnoresFailedCalls(t *testing.T) {
	tr := NewQualityTracker(filepath.Join(t.TempDir(), "quality.json"))
	tr.Record("openai", out.CallOutcome{Success: false, OverallConfidence: 0.9})

	got := tr.Get("openai")
	if got.SampleCount != 0 {
		t.Errorf("expected a failed call not to be folded into quality, got SampleCount=%d", got.SampleCount)
	}
}

func TestQualityTrackerCumulativeMean(t *testing.T) {
	tr := NewQualityTracker(filepath.Join(t.TempDir(), "quality.json"))
	tr.Record("openai", out.CallOutcome{Success: true, OverallConfidence: 0.8, Completeness: 1.0, ValidationOK: true})
	tr.Record("openai", out.CallOutcome{Success: true, OverallConfidence: 0.4, Completeness: 0.5, ValidationOK: false})

	got := tr.Get("openai")
	if math.Abs(got.AvgConfidence-0.6) > 1e-9 {
		t.Errorf("AvgConfidence = %v, want 0.6", got.AvgConfidence)
	}
	if got.ValidationSuccessRate != 0.5 {
		t.Errorf("ValidationSuccessRate = %v, want 0.5", got.ValidationSuccessRate)
	}
}

func TestRankedProvidersExcludesDisabledAndUnhealthy(t *testing.T) {
	tr := NewQualityTracker(filepath.Join(t.TempDir(), "quality.json"))
	tr.Record("good", out.CallOutcome{Success: true, OverallConfidence: 0.9, Completeness: 0.9, ValidationOK: true})

	configs := []domain.ProviderConfig{
		{Name: "good", Enabled: true, Priority: 1},
		{Name: "disabled", Enabled: false, Priority: 2},
		{Name: "unhealthy", Enabled: true, Priority: 3},
	}
	health := map[string]domain.ProviderHealth{
		"unhealthy": {CircuitState: domain.CircuitOpen},
	}

	got := tr.RankedProviders(configs, health)
	if len(got) != 1 || got[0] != "good" {
		t.Errorf("expected only the enabled/healthy provider, got %v", got)
	}
}

func TestRankedProvidersTieBreaksOnPriorityThenName(t *testing.T) {
	tr := NewQualityTracker(filepath.Join(t.TempDir(), "quality.json"))
	// Neither provider has recorded quality data, so both have a ValueScore of 0 — a tie.
	configs := []domain.ProviderConfig{
		{Name: "zebra", Enabled: true, Priority: 1},
		{Name: "alpha", Enabled: true, Priority: 1},
	}

	got := tr.RankedProviders(configs, nil)
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zebra" {
		t.Errorf("expected a tie to break lexicographically, got %v", got)
	}
}

func TestRankedProvidersOrdersByPriorityWhenTied(t *testing.T) {
	tr := NewQualityTracker(filepath.Join(t.TempDir(), "quality.json"))
	configs := []domain.ProviderConfig{
		{Name: "low-priority", Enabled: true, Priority: 5},
		{Name: "high-priority", Enabled: true, Priority: 1},
	}

	got := tr.RankedProviders(configs, nil)
	if len(got) != 2 || got[0] != "high-priority" {
		t.Errorf("expected the lower priority number first, got %v", got)
	}
}

func TestQualityScoreWeighting(t *testing.T) {
	q := domain.QualityMetrics{AvgConfidence: 1.0, AvgCompleteness: 1.0, ValidationSuccessRate: 1.0}
	if got := q.QualityScore(); got != 1.0 {
		t.Errorf("QualityScore() = %v, want 1.0", got)
	}
}

func TestValueScoreUnscaledWhenFree(t *testing.T) {
	q := domain.QualityMetrics{AvgConfidence: 0.8, AvgCompleteness: 0.8, ValidationSuccessRate: 0.8}
	if got := q.ValueScore(0); got != q.QualityScore() {
		t.Errorf("ValueScore(0) = %v, want QualityScore() = %v", got, q.QualityScore())
	}
}
