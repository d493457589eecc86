package llmhealth

import (
	"sort"
	"sync"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/internal/atomicfile"
)

// QualityTracker accumulates rolling quality signals per provider and
// ranks providers for quality-based routing (§4.4).
type QualityTracker struct {
	mu     sync.Mutex
	path   string
	byName map[string]*domain.QualityMetrics
}

func NewQualityTracker(path string) *QualityTracker {
	t := &QualityTracker{path: path, byName: make(map[string]*domain.QualityMetrics)}
	var snapshot map[string]domain.QualityMetrics
	if err := atomicfile.ReadJSON(path, &snapshot); err == nil {
		for name, q := range snapshot {
			q := q
			t.byName[name] = &q
		}
	}
	return t
}

func (t *QualityTracker) entry(name string) *domain.QualityMetrics {
	q, ok := t.byName[name]
	if !ok {
		q = &domain.QualityMetrics{ProviderName: name, AvgFieldConfidence: map[string]float64{}}
		t.byName[name] = q
	}
	return q
}

// Record folds one call's quality signals into the provider's rolling
// averages using a simple cumulative mean (not EWMA — quality trends are
// evaluated over the whole history, unlike latency which should track
// recent behavior).
func (t *QualityTracker) Record(provider string, outcome out.CallOutcome) {
	if !outcome.Success {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	q := t.entry(provider)
	n := float64(q.SampleCount)
	q.AvgConfidence = (q.AvgConfidence*n + outcome.OverallConfidence) / (n + 1)
	q.AvgCompleteness = (q.AvgCompleteness*n + outcome.Completeness) / (n + 1)
	validation := 0.0
	if outcome.ValidationOK {
		validation = 1.0
	}
	q.ValidationSuccessRate = (q.ValidationSuccessRate*n + validation) / (n + 1)

	if q.AvgFieldConfidence == nil {
		q.AvgFieldConfidence = map[string]float64{}
	}
	for field, conf := range outcome.FieldConfidence {
		prev := q.AvgFieldConfidence[field]
		q.AvgFieldConfidence[field] = (prev*n + conf) / (n + 1)
	}

	q.SampleCount++
	t.persistLocked()
}

func (t *QualityTracker) Get(provider string) domain.QualityMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.entry(provider)
}

func (t *QualityTracker) All() map[string]domain.QualityMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]domain.QualityMetrics, len(t.byName))
	for name, q := range t.byName {
		out[name] = *q
	}
	return out
}

// RankedProviders orders enabled, healthy providers by descending value
// score. Ties break on lower priority number, then lexicographic name
// (§9 open question, resolved absent a product-owner tie-breaker).
func (t *QualityTracker) RankedProviders(configs []domain.ProviderConfig, health map[string]domain.ProviderHealth) []string {
	t.mu.Lock()
	type candidate struct {
		name     string
		priority int
		value    float64
	}
	var candidates []candidate
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		h, ok := health[cfg.Name]
		if ok && !h.IsHealthy() {
			continue
		}
		q := t.entry(cfg.Name)
		costPerEmail := 0.0
		candidates = append(candidates, candidate{name: cfg.Name, priority: cfg.Priority, value: q.ValueScore(costPerEmail)})
	}
	t.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].value != candidates[j].value {
			return candidates[i].value > candidates[j].value
		}
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].name < candidates[j].name
	})

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}

func (t *QualityTracker) persistLocked() {
	snapshot := make(map[string]domain.QualityMetrics, len(t.byName))
	for name, q := range t.byName {
		snapshot[name] = *q
	}
	_ = atomicfile.WriteJSON(t.path, snapshot)
}
