package llmhealth

import (
	"sync"

	"collabiq/core/domain"
	"collabiq/internal/atomicfile"
)

// CostTracker accumulates token usage and USD cost per provider.
type CostTracker struct {
	mu     sync.Mutex
	path   string
	byName map[string]*domain.CostSummary
}

func NewCostTracker(path string) *CostTracker {
	t := &CostTracker{path: path, byName: make(map[string]*domain.CostSummary)}
	var snapshot map[string]domain.CostSummary
	if err := atomicfile.ReadJSON(path, &snapshot); err == nil {
		for name, c := range snapshot {
			c := c
			t.byName[name] = &c
		}
	}
	return t
}

func (t *CostTracker) entry(name string) *domain.CostSummary {
	c, ok := t.byName[name]
	if !ok {
		c = &domain.CostSummary{ProviderName: name}
		t.byName[name] = c
	}
	return c
}

// Record adds one call's token usage and its priced cost to the running
// total. cfg supplies the per-million token prices.
func (t *CostTracker) Record(provider string, inputTokens, outputTokens int, cfg domain.ProviderConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.entry(provider)
	c.APICalls++
	c.InputTokens += int64(inputTokens)
	c.OutputTokens += int64(outputTokens)
	c.TotalTokens += int64(inputTokens + outputTokens)

	cost := float64(inputTokens)/1_000_000*cfg.InputPricePerMTok + float64(outputTokens)/1_000_000*cfg.OutputPricePerMTok
	c.TotalCostUSD += cost
	if c.APICalls > 0 {
		c.AvgCostPerEmail = c.TotalCostUSD / float64(c.APICalls)
	}

	t.persistLocked()
}

func (t *CostTracker) Get(provider string) domain.CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.entry(provider)
}

func (t *CostTracker) All() map[string]domain.CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]domain.CostSummary, len(t.byName))
	for name, c := range t.byName {
		out[name] = *c
	}
	return out
}

func (t *CostTracker) persistLocked() {
	snapshot := make(map[string]domain.CostSummary, len(t.byName))
	for name, c := range t.byName {
		snapshot[name] = *c
	}
	_ = atomicfile.WriteJSON(t.path, snapshot)
}
