// Package orchestrator implements the LLM orchestrator (C6): failover,
// consensus, and best-match strategies over the provider adapters, with
// health/cost/quality tracking on every call (§4.6).
package orchestrator

import (
	"context"
	"errors"
	"sort"
	"time"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/internal/apperr"
	"collabiq/internal/logger"
	"collabiq/internal/resilience"
)

// ErrAllProvidersFailed is raised by Failover when every provider in
// priority order was exhausted or unavailable.
var ErrAllProvidersFailed = errors.New("all providers failed")

// ErrInsufficientAgreement is raised by Consensus when fewer than 2
// providers returned successfully.
var ErrInsufficientAgreement = errors.New("insufficient agreement: fewer than 2 successful responses")

const defaultOrchestratorTimeout = 90 * time.Second

// Orchestrator runs the three multi-provider strategies.
type Orchestrator struct {
	adapters       []out.LLMProviderAdapter
	configs        map[string]domain.ProviderConfig
	health         out.HealthTracker
	cost           out.CostTracker
	quality        out.QualityTracker
	breakers       *resilience.Registry
	qualityRouting bool
	timeout        time.Duration
	fuzzyThreshold float64
	abstainThresh  float64
	log            *logger.Logger
}

// Config configures strategy-wide knobs (§4.6).
type Config struct {
	QualityRouting      bool
	OrchestratorTimeout time.Duration
	FuzzyThreshold      float64
	AbstentionThreshold float64
}

func New(adapters []out.LLMProviderAdapter, configs []domain.ProviderConfig, health out.HealthTracker, cost out.CostTracker, quality out.QualityTracker, breakers *resilience.Registry, cfg Config) *Orchestrator {
	byName := make(map[string]domain.ProviderConfig, len(configs))
	for _, c := range configs {
		byName[c.Name] = c
	}
	if cfg.OrchestratorTimeout <= 0 {
		cfg.OrchestratorTimeout = defaultOrchestratorTimeout
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = 0.85
	}
	if cfg.AbstentionThreshold <= 0 {
		cfg.AbstentionThreshold = 0.25
	}
	return &Orchestrator{
		adapters:       adapters,
		configs:        byName,
		health:         health,
		cost:           cost,
		quality:        quality,
		breakers:       breakers,
		qualityRouting: cfg.QualityRouting,
		timeout:        cfg.OrchestratorTimeout,
		fuzzyThreshold: cfg.FuzzyThreshold,
		abstainThresh:  cfg.AbstentionThreshold,
		log:            logger.Default().WithComponent("orchestrator"),
	}
}

func (o *Orchestrator) breaker(provider string) *resilience.Breaker {
	return o.breakers.Get("llm." + provider)
}

// orderedProviders returns adapters for enabled providers in priority
// order, or quality order if routing is enabled.
func (o *Orchestrator) orderedProviders() []out.LLMProviderAdapter {
	byName := make(map[string]out.LLMProviderAdapter, len(o.adapters))
	for _, a := range o.adapters {
		byName[a.Name()] = a
	}

	if o.qualityRouting {
		var configs []domain.ProviderConfig
		for _, c := range o.configs {
			configs = append(configs, c)
		}
		ranked := o.quality.RankedProviders(configs, o.health.All())
		ordered := make([]out.LLMProviderAdapter, 0, len(ranked))
		for _, name := range ranked {
			if a, ok := byName[name]; ok {
				ordered = append(ordered, a)
			}
		}
		return ordered
	}

	var enabled []domain.ProviderConfig
	for _, c := range o.configs {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	ordered := make([]out.LLMProviderAdapter, 0, len(enabled))
	for _, c := range enabled {
		if a, ok := byName[c.Name]; ok {
			ordered = append(ordered, a)
		}
	}
	return ordered
}

// healthyProviders is orderedProviders filtered to those whose breaker
// currently allows a call.
func (o *Orchestrator) healthyProviders() []out.LLMProviderAdapter {
	var healthy []out.LLMProviderAdapter
	for _, a := range o.orderedProviders() {
		if o.breaker(a.Name()).State() != resilience.StateOpen {
			healthy = append(healthy, a)
		}
	}
	return healthy
}

func (o *Orchestrator) recordCall(provider string, latencyMS int64, success bool, errMsg string, result *out.ProviderResult) {
	cfg := o.configs[provider]
	outcome := out.CallOutcome{Provider: provider, Success: success, LatencyMS: latencyMS, ErrorMessage: errMsg}
	if success && result != nil {
		outcome.InputTokens = result.InputTokens
		outcome.OutputTokens = result.OutputTokens
		outcome.OverallConfidence = meanConfidence(result.Entities.PerFieldConfidence)
		outcome.Completeness = completeness(result.Entities)
		outcome.ValidationOK = true
		o.cost.Record(provider, result.InputTokens, result.OutputTokens, cfg)
	}
	o.health.Record(outcome)
	o.quality.Record(provider, outcome)
	o.health.SetCircuitState(provider, domain.CircuitState(o.breaker(provider).State().String()))
}

func meanConfidence(m map[string]float64) float64 {
	if len(m) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m {
		sum += v
	}
	return sum / float64(len(m))
}

func completeness(e domain.ExtractedEntities) float64 {
	total := len(domain.FieldNames)
	nonNull := 0
	if e.PersonInCharge != nil {
		nonNull++
	}
	if e.CompanyName != nil {
		nonNull++
	}
	if e.PartnerOrg != nil {
		nonNull++
	}
	if e.CollabDate != nil {
		nonNull++
	}
	return float64(nonNull) / float64(total)
}

func (o *Orchestrator) callExtract(ctx context.Context, a out.LLMProviderAdapter, req out.ExtractRequest) (out.ProviderResult, error) {
	b := o.breaker(a.Name())
	if !b.Allow() {
		return out.ProviderResult{}, apperr.NewTransient("llm."+a.Name(), "circuit breaker is open", nil)
	}
	result, err := resilience.Do(ctx, resilience.LLMPolicy(), func(ctx context.Context, attempt int) (out.ProviderResult, resilience.RetryAfterHint, error) {
		r, err := a.Extract(ctx, req)
		return r, resilience.RetryAfterHint{}, err
	})
	if err != nil {
		b.RecordFailure()
		o.recordCall(a.Name(), 0, false, err.Error(), nil)
		return out.ProviderResult{}, err
	}
	b.RecordSuccess()
	o.recordCall(a.Name(), result.Value.LatencyMS, true, "", &result.Value)
	return result.Value, nil
}

type classifyResult struct {
	intensity  domain.Intensity
	confidence float64
}

// callClassify mirrors callExtract's breaker-gate + retry + tracking shape
// for the intensity prompt (§4.4, §4.6): health/quality are updated after
// every LLM call, not just extraction.
func (o *Orchestrator) callClassify(ctx context.Context, a out.LLMProviderAdapter, req out.IntensityRequest) (domain.Intensity, float64, error) {
	b := o.breaker(a.Name())
	if !b.Allow() {
		return "", 0, apperr.NewTransient("llm."+a.Name(), "circuit breaker is open", nil)
	}
	result, err := resilience.Do(ctx, resilience.LLMPolicy(), func(ctx context.Context, attempt int) (classifyResult, resilience.RetryAfterHint, error) {
		intensity, confidence, err := a.ClassifyIntensity(ctx, req)
		return classifyResult{intensity, confidence}, resilience.RetryAfterHint{}, err
	})
	if err != nil {
		b.RecordFailure()
		o.recordCall(a.Name(), 0, false, err.Error(), nil)
		return "", 0, err
	}
	b.RecordSuccess()
	o.recordCall(a.Name(), 0, true, "", nil)
	return result.Value.intensity, result.Value.confidence, nil
}

// callSummarize mirrors callExtract's shape for the summary prompt.
func (o *Orchestrator) callSummarize(ctx context.Context, a out.LLMProviderAdapter, req out.SummaryRequest) (string, error) {
	b := o.breaker(a.Name())
	if !b.Allow() {
		return "", apperr.NewTransient("llm."+a.Name(), "circuit breaker is open", nil)
	}
	result, err := resilience.Do(ctx, resilience.LLMPolicy(), func(ctx context.Context, attempt int) (string, resilience.RetryAfterHint, error) {
		text, err := a.Summarize(ctx, req)
		return text, resilience.RetryAfterHint{}, err
	})
	if err != nil {
		b.RecordFailure()
		o.recordCall(a.Name(), 0, false, err.Error(), nil)
		return "", err
	}
	b.RecordSuccess()
	o.recordCall(a.Name(), 0, true, "", nil)
	return result.Value, nil
}

