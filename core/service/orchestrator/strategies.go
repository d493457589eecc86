package orchestrator

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/xrash/smetrics"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/internal/fan"
)

// Extract runs the named strategy (§4.6). Unknown strategies fall back to
// failover.
func (o *Orchestrator) Extract(ctx context.Context, req out.ExtractRequest, strategy domain.Strategy) (domain.ExtractedEntities, error) {
	switch strategy {
	case domain.StrategyConsensus:
		return o.consensus(ctx, req)
	case domain.StrategyBestMatch:
		return o.bestMatch(ctx, req)
	default:
		return o.failover(ctx, req)
	}
}

// failover iterates providers in priority (or quality) order, skipping
// open breakers, attempting each under the retry policy. First success
// wins.
func (o *Orchestrator) failover(ctx context.Context, req out.ExtractRequest) (domain.ExtractedEntities, error) {
	providers := o.healthyProviders()
	var lastErr error

	for _, a := range providers {
		result, err := o.callExtract(ctx, a, req)
		if err != nil {
			lastErr = err
			continue
		}
		entities := result.Entities
		entities.StrategyUsed = domain.StrategyFailover
		entities.FallbackUsed = a != providers[0]
		return entities, nil
	}

	if lastErr != nil {
		o.log.WithError(lastErr).Error("all providers failed during failover")
	}
	return domain.ExtractedEntities{}, ErrAllProvidersFailed
}

// consensus queries all healthy providers in parallel, cooperatively
// bounded by the orchestrator timeout, and aggregates per field by
// Jaro-Winkler-clustered agreement (§4.6).
func (o *Orchestrator) consensus(ctx context.Context, req out.ExtractRequest) (domain.ExtractedEntities, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	providers := o.healthyProviders()
	results := o.gatherExtracts(ctx, providers, req)

	var successes []out.ProviderResult
	for _, r := range results {
		if r.Err == nil {
			successes = append(successes, r.Value)
		}
	}
	if len(successes) < 2 {
		return domain.ExtractedEntities{}, ErrInsufficientAgreement
	}

	merged := domain.ExtractedEntities{
		MessageID:          req.MessageID,
		PerFieldConfidence: map[string]float64{},
		StrategyUsed:       domain.StrategyConsensus,
		ProviderName:       "consensus",
	}

	for _, field := range domain.FieldNames {
		value, confidence := o.consensusField(field, successes)
		applyField(&merged, field, value, confidence)
	}

	merged.Details = longestDetails(successes)
	for _, r := range successes {
		merged.InputTokens += r.InputTokens
		merged.OutputTokens += r.OutputTokens
	}

	return merged, nil
}

// bestMatch queries all healthy providers in parallel and returns the
// whole response with the highest mean confidence over its non-null
// fields.
func (o *Orchestrator) bestMatch(ctx context.Context, req out.ExtractRequest) (domain.ExtractedEntities, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	providers := o.healthyProviders()
	results := o.gatherExtracts(ctx, providers, req)

	var best *out.ProviderResult
	bestScore := -1.0
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		score := nonNullMeanConfidence(r.Value.Entities)
		if score > bestScore {
			score2 := score
			bestScore = score2
			v := r.Value
			best = &v
		}
	}

	if best == nil {
		return domain.ExtractedEntities{}, ErrAllProvidersFailed
	}

	entities := best.Entities
	entities.StrategyUsed = domain.StrategyBestMatch
	return entities, nil
}

// gatherExtracts runs callExtract for every provider concurrently via
// fan.Gather, which — unlike errgroup — collects every outcome instead of
// cancelling the rest on the first failure; consensus/best-match need
// every provider's result, successful or not.
func (o *Orchestrator) gatherExtracts(ctx context.Context, providers []out.LLMProviderAdapter, req out.ExtractRequest) []fan.Result[out.ProviderResult] {
	tasks := make([]func(ctx context.Context) (out.ProviderResult, error), len(providers))
	for i, a := range providers {
		a := a
		tasks[i] = func(ctx context.Context) (out.ProviderResult, error) {
			return o.callExtract(ctx, a, req)
		}
	}
	return fan.Gather(ctx, tasks)
}

type fieldCandidate struct {
	value      *string
	confidence float64
	provider   string
}

// consensusField implements §4.6's per-field consensus algorithm.
func (o *Orchestrator) consensusField(field string, successes []out.ProviderResult) (*string, float64) {
	var candidates []fieldCandidate
	for _, r := range successes {
		candidates = append(candidates, fieldCandidate{
			value:      fieldValue(r.Entities, field),
			confidence: r.Entities.Confidence(field),
			provider:   r.Entities.ProviderName,
		})
	}

	groups := groupBySimilarity(candidates, o.fuzzyThreshold)

	// Tie-break order (§4.6): (a) group size, (b) aggregate confidence,
	// (c) historical provider quality — only reached when the first two
	// are exactly tied, e.g. two single-member groups at identical
	// confidence.
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i]) != len(groups[j]) {
			return len(groups[i]) > len(groups[j])
		}
		ci, cj := aggregateConfidence(groups[i]), aggregateConfidence(groups[j])
		if ci != cj {
			return ci > cj
		}
		return o.groupQuality(groups[i]) > o.groupQuality(groups[j])
	})

	winner := groups[0]
	weightedConf := aggregateConfidence(winner) / float64(len(winner))

	if winner[0].value == nil {
		return nil, 0.0
	}
	if weightedConf < o.abstainThresh {
		return nil, 0.0
	}
	return winner[0].value, weightedConf
}

func aggregateConfidence(group []fieldCandidate) float64 {
	var sum float64
	for _, c := range group {
		sum += c.confidence
	}
	return sum
}

// groupQuality averages the group members' rolling quality scores (§4.4),
// the final consensus tie-break.
func (o *Orchestrator) groupQuality(group []fieldCandidate) float64 {
	var sum float64
	for _, c := range group {
		sum += o.quality.Get(c.provider).QualityScore()
	}
	return sum / float64(len(group))
}

// groupBySimilarity clusters candidates whose normalized values are
// Jaro-Winkler-similar above threshold. Null/empty values form their own
// "abstain" group (§4.6 step 1).
func groupBySimilarity(candidates []fieldCandidate, threshold float64) [][]fieldCandidate {
	var abstain []fieldCandidate
	var present []fieldCandidate
	for _, c := range candidates {
		if c.value == nil || strings.TrimSpace(*c.value) == "" {
			abstain = append(abstain, c)
		} else {
			present = append(present, c)
		}
	}

	var groups [][]fieldCandidate
	used := make([]bool, len(present))
	for i, c := range present {
		if used[i] {
			continue
		}
		group := []fieldCandidate{c}
		used[i] = true
		for j := i + 1; j < len(present); j++ {
			if used[j] {
				continue
			}
			if smetrics.JaroWinkler(*c.value, *present[j].value, 0.7, 4) >= threshold {
				group = append(group, present[j])
				used[j] = true
			}
		}
		groups = append(groups, group)
	}

	if len(abstain) > 0 {
		groups = append(groups, abstain)
	}
	if len(groups) == 0 {
		groups = append(groups, abstain)
	}
	return groups
}

func fieldValue(e domain.ExtractedEntities, field string) *string {
	switch field {
	case "person_in_charge":
		return e.PersonInCharge
	case "company_name":
		return e.CompanyName
	case "partner_org":
		return e.PartnerOrg
	case "collab_date":
		if e.CollabDate == nil {
			return nil
		}
		s := e.CollabDate.Format("2006-01-02")
		return &s
	}
	return nil
}

func applyField(e *domain.ExtractedEntities, field string, value *string, confidence float64) {
	e.PerFieldConfidence[field] = confidence
	switch field {
	case "person_in_charge":
		e.PersonInCharge = value
	case "company_name":
		e.CompanyName = value
	case "partner_org":
		e.PartnerOrg = value
	case "collab_date":
		if value == nil {
			e.CollabDate = nil
			return
		}
		if t, err := time.Parse("2006-01-02", *value); err == nil {
			e.CollabDate = &t
		}
	}
}

func nonNullMeanConfidence(e domain.ExtractedEntities) float64 {
	var sum float64
	count := 0
	for _, field := range domain.FieldNames {
		if fieldValue(e, field) != nil {
			sum += e.Confidence(field)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func longestDetails(results []out.ProviderResult) string {
	longest := ""
	for _, r := range results {
		if len(r.Entities.Details) > len(longest) {
			longest = r.Entities.Details
		}
	}
	return longest
}

// ClassifyIntensity satisfies classify.Orchestrator: it runs the
// intensity prompt via failover across healthy providers.
func (o *Orchestrator) ClassifyIntensity(ctx context.Context, req out.IntensityRequest) (domain.Intensity, float64, error) {
	var lastErr error
	for _, a := range o.healthyProviders() {
		intensity, confidence, err := o.callClassify(ctx, a, req)
		if err != nil {
			lastErr = err
			continue
		}
		return intensity, confidence, nil
	}
	if lastErr == nil {
		lastErr = ErrAllProvidersFailed
	}
	return domain.IntensityCooperation, 0.5, lastErr
}

// Summarize satisfies classify.Orchestrator: consensus is preferred
// (§4.11) but a single-provider failover is permissible, so this picks,
// among all successful providers, the in-bounds summary whose length is
// closest to 225 characters (the midpoint of the bounds), falling back to
// the last successful response in provider order if none land in bounds.
func (o *Orchestrator) Summarize(ctx context.Context, req out.SummaryRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	providers := o.healthyProviders()
	tasks := make([]func(ctx context.Context) (string, error), len(providers))
	for i, a := range providers {
		a := a
		tasks[i] = func(ctx context.Context) (string, error) {
			return o.callSummarize(ctx, a, req)
		}
	}
	results := fan.Gather(ctx, tasks)

	var best string
	bestScore := math.MaxInt
	var anySuccess string
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		anySuccess = r.Value
		n := len([]rune(r.Value))
		if n >= domain.SummaryMinChars && n <= domain.SummaryMaxChars {
			if best == "" || absInt(n-225) < bestScore {
				best = r.Value
				bestScore = absInt(n - 225)
			}
		}
	}
	if best != "" {
		return best, nil
	}
	if anySuccess != "" {
		return anySuccess, nil
	}
	return "", ErrAllProvidersFailed
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
