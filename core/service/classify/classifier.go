// Package classify implements the classifier & summarizer (C11):
// deterministic collab-type from portfolio/affiliate membership, plus
// LLM-derived intensity and a validated summary.
package classify

import (
	"context"
	"strings"
	"unicode/utf8"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/internal/logger"
)

// Orchestrator is the subset of the LLM orchestrator this package needs.
type Orchestrator interface {
	ClassifyIntensity(ctx context.Context, req out.IntensityRequest) (domain.Intensity, float64, error)
	Summarize(ctx context.Context, req out.SummaryRequest) (string, error)
}

// Classifier derives collab type/intensity and produces the summary.
type Classifier struct {
	orchestrator Orchestrator
	log          *logger.Logger
}

func New(orchestrator Orchestrator) *Classifier {
	return &Classifier{orchestrator: orchestrator, log: logger.Default().WithComponent("classify")}
}

// Classify derives collab_type deterministically from the two matched
// companies' portfolio/affiliate membership (§4.11), then asks the
// orchestrator for the LLM-derived intensity.
func (c *Classifier) Classify(ctx context.Context, companyMatch, partnerMatch domain.CompanyMatch, companies map[string]domain.Company, req out.IntensityRequest) (domain.Classification, error) {
	collabType, typeConfidence := deriveCollabType(companyMatch, partnerMatch, companies)

	intensity, intensityConfidence, err := c.orchestrator.ClassifyIntensity(ctx, req)
	if err != nil {
		return domain.Classification{}, err
	}
	if !domain.ValidIntensities[intensity] {
		c.log.WithContext(map[string]any{"raw_intensity": intensity}).Warn("out-of-vocabulary intensity response, falling back to Cooperation")
		intensity = domain.IntensityCooperation
		if intensityConfidence > 0.5 {
			intensityConfidence = 0.5
		}
	}

	return domain.Classification{
		CollabType:          collabType,
		Intensity:           intensity,
		TypeConfidence:      typeConfidence,
		IntensityConfidence: intensityConfidence,
	}, nil
}

func deriveCollabType(companyMatch, partnerMatch domain.CompanyMatch, companies map[string]domain.Company) (domain.CollabType, float64) {
	if companyMatch.PageID == nil || partnerMatch.PageID == nil {
		return domain.CollabTypeD, 0.5
	}
	company, ok1 := companies[*companyMatch.PageID]
	partner, ok2 := companies[*partnerMatch.PageID]
	if !ok1 || !ok2 {
		return domain.CollabTypeD, 0.5
	}

	switch {
	case company.IsPortfolio && partner.IsPortfolio:
		return domain.CollabTypeC, 1.0
	case company.IsPortfolio && partner.IsAffiliate, partner.IsPortfolio && company.IsAffiliate:
		return domain.CollabTypeA, 1.0
	case company.IsAffiliate || partner.IsAffiliate:
		return domain.CollabTypeB, 1.0
	default:
		return domain.CollabTypeD, 1.0
	}
}

// Summarize produces the 1-4 sentence, 50-400 character summary, retrying
// on a length violation up to maxAttempts before falling back to a
// truncated/padded version (§4.11).
func (c *Classifier) Summarize(ctx context.Context, req out.SummaryRequest, maxAttempts int) (domain.Summary, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var last string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, err := c.orchestrator.Summarize(ctx, req)
		if err != nil {
			return domain.Summary{}, err
		}
		last = text
		if validSummaryLength(text) {
			return domain.Summary{Text: text}, nil
		}
	}

	c.log.WithContext(map[string]any{"message_id": req.MessageID}).Warn("summary persistently violated length bounds, using truncated/padded version")
	return domain.Summary{Text: coerceSummaryLength(last)}, nil
}

func validSummaryLength(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= domain.SummaryMinChars && n <= domain.SummaryMaxChars
}

func coerceSummaryLength(s string) string {
	runes := []rune(s)
	if len(runes) > domain.SummaryMaxChars {
		return string(runes[:domain.SummaryMaxChars])
	}
	if len(runes) < domain.SummaryMinChars {
		return s + strings.Repeat(".", domain.SummaryMinChars-len(runes))
	}
	return s
}
