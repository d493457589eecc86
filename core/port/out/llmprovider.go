package out

import (
	"context"
	"time"

	"collabiq/core/domain"
)

// ExtractRequest is the input to one provider call: the cleaned email body
// plus the received-at timestamp needed to resolve relative Korean dates
// ("지난주 금요일") unambiguously.
type ExtractRequest struct {
	MessageID  string
	BodyText   string
	ReceivedAt time.Time
}

// IntensityRequest asks a provider to classify collaboration intensity
// against the closed vocabulary in domain.ValidIntensities.
type IntensityRequest struct {
	MessageID string
	BodyText  string
	Context   string // e.g. matched company/partner names, for grounding
}

// SummaryRequest asks a provider to produce the 1-4 sentence summary.
type SummaryRequest struct {
	MessageID string
	BodyText  string
	Entities  domain.ExtractedEntities
}

// ProviderResult is one successful adapter call's output plus the
// provenance C4 needs for health/cost tracking.
type ProviderResult struct {
	Entities     domain.ExtractedEntities
	InputTokens  int
	OutputTokens int
	LatencyMS    int64
}

// LLMProviderAdapter is the uniform entity-extraction contract every
// concrete provider (OpenAI, Anthropic, Gemini) satisfies (§4.5). Adapters
// must not be constructed except through their own package constructor —
// there is deliberately no base-type to instantiate directly.
type LLMProviderAdapter interface {
	// Name is the provider's configured name, e.g. "openai".
	Name() string
	// ModelID is the pinned model identifier used for every call.
	ModelID() string
	// Extract runs the entity-extraction prompt against req.
	Extract(ctx context.Context, req ExtractRequest) (ProviderResult, error)
	// ClassifyIntensity runs the closed-vocabulary intensity prompt.
	ClassifyIntensity(ctx context.Context, req IntensityRequest) (domain.Intensity, float64, error)
	// Summarize runs the summary prompt.
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}
