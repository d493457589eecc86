package domain

import "time"

// Strategy names the multi-provider orchestration strategy that produced an
// ExtractedEntities value.
type Strategy string

const (
	StrategyFailover   Strategy = "failover"
	StrategyConsensus  Strategy = "consensus"
	StrategyBestMatch  Strategy = "best-match"
	StrategyNone       Strategy = ""
)

// ExtractedEntities is the LLM orchestrator's output for one email, plus the
// provenance needed for cost accounting and DLQ replay.
type ExtractedEntities struct {
	MessageID string

	PersonInCharge *string
	CompanyName    *string
	PartnerOrg     *string
	Details        string
	CollabDate     *time.Time

	// PerFieldConfidence maps field name -> confidence in [0,1]. A field is
	// 0.0 if and only if its value is null (P5).
	PerFieldConfidence map[string]float64

	ProviderName  string
	ModelID       string
	InputTokens   int
	OutputTokens  int
	LatencyMS     int64
	StrategyUsed  Strategy
	FallbackUsed  bool

	// RawResponse preserves the provider's raw parsed payload, solely as a
	// DLQ replay aid. Never read by business logic.
	RawResponse map[string]any
}

// FieldNames are the four extractable fields consensus/best-match reason
// about, in a stable order.
var FieldNames = []string{"person_in_charge", "company_name", "partner_org", "collab_date"}

// Confidence returns the confidence recorded for field, or 0 if absent.
func (e *ExtractedEntities) Confidence(field string) float64 {
	if e.PerFieldConfidence == nil {
		return 0
	}
	return e.PerFieldConfidence[field]
}
