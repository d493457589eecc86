// Package llmprovider implements the three concrete LLM provider adapters
// (C5) sharing one extraction contract (core/port/out.LLMProviderAdapter).
package llmprovider

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"collabiq/core/domain"
	"collabiq/internal/apperr"
)

// extractionPrompt builds the shared instruction every provider sends,
// pinning the output schema, Korean/English name handling, and relative
// Korean date resolution against receivedAt (§4.5).
func extractionPrompt(bodyText string, receivedAt time.Time) string {
	return fmt.Sprintf(`You extract structured collaboration data from a business email body.
The email may be in Korean, English, or both. Person and company names may
appear in either script. Dates may be absolute, ISO, or relative Korean
expressions such as "지난주 금요일" (resolve relative dates using the
email's received timestamp: %s).

Return strict JSON matching this schema, with no extra commentary:
{
  "person_in_charge": string or null,
  "company_name": string or null,
  "partner_org": string or null,
  "details": string,
  "collab_date": "YYYY-MM-DD" or null,
  "confidence": {
    "person_in_charge": number 0-1,
    "company_name": number 0-1,
    "partner_org": number 0-1,
    "collab_date": number 0-1
  }
}

A null field's confidence must be exactly 0.0.

Email body:
%s`, receivedAt.Format(time.RFC3339), bodyText)
}

// intensityPrompt builds the closed-vocabulary classification prompt.
func intensityPrompt(bodyText, context string) string {
	return fmt.Sprintf(`Classify the intensity of this business collaboration as exactly one
of: Awareness, Cooperation, Investment, Acquisition. Respond with strict
JSON: {"intensity": "<one of the four>", "confidence": number 0-1}.

Context: %s

Email body:
%s`, context, bodyText)
}

// summaryPrompt builds the summary-generation prompt.
func summaryPrompt(bodyText string, entities domain.ExtractedEntities) string {
	return fmt.Sprintf(`Summarize this business collaboration email in 1-4 sentences,
50-400 characters, in the same language as the email body. Preserve the
person in charge, company name, partner organization, collaboration date,
and key details if present. Respond with the summary text only, no JSON.

Email body:
%s`, bodyText)
}

// rawExtraction is the shape every provider's JSON response is parsed
// into before being validated against the strict ExtractedEntities
// schema (§9: "validate at adapter boundary... never let unvalidated
// values flow inward").
type rawExtraction struct {
	PersonInCharge *string            `json:"person_in_charge"`
	CompanyName    *string            `json:"company_name"`
	PartnerOrg     *string            `json:"partner_org"`
	Details        string             `json:"details"`
	CollabDate     *string            `json:"collab_date"`
	Confidence     map[string]float64 `json:"confidence"`
}

// parseExtraction validates and converts raw provider JSON into an
// ExtractedEntities. Any schema violation is classified Permanent (§9).
func parseExtraction(providerName, modelID string, raw []byte, receivedAt time.Time) (domain.ExtractedEntities, error) {
	var parsed rawExtraction
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.ExtractedEntities{}, apperr.NewPermanent(providerName, "response did not match the extraction schema", err)
	}

	entities := domain.ExtractedEntities{
		PersonInCharge:     nilIfEmpty(parsed.PersonInCharge),
		CompanyName:        nilIfEmpty(parsed.CompanyName),
		PartnerOrg:         nilIfEmpty(parsed.PartnerOrg),
		Details:            parsed.Details,
		PerFieldConfidence: parsed.Confidence,
		ProviderName:       providerName,
		ModelID:            modelID,
	}

	if parsed.CollabDate != nil && strings.TrimSpace(*parsed.CollabDate) != "" {
		t, err := time.Parse("2006-01-02", *parsed.CollabDate)
		if err != nil {
			return domain.ExtractedEntities{}, apperr.NewPermanent(providerName, "collab_date was not ISO YYYY-MM-DD after provider-side resolution", err)
		}
		entities.CollabDate = &t
	}

	if entities.PerFieldConfidence == nil {
		entities.PerFieldConfidence = map[string]float64{}
	}
	// P5: value == null iff confidence == 0.0. A provider that forgets to
	// zero a null field's confidence is corrected here rather than trusted.
	if entities.PersonInCharge == nil {
		entities.PerFieldConfidence["person_in_charge"] = 0.0
	}
	if entities.CompanyName == nil {
		entities.PerFieldConfidence["company_name"] = 0.0
	}
	if entities.PartnerOrg == nil {
		entities.PerFieldConfidence["partner_org"] = 0.0
	}
	if entities.CollabDate == nil {
		entities.PerFieldConfidence["collab_date"] = 0.0
	}

	return entities, nil
}

func nilIfEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
