// Package mapping implements the stateless field mapper (C9): turns an
// ExtractedEntities plus classification and match results into the
// workspace's property payload, per §4.9's rules.
package mapping

import (
	"fmt"

	"collabiq/core/domain"
	"collabiq/internal/apperr"
)

const richTextMaxChars = 2000

// Input bundles everything the mapper needs for one email.
type Input struct {
	Entities       domain.ExtractedEntities
	Classification domain.Classification
	Summary        domain.Summary
	CompanyMatch   domain.CompanyMatch
	PartnerMatch   domain.CompanyMatch
	PersonMatch    domain.PersonMatch
}

// Map builds the workspace property payload. Relation ids must be 32 or 36
// characters; any other length is a permanent validation error (§4.9),
// classified so C1 treats it as non-retryable.
func Map(in Input) (map[string]any, error) {
	props := map[string]any{}

	setText(props, "message_id", in.Entities.MessageID)
	setText(props, "details", truncateRichText(in.Entities.Details))

	if in.Entities.CollabDate != nil {
		props["collab_date"] = dateProperty(in.Entities.CollabDate.Format("2006-01-02"))
	}

	if err := setRelation(props, "company", in.CompanyMatch.PageID); err != nil {
		return nil, err
	}
	if err := setRelation(props, "partner_org", in.PartnerMatch.PageID); err != nil {
		return nil, err
	}
	if err := setRelation(props, "person_in_charge", in.PersonMatch.UserID); err != nil {
		return nil, err
	}

	if sel := selectProperty(string(in.Classification.CollabType)); sel != nil {
		props["collab_type"] = sel
	}
	if sel := selectProperty(string(in.Classification.Intensity)); sel != nil {
		props["intensity"] = sel
	}
	props["type_confidence"] = numberProperty(in.Classification.TypeConfidence)
	props["intensity_confidence"] = numberProperty(in.Classification.IntensityConfidence)

	setText(props, "summary", truncateRichText(in.Summary.Text))

	subject := fmt.Sprintf("%s-%s", safeName(in.CompanyMatch), safeName(in.PartnerMatch))
	setText(props, "subject", subject)

	return props, nil
}

func safeName(m domain.CompanyMatch) string {
	if m.MatchedName != "" {
		return m.MatchedName
	}
	return ""
}

// setText omits the property entirely when value is empty — null/empty
// fields are omitted, not emitted with a null value (§4.9).
func setText(props map[string]any, key, value string) {
	if value == "" {
		return
	}
	props[key] = map[string]any{
		"rich_text": []map[string]any{{"text": map[string]string{"content": value}}},
	}
}

func truncateRichText(s string) string {
	runes := []rune(s)
	if len(runes) <= richTextMaxChars {
		return s
	}
	return string(runes[:richTextMaxChars]) + "..."
}

func numberProperty(v float64) map[string]any {
	// Numeric 0/0.0 is meaningful (e.g. confidence) and is emitted, never
	// omitted (§4.9) — this function is only reached for fields that are
	// always present, so there is no "omit" branch here.
	return map[string]any{"number": v}
}

func selectProperty(name string) map[string]any {
	if name == "" {
		return nil
	}
	return map[string]any{"select": map[string]string{"name": name}}
}

func dateProperty(iso string) map[string]any {
	return map[string]any{"date": map[string]string{"start": iso}}
}

// setRelation validates id's length (32 or 36 chars, matching the
// workspace's id formats) and omits the property when id is nil.
func setRelation(props map[string]any, key string, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	if len(*id) != 32 && len(*id) != 36 {
		return apperr.NewPermanent("mapping", fmt.Sprintf("relation id for %q has invalid length %d", key, len(*id)), nil)
	}
	props[key] = map[string]any{
		"relation": []map[string]string{{"id": *id}},
	}
	return nil
}
