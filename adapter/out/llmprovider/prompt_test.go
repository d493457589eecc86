package llmprovider

import (
	"testing"
	"time"

	"collabiq/internal/apperr"
)

func TestParseExtractionValidResponse(t *testing.T) {
	raw := []byte(`{
		"person_in_charge": "Jane Doe",
		"company_name": "Acme",
		"partner_org": null,
		"details": "discussed a partnership",
		"collab_date": "2026-03-05",
		"confidence": {"person_in_charge": 0.9, "company_name": 0.8, "partner_org": 0.0, "collab_date": 0.7}
	}`)

	entities, err := parseExtraction("openai", "gpt-4o-mini", raw, time.Now())
	if err != nil {
		t.Fatalf("parseExtraction: %v", err)
	}
	if entities.PersonInCharge == nil || *entities.PersonInCharge != "Jane Doe" {
		t.Errorf("got %+v", entities.PersonInCharge)
	}
	if entities.PartnerOrg != nil {
		t.Errorf("expected a null partner_org, got %+v", entities.PartnerOrg)
	}
	if entities.CollabDate == nil || !entities.CollabDate.Equal(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("got %+v", entities.CollabDate)
	}
	if entities.ProviderName != "openai" || entities.ModelID != "gpt-4o-mini" {
		t.Errorf("got provider=%s model=%s", entities.ProviderName, entities.ModelID)
	}
}

func TestParseExtractionMalformedJSONIsPermanent(t *testing.T) {
	_, err := parseExtraction("openai", "gpt-4o-mini", []byte("not json"), time.Now())
	if err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
	if apperr.CategoryOf(err) != apperr.Permanent {
		t.Errorf("expected Permanent, got %s", apperr.CategoryOf(err))
	}
}

func TestParseExtractionInvalidDateIsPermanent(t *testing.T) {
	raw := []byte(`{"collab_date": "not-a-date", "confidence": {}}`)
	_, err := parseExtraction("openai", "gpt-4o-mini", raw, time.Now())
	if err == nil {
		t.Fatal("expected an error for a non-ISO collab_date")
	}
	if apperr.CategoryOf(err) != apperr.Permanent {
		t.Errorf("expected Permanent, got %s", apperr.CategoryOf(err))
	}
}

func TestParseExtractionZeroesConfidenceForNullFields(t *testing.T) {
	raw := []byte(`{"confidence": {"person_in_charge": 0.6}}`)
	entities, err := parseExtraction("openai", "gpt-4o-mini", raw, time.Now())
	if err != nil {
		t.Fatalf("parseExtraction: %v", err)
	}
	for _, field := range []string{"company_name", "partner_org", "collab_date"} {
		if entities.PerFieldConfidence[field] != 0.0 {
			t.Errorf("expected %s confidence forced to 0, got %v", field, entities.PerFieldConfidence[field])
		}
	}
}

func TestParseExtractionEmptyStringFieldsTreatedAsNull(t *testing.T) {
	raw := []byte(`{"person_in_charge": "   ", "confidence": {}}`)
	entities, err := parseExtraction("openai", "gpt-4o-mini", raw, time.Now())
	if err != nil {
		t.Fatalf("parseExtraction: %v", err)
	}
	if entities.PersonInCharge != nil {
		t.Errorf("expected a whitespace-only name to be treated as null, got %+v", entities.PersonInCharge)
	}
}

func TestExtractionPromptIncludesReceivedAtAndBody(t *testing.T) {
	receivedAt := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	p := extractionPrompt("hello world", receivedAt)
	if !contains(p, "hello world") || !contains(p, receivedAt.Format(time.RFC3339)) {
		t.Errorf("expected the prompt to include the body and timestamp, got %q", p)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (needle == "" || indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
