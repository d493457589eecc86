package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"collabiq/core/port/out"
	"collabiq/internal/apperr"
)

// contractCase wires one adapter into the shared battery below: every
// adapter speaks a different wire format, but all three must satisfy the
// same out.LLMProviderAdapter contract (§4.5, §9).
type contractCase struct {
	name        string
	newAdapter  func(t *testing.T, handler http.HandlerFunc) out.LLMProviderAdapter
	successBody func(extractionJSON string) http.HandlerFunc
	failureBody func(status int) http.HandlerFunc
}

func contractCases() []contractCase {
	return []contractCase{
		{
			name:       "openai",
			newAdapter: func(t *testing.T, h http.HandlerFunc) out.LLMProviderAdapter { return withOpenAIServer(t, h) },
			successBody: func(extractionJSON string) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					fmt.Fprint(w, chatCompletionResponse(extractionJSON))
				}
			},
			failureBody: func(status int) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(status)
					fmt.Fprint(w, `{"error": {"message": "boom", "type": "server_error", "code": ""}}`)
				}
			},
		},
		{
			name:       "anthropic",
			newAdapter: func(t *testing.T, h http.HandlerFunc) out.LLMProviderAdapter { return withAnthropicServer(t, h) },
			successBody: func(extractionJSON string) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					resp := anthropicResponse{Content: []anthropicContentBlock{{Type: "text", Text: extractionJSON}}}
					resp.Usage.InputTokens = 10
					resp.Usage.OutputTokens = 5
					json.NewEncoder(w).Encode(resp)
				}
			},
			failureBody: func(status int) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(status)
					json.NewEncoder(w).Encode(anthropicErrorResponse{})
				}
			},
		},
		{
			name:       "gemini",
			newAdapter: func(t *testing.T, h http.HandlerFunc) out.LLMProviderAdapter { return withGeminiServer(t, h) },
			successBody: func(extractionJSON string) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					resp := geminiResponse{Candidates: []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{{Text: extractionJSON}}}}}}
					resp.UsageMetadata.PromptTokenCount = 10
					resp.UsageMetadata.CandidatesTokenCount = 5
					json.NewEncoder(w).Encode(resp)
				}
			},
			failureBody: func(status int) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(status)
					json.NewEncoder(w).Encode(geminiErrorResponse{})
				}
			},
		},
	}
}

// extractionJSONWithNulls carries one present field (with a non-zero
// confidence) and three nulled fields, each required by P5 to carry
// exactly 0.0 confidence.
const extractionJSONWithNulls = `{"person_in_charge":"Jane","company_name":null,"partner_org":null,"collab_date":null,"confidence":{"person_in_charge":0.9,"company_name":0.0,"partner_org":0.0,"collab_date":0.0}}`

func TestAdapterContractExtractConfidenceShape(t *testing.T) {
	for _, tc := range contractCases() {
		t.Run(tc.name, func(t *testing.T) {
			a := tc.newAdapter(t, tc.successBody(extractionJSONWithNulls))

			result, err := a.Extract(context.Background(), out.ExtractRequest{MessageID: "m1", BodyText: "hello", ReceivedAt: time.Now()})
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}

			for field, conf := range result.Entities.PerFieldConfidence {
				if conf < 0 || conf > 1 {
					t.Errorf("field %q confidence %v out of [0,1] bounds", field, conf)
				}
			}

			if result.Entities.PersonInCharge == nil || *result.Entities.PersonInCharge != "Jane" {
				t.Errorf("expected the present field to be parsed, got %+v", result.Entities.PersonInCharge)
			}
			if result.Entities.Confidence("person_in_charge") != 0.9 {
				t.Errorf("expected the present field's confidence to be preserved, got %v", result.Entities.Confidence("person_in_charge"))
			}

			for _, field := range []string{"company_name", "partner_org", "collab_date"} {
				if got := result.Entities.Confidence(field); got != 0.0 {
					t.Errorf("expected a null %q to carry confidence 0.0, got %v", field, got)
				}
			}
			if result.Entities.CompanyName != nil || result.Entities.PartnerOrg != nil || result.Entities.CollabDate != nil {
				t.Errorf("expected the nulled fields to stay nil, got %+v", result.Entities)
			}
		})
	}
}

func TestAdapterContractExtractClassifiesSimulatedFailure(t *testing.T) {
	for _, tc := range contractCases() {
		t.Run(tc.name, func(t *testing.T) {
			a := tc.newAdapter(t, tc.failureBody(http.StatusServiceUnavailable))

			_, err := a.Extract(context.Background(), out.ExtractRequest{MessageID: "m1", BodyText: "hello", ReceivedAt: time.Now()})
			if err == nil {
				t.Fatal("expected an error for a simulated server failure")
			}
			if apperr.CategoryOf(err) != apperr.Transient {
				t.Errorf("expected a classified Transient error, got %s", apperr.CategoryOf(err))
			}
		})
	}
}

func TestAdapterContractClassifyIntensityConfidenceBounds(t *testing.T) {
	for _, tc := range contractCases() {
		t.Run(tc.name, func(t *testing.T) {
			a := tc.newAdapter(t, tc.successBody(`{"intensity":"Cooperation","confidence":0.6}`))

			_, confidence, err := a.ClassifyIntensity(context.Background(), out.IntensityRequest{BodyText: "hello"})
			if err != nil {
				t.Fatalf("ClassifyIntensity: %v", err)
			}
			if confidence < 0 || confidence > 1 {
				t.Errorf("confidence %v out of [0,1] bounds", confidence)
			}
		})
	}
}

func TestAdapterContractSummarizeReturnsText(t *testing.T) {
	for _, tc := range contractCases() {
		t.Run(tc.name, func(t *testing.T) {
			a := tc.newAdapter(t, tc.successBody("a short summary"))

			summary, err := a.Summarize(context.Background(), out.SummaryRequest{BodyText: "hello"})
			if err != nil {
				t.Fatalf("Summarize: %v", err)
			}
			if summary == "" {
				t.Error("expected a non-empty summary")
			}
		})
	}
}
