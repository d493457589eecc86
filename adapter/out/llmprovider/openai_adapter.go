package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/internal/apperr"
)

// OpenAIAdapter is the P1 provider adapter, grounded on the teacher's
// go-openai chat-completion client.
type OpenAIAdapter struct {
	client  *openai.Client
	name    string
	modelID string
	timeout time.Duration
}

// NewOpenAIAdapter constructs the adapter. apiKey must come from the
// secret store (or env fallback) at construction, per §4.5 — callers are
// expected to have already resolved it via out.SecretStore.
func NewOpenAIAdapter(apiKey, modelID string, timeout time.Duration) *OpenAIAdapter {
	return newOpenAIAdapter(apiKey, "", modelID, timeout)
}

// newOpenAIAdapter additionally accepts a baseURL override, letting tests
// point the client at a local server; an empty baseURL keeps go-openai's
// default.
func newOpenAIAdapter(apiKey, baseURL, modelID string, timeout time.Duration) *OpenAIAdapter {
	if modelID == "" {
		modelID = "gpt-4o-mini"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAdapter{
		client:  openai.NewClientWithConfig(cfg),
		name:    "openai",
		modelID: modelID,
		timeout: timeout,
	}
}

func (a *OpenAIAdapter) Name() string    { return a.name }
func (a *OpenAIAdapter) ModelID() string { return a.modelID }

func (a *OpenAIAdapter) Extract(ctx context.Context, req out.ExtractRequest) (out.ProviderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          a.modelID,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: extractionPrompt(req.BodyText, req.ReceivedAt)},
		},
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return out.ProviderResult{}, a.classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return out.ProviderResult{}, apperr.NewPermanent(a.name, "empty completion choices", nil)
	}

	entities, err := parseExtraction(a.name, a.modelID, []byte(resp.Choices[0].Message.Content), req.ReceivedAt)
	if err != nil {
		return out.ProviderResult{}, err
	}
	entities.MessageID = req.MessageID
	entities.InputTokens = resp.Usage.PromptTokens
	entities.OutputTokens = resp.Usage.CompletionTokens
	entities.LatencyMS = latency

	return out.ProviderResult{
		Entities:     entities,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		LatencyMS:    latency,
	}, nil
}

type intensityResponse struct {
	Intensity  string  `json:"intensity"`
	Confidence float64 `json:"confidence"`
}

func (a *OpenAIAdapter) ClassifyIntensity(ctx context.Context, req out.IntensityRequest) (domain.Intensity, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          a.modelID,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: intensityPrompt(req.BodyText, req.Context)},
		},
	})
	if err != nil {
		return "", 0, a.classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", 0, apperr.NewPermanent(a.name, "empty completion choices", nil)
	}

	var parsed intensityResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return "", 0, apperr.NewPermanent(a.name, "intensity response did not match schema", err)
	}
	return domain.Intensity(parsed.Intensity), parsed.Confidence, nil
}

func (a *OpenAIAdapter) Summarize(ctx context.Context, req out.SummaryRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: summaryPrompt(req.BodyText, req.Entities)},
		},
	})
	if err != nil {
		return "", a.classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.NewPermanent(a.name, "empty completion choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *OpenAIAdapter) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		authFailure := apiErr.HTTPStatusCode == http.StatusForbidden && apiErr.Code == "invalid_api_key"
		category := apperr.ClassifyHTTPStatus(apiErr.HTTPStatusCode, authFailure)
		return &apperr.Error{Category: category, Message: fmt.Sprintf("openai: %s", apiErr.Message), HTTPStatus: apiErr.HTTPStatusCode, Service: a.name, Err: err}
	}
	return apperr.NewTransient(a.name, "request failed", err)
}
