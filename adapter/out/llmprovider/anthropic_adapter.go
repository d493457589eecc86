package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/internal/apperr"
	"collabiq/internal/httputil"
)

// anthropicBaseURL is a var (not a const) so tests can point it at a
// local httptest server.
var anthropicBaseURL = "https://api.anthropic.com/v1/messages"

// AnthropicAdapter is the P2 provider adapter: a hand-rolled REST client
// over a dedicated pooled *http.Client, the same per-provider-pool idiom
// the teacher uses for Gmail/Outlook/OpenAI.
type AnthropicAdapter struct {
	httpClient *http.Client
	apiKey     string
	modelID    string
	timeout    time.Duration
}

func NewAnthropicAdapter(registry *httputil.Registry, apiKey, modelID string, timeout time.Duration) *AnthropicAdapter {
	if modelID == "" {
		modelID = "claude-3-5-haiku-latest"
	}
	return &AnthropicAdapter{
		httpClient: registry.Get(httputil.AnthropicClientConfig()),
		apiKey:     apiKey,
		modelID:    modelID,
		timeout:    timeout,
	}
}

func (a *AnthropicAdapter) Name() string    { return "anthropic" }
func (a *AnthropicAdapter) ModelID() string { return a.modelID }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) call(ctx context.Context, prompt string) (anthropicResponse, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	body, err := json.Marshal(anthropicRequest{
		Model:     a.modelID,
		MaxTokens: 1024,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return anthropicResponse{}, 0, apperr.NewPermanent(a.Name(), "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicBaseURL, bytes.NewReader(body))
	if err != nil {
		return anthropicResponse{}, 0, apperr.NewPermanent(a.Name(), "failed to build request", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return anthropicResponse{}, latency, apperr.NewTransient(a.Name(), "request failed", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		var apiErr anthropicErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		authFailure := apiErr.Error.Type == "authentication_error"
		category := apperr.ClassifyHTTPStatus(resp.StatusCode, authFailure)
		return anthropicResponse{}, latency, &apperr.Error{Category: category, Message: fmt.Sprintf("anthropic: %s", apiErr.Error.Message), HTTPStatus: resp.StatusCode, Service: a.Name()}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return anthropicResponse{}, latency, apperr.NewPermanent(a.Name(), "malformed response body", err)
	}
	return parsed, latency, nil
}

func (a *AnthropicAdapter) Extract(ctx context.Context, req out.ExtractRequest) (out.ProviderResult, error) {
	resp, latency, err := a.call(ctx, extractionPrompt(req.BodyText, req.ReceivedAt))
	if err != nil {
		return out.ProviderResult{}, err
	}
	if len(resp.Content) == 0 {
		return out.ProviderResult{}, apperr.NewPermanent(a.Name(), "empty content blocks", nil)
	}

	entities, err := parseExtraction(a.Name(), a.modelID, []byte(resp.Content[0].Text), req.ReceivedAt)
	if err != nil {
		return out.ProviderResult{}, err
	}
	entities.MessageID = req.MessageID
	entities.InputTokens = resp.Usage.InputTokens
	entities.OutputTokens = resp.Usage.OutputTokens
	entities.LatencyMS = latency

	return out.ProviderResult{Entities: entities, InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens, LatencyMS: latency}, nil
}

func (a *AnthropicAdapter) ClassifyIntensity(ctx context.Context, req out.IntensityRequest) (domain.Intensity, float64, error) {
	resp, _, err := a.call(ctx, intensityPrompt(req.BodyText, req.Context))
	if err != nil {
		return "", 0, err
	}
	if len(resp.Content) == 0 {
		return "", 0, apperr.NewPermanent(a.Name(), "empty content blocks", nil)
	}
	var parsed intensityResponse
	if err := json.Unmarshal([]byte(resp.Content[0].Text), &parsed); err != nil {
		return "", 0, apperr.NewPermanent(a.Name(), "intensity response did not match schema", err)
	}
	return domain.Intensity(parsed.Intensity), parsed.Confidence, nil
}

func (a *AnthropicAdapter) Summarize(ctx context.Context, req out.SummaryRequest) (string, error) {
	resp, _, err := a.call(ctx, summaryPrompt(req.BodyText, req.Entities))
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", apperr.NewPermanent(a.Name(), "empty content blocks", nil)
	}
	return resp.Content[0].Text, nil
}
