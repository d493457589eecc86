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

// geminiBaseURLFmt is a var (not a const) so tests can point it at a
// local httptest server.
var geminiBaseURLFmt = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s"

// GeminiAdapter is the P3 provider adapter: the same hand-rolled-REST,
// pooled-client idiom as AnthropicAdapter.
type GeminiAdapter struct {
	httpClient *http.Client
	apiKey     string
	modelID    string
	timeout    time.Duration
}

func NewGeminiAdapter(registry *httputil.Registry, apiKey, modelID string, timeout time.Duration) *GeminiAdapter {
	if modelID == "" {
		modelID = "gemini-1.5-flash"
	}
	return &GeminiAdapter{
		httpClient: registry.Get(httputil.GeminiClientConfig()),
		apiKey:     apiKey,
		modelID:    modelID,
		timeout:    timeout,
	}
}

func (g *GeminiAdapter) Name() string    { return "gemini" }
func (g *GeminiAdapter) ModelID() string { return g.modelID }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	UsageMetadata  struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *GeminiAdapter) call(ctx context.Context, prompt string) (geminiResponse, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}})
	if err != nil {
		return geminiResponse{}, 0, apperr.NewPermanent(g.Name(), "failed to marshal request", err)
	}

	url := fmt.Sprintf(geminiBaseURLFmt, g.modelID, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return geminiResponse{}, 0, apperr.NewPermanent(g.Name(), "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return geminiResponse{}, latency, apperr.NewTransient(g.Name(), "request failed", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		var apiErr geminiErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		authFailure := apiErr.Error.Status == "UNAUTHENTICATED"
		category := apperr.ClassifyHTTPStatus(resp.StatusCode, authFailure)
		return geminiResponse{}, latency, &apperr.Error{Category: category, Message: fmt.Sprintf("gemini: %s", apiErr.Error.Message), HTTPStatus: resp.StatusCode, Service: g.Name()}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return geminiResponse{}, latency, apperr.NewPermanent(g.Name(), "malformed response body", err)
	}
	return parsed, latency, nil
}

func firstText(resp geminiResponse) (string, bool) {
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", false
	}
	return resp.Candidates[0].Content.Parts[0].Text, true
}

func (g *GeminiAdapter) Extract(ctx context.Context, req out.ExtractRequest) (out.ProviderResult, error) {
	resp, latency, err := g.call(ctx, extractionPrompt(req.BodyText, req.ReceivedAt))
	if err != nil {
		return out.ProviderResult{}, err
	}
	text, ok := firstText(resp)
	if !ok {
		return out.ProviderResult{}, apperr.NewPermanent(g.Name(), "empty candidates", nil)
	}

	entities, err := parseExtraction(g.Name(), g.modelID, []byte(text), req.ReceivedAt)
	if err != nil {
		return out.ProviderResult{}, err
	}
	entities.MessageID = req.MessageID
	entities.InputTokens = resp.UsageMetadata.PromptTokenCount
	entities.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	entities.LatencyMS = latency

	return out.ProviderResult{Entities: entities, InputTokens: resp.UsageMetadata.PromptTokenCount, OutputTokens: resp.UsageMetadata.CandidatesTokenCount, LatencyMS: latency}, nil
}

func (g *GeminiAdapter) ClassifyIntensity(ctx context.Context, req out.IntensityRequest) (domain.Intensity, float64, error) {
	resp, _, err := g.call(ctx, intensityPrompt(req.BodyText, req.Context))
	if err != nil {
		return "", 0, err
	}
	text, ok := firstText(resp)
	if !ok {
		return "", 0, apperr.NewPermanent(g.Name(), "empty candidates", nil)
	}
	var parsed intensityResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return "", 0, apperr.NewPermanent(g.Name(), "intensity response did not match schema", err)
	}
	return domain.Intensity(parsed.Intensity), parsed.Confidence, nil
}

func (g *GeminiAdapter) Summarize(ctx context.Context, req out.SummaryRequest) (string, error) {
	resp, _, err := g.call(ctx, summaryPrompt(req.BodyText, req.Entities))
	if err != nil {
		return "", err
	}
	text, ok := firstText(resp)
	if !ok {
		return "", apperr.NewPermanent(g.Name(), "empty candidates", nil)
	}
	return text, nil
}
