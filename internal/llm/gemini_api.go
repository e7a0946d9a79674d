package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiAPIClient is a direct HTTP client for the Google Gemini API.
type GeminiAPIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGeminiAPIClient creates a new Gemini API client. An empty baseURL
// uses the public endpoint.
func NewGeminiAPIClient(apiKey, model, baseURL string) *GeminiAPIClient {
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	return &GeminiAPIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  newHTTPClient(),
	}
}

// Complete sends a generateContent request.
func (g *GeminiAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := g.model
	if req.Model != "" {
		model = req.Model
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, url.PathEscape(model))
	headers := map[string]string{"x-goog-api-key": g.apiKey}

	var result geminiAPIResponse
	if err := postJSON(ctx, g.client, g.Name(), endpoint, headers, g.buildRequestBody(req), &result); err != nil {
		return nil, err
	}

	var content strings.Builder
	stopReason := ""
	if len(result.Candidates) > 0 {
		candidate := result.Candidates[0]
		for _, part := range candidate.Content.Parts {
			content.WriteString(part.Text)
		}
		stopReason = candidate.FinishReason
	}

	return &CompletionResponse{
		Content:    content.String(),
		StopReason: stopReason,
		Usage: Usage{
			InputTokens:  result.UsageMetadata.PromptTokenCount,
			OutputTokens: result.UsageMetadata.CandidatesTokenCount,
		},
		Model:    model,
		Duration: time.Since(start),
	}, nil
}

// Name returns the provider name.
func (g *GeminiAPIClient) Name() string {
	return "gemini"
}

func (g *GeminiAPIClient) buildRequestBody(req CompletionRequest) map[string]any {
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		switch m.Role {
		case RoleAssistant:
			role = "model"
		case RoleSystem:
			continue
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	genCfg := map[string]any{"maxOutputTokens": maxTokens(req)}
	if req.Temperature != nil {
		genCfg["temperature"] = *req.Temperature
	}

	body := map[string]any{
		"contents":         contents,
		"generationConfig": genCfg,
	}
	if req.System != "" {
		body["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	return body
}

// API Response structures

type geminiAPIResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}
