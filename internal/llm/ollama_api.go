package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const ollamaBaseURL = "http://localhost:11434"

// OllamaAPIClient is a direct HTTP client for the Ollama API.
type OllamaAPIClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaAPIClient creates a new Ollama API client.
// baseURL should be like "http://localhost:11434"
func NewOllamaAPIClient(baseURL, model string) *OllamaAPIClient {
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	return &OllamaAPIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  newHTTPClient(),
	}
}

// Complete sends a non-streaming /api/generate request.
func (o *OllamaAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := o.model
	if req.Model != "" {
		model = req.Model
	}
	options := map[string]any{"num_predict": maxTokens(req)}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	body := map[string]any{
		"model":   model,
		"prompt":  o.buildPrompt(req),
		"stream":  false,
		"options": options,
	}
	if req.System != "" {
		body["system"] = req.System
	}

	var result ollamaAPIResponse
	if err := postJSON(ctx, o.client, o.Name(), o.baseURL+"/api/generate", nil, body, &result); err != nil {
		return nil, err
	}

	return &CompletionResponse{
		Content: result.Response,
		Usage: Usage{
			InputTokens:  result.PromptEvalCount,
			OutputTokens: result.EvalCount,
		},
		Model:    model,
		Duration: time.Since(start),
	}, nil
}

// Name returns the provider name.
func (o *OllamaAPIClient) Name() string {
	return "ollama"
}

// buildPrompt flattens the conversation; /api/generate takes one prompt.
func (o *OllamaAPIClient) buildPrompt(req CompletionRequest) string {
	var prompt strings.Builder
	for i, msg := range req.Messages {
		if msg.Role == RoleSystem {
			continue
		}
		last := i == len(req.Messages)-1
		if !last || msg.Role != RoleUser {
			fmt.Fprintf(&prompt, "%s: ", msg.Role)
		}
		prompt.WriteString(msg.Content)
		prompt.WriteString("\n\n")
	}
	return strings.TrimSpace(prompt.String())
}

// API Response structures

type ollamaAPIResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}
