package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const claudeBaseURL = "https://api.anthropic.com"

// ClaudeAPIClient is a direct HTTP client for the Anthropic messages API.
type ClaudeAPIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewClaudeAPIClient creates a new Claude API client. An empty baseURL
// uses the public endpoint.
func NewClaudeAPIClient(apiKey, model, baseURL string) *ClaudeAPIClient {
	if baseURL == "" {
		baseURL = claudeBaseURL
	}
	return &ClaudeAPIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  newHTTPClient(),
	}
}

// Complete sends a completion request to the messages API.
func (c *ClaudeAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}
	var result claudeAPIResponse
	if err := postJSON(ctx, c.client, c.Name(), c.baseURL+"/v1/messages", headers, c.buildRequestBody(req), &result); err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &CompletionResponse{
		Content:    content.String(),
		StopReason: result.StopReason,
		Usage: Usage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		},
		Model:    result.Model,
		Duration: time.Since(start),
	}, nil
}

// Name returns the provider name.
func (c *ClaudeAPIClient) Name() string {
	return "claude"
}

func (c *ClaudeAPIClient) buildRequestBody(req CompletionRequest) map[string]any {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	body := map[string]any{
		"model":      model,
		"messages":   c.messagesToClaude(req.Messages),
		"max_tokens": maxTokens(req),
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	return body
}

// messagesToClaude drops system turns; the API takes the system prompt
// as a separate field.
func (c *ClaudeAPIClient) messagesToClaude(msgs []Message) []map[string]string {
	result := make([]map[string]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			continue
		}
		result = append(result, map[string]string{
			"role":    m.Role,
			"content": m.Content,
		})
	}
	return result
}

// API Response structures

type claudeAPIResponse struct {
	ID         string               `json:"id"`
	Content    []claudeContentBlock `json:"content"`
	Model      string               `json:"model"`
	StopReason string               `json:"stop_reason"`
	Usage      claudeUsage          `json:"usage"`
}

type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
