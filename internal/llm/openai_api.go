package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIAPIClient speaks the chat completions API. Any compatible server
// works through baseURL.
type OpenAIAPIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIAPIClient creates a chat completions client. An empty baseURL
// uses the public endpoint.
func NewOpenAIAPIClient(apiKey, model, baseURL string) *OpenAIAPIClient {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	return &OpenAIAPIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  newHTTPClient(),
	}
}

// Complete sends a chat completion request.
func (c *OpenAIAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: req.System})
	}
	msgs = append(msgs, req.Messages...)

	body := map[string]any{
		"model":      model,
		"messages":   msgs,
		"max_tokens": maxTokens(req),
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}

	var headers map[string]string
	if c.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + c.apiKey}
	}

	var result openAIResponse
	if err := postJSON(ctx, c.client, c.Name(), c.baseURL+"/chat/completions", headers, body, &result); err != nil {
		return nil, err
	}

	resp := &CompletionResponse{
		Usage: Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
		Model:    result.Model,
		Duration: time.Since(start),
	}
	if len(result.Choices) > 0 {
		resp.Content = result.Choices[0].Message.Content
		resp.StopReason = result.Choices[0].FinishReason
	}
	return resp, nil
}

// Name returns the provider name.
func (c *OpenAIAPIClient) Name() string {
	return "openai"
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
