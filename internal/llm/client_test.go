package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func sampleRequest() CompletionRequest {
	temp := 0.7
	return CompletionRequest{
		System: "You are Sami from Acme.",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "Hello!"},
			{Role: RoleUser, Content: "Do you deliver?"},
		},
		MaxTokens:   200,
		Temperature: &temp,
	}
}

// captureServer records the last request body and replies with status and body.
func captureServer(t *testing.T, status int, reply string) (*httptest.Server, *map[string]any, *http.Header) {
	t.Helper()
	var got map[string]any
	var hdr http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &got)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &got, &hdr
}

// --- Registry tests ---

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry(silentLog())

	mock := &MockClient{ProviderName: "test-provider"}
	reg.Register("test-provider", mock)

	client, err := reg.Resolve("test-provider")
	require.NoError(t, err)
	assert.Equal(t, "test-provider", client.Name())
}

func TestRegistryAlias(t *testing.T) {
	reg := NewRegistry(silentLog())

	mock := &MockClient{ProviderName: "claude"}
	reg.Register("claude", mock)
	reg.Alias("sonnet", "claude")

	client, err := reg.Resolve("sonnet")
	require.NoError(t, err)
	assert.Equal(t, "claude", client.Name())
}

func TestRegistryFallback(t *testing.T) {
	reg := NewRegistry(silentLog())

	reg.Register("default-llm", &MockClient{ProviderName: "default-llm"})
	reg.SetFallback("default-llm")

	client, err := reg.Resolve("unknown-model-xyz")
	require.NoError(t, err)
	assert.Equal(t, "default-llm", client.Name())
}

func TestRegistryGetIsExact(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("primary", &MockClient{ProviderName: "claude"})
	reg.Alias("claude", "primary")
	reg.SetFallback("primary")

	_, ok := reg.Get("primary")
	assert.True(t, ok)
	_, ok = reg.Get("claude")
	assert.False(t, ok, "Get ignores aliases")
	_, ok = reg.Get("missing")
	assert.False(t, ok, "Get ignores the fallback")
}

func TestRegistryResolveNotFound(t *testing.T) {
	reg := NewRegistry(silentLog())

	_, err := reg.Resolve("nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no LLM provider")
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("b", &MockClient{ProviderName: "b"})
	reg.Register("a", &MockClient{ProviderName: "a"})

	assert.Equal(t, []string{"a", "b"}, reg.List())
}

func TestNewRegistryFromConfig(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := config.LLMConfig{
		DefaultProviders: []string{"cloud", "local"},
		Providers: map[string]config.ProviderEntry{
			"local": {API: "ollama", Model: "llama3"},
			"cloud": {API: "claude", Model: "claude-x"},
			"gpt":   {API: "openai", Model: "gpt-x", APIKey: "sk-test"},
		},
	}
	reg := NewRegistryFromConfig(cfg, silentLog())

	assert.Equal(t, []string{"gpt", "local"}, reg.List(), "claude without a key is skipped")

	client, err := reg.Resolve("ollama")
	require.NoError(t, err)
	assert.Equal(t, "ollama", client.Name())

	client, err = reg.Resolve("anything")
	require.NoError(t, err)
	assert.Equal(t, "ollama", client.Name(), "first registered default is the fallback")
}

func TestNewClientUnknownAPI(t *testing.T) {
	_, err := NewClient(config.ProviderEntry{API: "mystery", Model: "m"})
	assert.Error(t, err)
}

// --- ProviderError ---

func TestProviderErrorFormat(t *testing.T) {
	cause := errors.New("connection refused")
	tests := []struct {
		err  ProviderError
		want string
	}{
		{ProviderError{Provider: "a", Message: "fail", Code: 500}, "a: 500 fail"},
		{ProviderError{Provider: "b", Message: "oops"}, "b: oops"},
		{ProviderError{Provider: "c", Message: "request failed", Err: cause}, "c: request failed: connection refused"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error(), fmt.Sprintf("%+v", tt.err))
	}
}

func TestProviderErrorRetryable(t *testing.T) {
	assert.True(t, (&ProviderError{Code: 429}).Retryable())
	assert.True(t, (&ProviderError{Code: 503}).Retryable())
	assert.True(t, (&ProviderError{Err: context.DeadlineExceeded}).Retryable())
	assert.False(t, (&ProviderError{Code: 401}).Retryable())
	assert.False(t, (&ProviderError{Code: 400}).Retryable())
	assert.False(t, (&ProviderError{Message: "bad config"}).Retryable())
}

func TestAsProviderError(t *testing.T) {
	orig := &ProviderError{Provider: "claude", Code: 401}
	wrapped := fmt.Errorf("synth: %w", orig)
	assert.Same(t, orig, AsProviderError("other", wrapped))

	pe := AsProviderError("ollama", errors.New("boom"))
	assert.Equal(t, "ollama", pe.Provider)
	assert.ErrorContains(t, pe, "boom")
}

// --- Mock ---

func TestMockClientComplete(t *testing.T) {
	mock := &MockClient{
		ProviderName: "test",
		CompleteFunc: func(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Content: "echo: " + req.Messages[0].Content}, nil
		},
	}
	resp, err := mock.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", resp.Content)
}

func TestMockClientDefaultComplete(t *testing.T) {
	mock := &MockClient{ProviderName: "default"}
	resp, err := mock.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
}

// --- HTTP providers ---

func TestClaudeAPIClientComplete(t *testing.T) {
	srv, body, hdr := captureServer(t, http.StatusOK,
		`{"id":"msg_1","model":"claude-x","stop_reason":"end_turn","content":[{"type":"text","text":"We deliver "},{"type":"text","text":"daily."}],"usage":{"input_tokens":12,"output_tokens":4}}`)

	c := NewClaudeAPIClient("key-1", "claude-x", srv.URL)
	resp, err := c.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "We deliver daily.", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 4}, resp.Usage)

	assert.Equal(t, "key-1", hdr.Get("x-api-key"))
	assert.Equal(t, "You are Sami from Acme.", (*body)["system"])
	assert.Equal(t, float64(200), (*body)["max_tokens"])
	assert.Len(t, (*body)["messages"], 3)
}

func TestClaudeAPIClientHTTPError(t *testing.T) {
	srv, _, _ := captureServer(t, http.StatusTooManyRequests, `{"error":"rate limited"}`)

	_, err := NewClaudeAPIClient("k", "m", srv.URL).Complete(context.Background(), sampleRequest())
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "claude", pe.Provider)
	assert.Equal(t, 429, pe.Code)
	assert.True(t, pe.Retryable())
}

func TestGeminiAPIClientComplete(t *testing.T) {
	srv, body, hdr := captureServer(t, http.StatusOK,
		`{"candidates":[{"content":{"parts":[{"text":"Yes, "},{"text":"we do."}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":3}}`)

	resp, err := NewGeminiAPIClient("g-key", "gemini-x", srv.URL).Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "Yes, we do.", resp.Content)
	assert.Equal(t, "STOP", resp.StopReason)
	assert.Equal(t, 3, resp.Usage.OutputTokens)

	assert.Equal(t, "g-key", hdr.Get("x-goog-api-key"))
	contents := (*body)["contents"].([]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
	assert.NotNil(t, (*body)["systemInstruction"])
}

func TestOllamaAPIClientComplete(t *testing.T) {
	srv, body, _ := captureServer(t, http.StatusOK,
		`{"model":"llama3","response":"Delivery takes two days.","done":true,"prompt_eval_count":20,"eval_count":6}`)

	resp, err := NewOllamaAPIClient(srv.URL+"/", "llama3").Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "Delivery takes two days.", resp.Content)
	assert.Equal(t, Usage{InputTokens: 20, OutputTokens: 6}, resp.Usage)

	assert.Equal(t, false, (*body)["stream"])
	assert.Equal(t, "You are Sami from Acme.", (*body)["system"])
	assert.Equal(t, "user: hi\n\nassistant: Hello!\n\nDo you deliver?", (*body)["prompt"])
}

func TestOpenAIAPIClientComplete(t *testing.T) {
	srv, body, hdr := captureServer(t, http.StatusOK,
		`{"model":"gpt-x","choices":[{"message":{"role":"assistant","content":"Sure thing."},"finish_reason":"stop"}],"usage":{"prompt_tokens":30,"completion_tokens":3}}`)

	resp, err := NewOpenAIAPIClient("sk-1", "gpt-x", srv.URL).Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "Sure thing.", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)

	assert.Equal(t, "Bearer sk-1", hdr.Get("Authorization"))
	msgs := (*body)["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleSystem, msgs[0].(map[string]any)["role"])
}

func TestProviderTimeoutIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewOpenAIAPIClient("k", "m", srv.URL).Complete(ctx, sampleRequest())
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "openai", pe.Provider)
	assert.Equal(t, 0, pe.Code)
	assert.True(t, pe.Retryable())
}

func TestMaxTokensDefault(t *testing.T) {
	assert.Equal(t, defaultMaxTokens, maxTokens(CompletionRequest{}))
	assert.Equal(t, 50, maxTokens(CompletionRequest{MaxTokens: 50}))
}
