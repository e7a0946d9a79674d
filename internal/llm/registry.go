package llm

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/logging"
)

// Registry manages LLM provider clients and resolves model references to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Str("api", client.Name()).Msg("registered LLM provider")
}

// Alias maps a model name/alias to a provider.
// e.g., Alias("sonnet", "claude") means "sonnet" resolves to the "claude" provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the default provider used when no model/provider match is found.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Get returns the client registered under exactly name.
func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Resolve returns the Client for the given model reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[model]; ok {
		return c, nil
	}

	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}

	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}

	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewClient builds the HTTP client for one configured provider. API keys
// left empty are read from the provider's usual environment variable.
func NewClient(p config.ProviderEntry) (Client, error) {
	key := p.APIKey
	switch p.API {
	case "claude":
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("claude provider needs an API key")
		}
		return NewClaudeAPIClient(key, p.Model, p.BaseURL), nil
	case "gemini":
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("gemini provider needs an API key")
		}
		return NewGeminiAPIClient(key, p.Model, p.BaseURL), nil
	case "ollama":
		return NewOllamaAPIClient(p.BaseURL, p.Model), nil
	case "openai":
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" && p.BaseURL == "" {
			return nil, fmt.Errorf("openai provider needs an API key")
		}
		return NewOpenAIAPIClient(key, p.Model, p.BaseURL), nil
	}
	return nil, fmt.Errorf("unknown provider api %q", p.API)
}

// NewRegistryFromConfig registers every usable configured provider. Each
// API name becomes an alias for the first provider (by name) using it, and
// the first registered default provider becomes the fallback.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := cfg.Providers[name]
		client, err := NewClient(entry)
		if err != nil {
			reg.log.Warn().Err(err).Str("provider", name).Msg("skipping LLM provider")
			continue
		}
		reg.Register(name, client)
		if _, taken := reg.aliases[entry.API]; !taken && entry.API != name {
			reg.Alias(entry.API, name)
		}
	}

	for _, name := range cfg.DefaultProviders {
		if _, ok := reg.Get(name); ok {
			reg.SetFallback(name)
			break
		}
	}
	return reg
}
