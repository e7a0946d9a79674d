// Package synth composes grounded customer replies with language models.
package synth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
)

const defaultTemperature = 0.7

// Providers looks up a configured provider by name.
type Providers interface {
	Get(name string) (llm.Client, bool)
}

// Request is everything a reply is composed from.
type Request struct {
	Settings domain.MerchantSettings
	Context  domain.ConversationContext
	Records  []domain.DynamicRecord
	History  []domain.Message
	Query    string
}

// Result is a composed reply and where it came from.
type Result struct {
	Text     string
	Source   domain.SourceTag
	Provider string
}

// Config tunes the synthesizer.
type Config struct {
	DefaultProviders []string
	Timeout          time.Duration
}

// Synthesizer walks a provider chain until one produces a usable reply.
type Synthesizer struct {
	providers Providers
	defaults  []string
	timeout   time.Duration
	now       func() time.Time
	log       *logging.Logger
}

// New creates a Synthesizer.
func New(providers Providers, cfg Config, log *logging.Logger) *Synthesizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Synthesizer{
		providers: providers,
		defaults:  cfg.DefaultProviders,
		timeout:   cfg.Timeout,
		now:       time.Now,
		log:       log.Sub("synth"),
	}
}

// Synthesize never fails: when no provider answers, the merchant's
// fallback text is returned with source fallback.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) Result {
	settings := req.Settings.WithDefaults()
	temp := settings.TemperatureOr(defaultTemperature)
	creq := llm.CompletionRequest{
		System: BuildSystemPrompt(PromptConfig{
			Settings: settings,
			Context:  req.Context,
			Records:  req.Records,
			Now:      s.now(),
		}),
		Messages:    BuildMessages(req.History, req.Query),
		MaxTokens:   settings.MaxTokens,
		Temperature: &temp,
	}

	for _, name := range s.chain(settings) {
		if ctx.Err() != nil {
			break
		}
		client, ok := s.providers.Get(name)
		if !ok {
			s.log.Debug().Str("provider", name).Msg("unknown provider, skipping")
			continue
		}

		text, err := s.call(ctx, client, creq)
		if err != nil {
			pe := llm.AsProviderError(name, err)
			evt := s.log.Error()
			if pe.Retryable() {
				evt = s.log.Warn()
			}
			evt.Str("provider", name).Int("code", pe.Code).Err(pe).Msg("provider failed, trying next")
			continue
		}
		if text == "" {
			s.log.Warn().Str("provider", name).Msg("provider returned an empty reply, trying next")
			continue
		}
		return Result{Text: text, Source: domain.SourceTag(name), Provider: name}
	}

	s.log.Warn().Msg("no provider answered, using fallback text")
	return Result{Text: settings.Fallback(), Source: domain.SourceFallback}
}

func (s *Synthesizer) call(ctx context.Context, client llm.Client, req llm.CompletionRequest) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := client.Complete(cctx, req)
	if err != nil {
		return "", err
	}
	s.log.Debug().
		Str("provider", client.Name()).
		Dur("duration", resp.Duration).
		Int("outputTokens", resp.Usage.OutputTokens).
		Msg("provider replied")
	return CleanReply(resp.Content), nil
}

// chain is the merchant's provider order, else the configured default.
// Duplicates are tried once.
func (s *Synthesizer) chain(settings domain.MerchantSettings) []string {
	order := settings.Providers
	if len(order) == 0 {
		order = s.defaults
	}
	seen := make(map[string]bool, len(order))
	out := make([]string, 0, len(order))
	for _, name := range order {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// BuildMessages turns the history window into alternating user and
// assistant turns ending with query. Consecutive turns from one side are
// merged and a leading assistant turn is dropped.
func BuildMessages(history []domain.Message, query string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	add := func(role, content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		if len(msgs) == 0 && role == llm.RoleAssistant {
			return
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n" + content
			return
		}
		msgs = append(msgs, llm.Message{Role: role, Content: content})
	}
	for _, m := range history {
		role := llm.RoleAssistant
		if m.Incoming() {
			role = llm.RoleUser
		}
		add(role, m.Content)
	}
	add(llm.RoleUser, query)
	return msgs
}

var (
	fenceLine  = regexp.MustCompile("(?m)^[ \t]*```[^\n]*\n?")
	blankLines = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// CleanReply trims a model reply, strips code fences and collapses runs
// of blank lines.
func CleanReply(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = fenceLine.ReplaceAllString(s, "")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
