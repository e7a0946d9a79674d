package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasIssue(issues []ValidationIssue, path string) bool {
	for _, i := range issues {
		if i.Path == path {
			return true
		}
	}
	return false
}

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = 70000
	issues := Validate(&cfg)
	require.True(t, hasIssue(issues, "gateway.port"), "issues: %v", issues)
}

func TestValidate_InvalidEnums(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Bind = "tailnet"
	cfg.Logging.Level = "loud"
	cfg.Catalog.Source = "mongo"

	issues := Validate(&cfg)
	assert.True(t, hasIssue(issues, "gateway.bind"))
	assert.True(t, hasIssue(issues, "logging.level"))
	assert.True(t, hasIssue(issues, "catalog.source"))
}

func TestValidate_ReplyDelayOrder(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.ReplyDelayMin = 5 * time.Second
	cfg.Engine.ReplyDelayMax = time.Second
	assert.True(t, hasIssue(Validate(&cfg), "engine.replyDelayMax"))
}

func TestValidate_LockMaxHoldCoversReply(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Timeout = 30 * time.Second
	cfg.Engine.ReplyDelayMax = 6 * time.Second
	cfg.Engine.LockMaxHold = 20 * time.Second
	assert.True(t, hasIssue(Validate(&cfg), "engine.lockMaxHold"))

	cfg.Engine.LockMaxHold = 36 * time.Second
	assert.False(t, hasIssue(Validate(&cfg), "engine.lockMaxHold"))
}

func TestValidate_FuzzyThresholdBand(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.FuzzyThreshold = 0.95
	assert.True(t, hasIssue(Validate(&cfg), "engine.fuzzyThreshold"))
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	cfg := Defaults()
	cfg.Catalog.Source = "postgres"
	assert.True(t, hasIssue(Validate(&cfg), "catalog.postgresDSN"))
}

func TestValidate_Providers(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers = map[string]ProviderEntry{
		"openai": {API: "openai", Model: "gpt-4o-mini"},
		"weird":  {API: "carrier-pigeon", Model: "m"},
		"local":  {API: "ollama", Model: "llama3"},
	}
	cfg.LLM.DefaultProviders = []string{"local", "missing"}

	issues := Validate(&cfg)
	assert.True(t, hasIssue(issues, "llm.providers.openai.apiKey"))
	assert.True(t, hasIssue(issues, "llm.providers.weird.api"))
	assert.False(t, hasIssue(issues, "llm.providers.local.apiKey"))
	assert.True(t, hasIssue(issues, "llm.defaultProviders"))
}

func TestValidate_IRC(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.IRC = &IRCConfig{Port: 6697, SASL: true}

	issues := Validate(&cfg)
	assert.True(t, hasIssue(issues, "channels.irc.server"))
	assert.True(t, hasIssue(issues, "channels.irc.nick"))
	assert.True(t, hasIssue(issues, "channels.irc.sasl"))

	cfg.Channels.IRC = &IRCConfig{Server: "irc.libera.chat", Nick: "shop-{owner}", Password: "pw", SASL: true}
	assert.Empty(t, Validate(&cfg))
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "gateway.port", Message: "bad"}
	assert.Equal(t, "gateway.port: bad", issue.String())
}
