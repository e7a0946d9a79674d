package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields resolves ${ENV_VAR} references in credential fields.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Catalog.PostgresDSN = expandEnvVars(cfg.Catalog.PostgresDSN)
	if cfg.Channels.IRC != nil {
		cfg.Channels.IRC.Password = expandEnvVars(cfg.Channels.IRC.Password)
	}
	if cfg.Channels.Telegram != nil {
		for owner, token := range cfg.Channels.Telegram.Tokens {
			cfg.Channels.Telegram.Tokens[owner] = expandEnvVars(token)
		}
	}
	for name, provider := range cfg.LLM.Providers {
		provider.APIKey = expandEnvVars(provider.APIKey)
		cfg.LLM.Providers[name] = provider
	}
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file next to the config
// and from the working directory. Existing variables win.
func LoadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Load reads the config file (YAML, or TOML for *.toml), applies
// environment overrides, and returns a merged Config. Missing files
// produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Catalog.Source == "" {
		cfg.Catalog.Source = d.Catalog.Source
	}
	if cfg.Catalog.CacheTTL == 0 {
		cfg.Catalog.CacheTTL = d.Catalog.CacheTTL
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = d.LLM.Timeout
	}

	e, de := &cfg.Engine, d.Engine
	durations := []struct {
		field *time.Duration
		def   time.Duration
	}{
		{&e.LockTTL, de.LockTTL},
		{&e.LockMaxHold, de.LockMaxHold},
		{&e.MinSpacing, de.MinSpacing},
		{&e.SweepInterval, de.SweepInterval},
		{&e.EntryMaxAge, de.EntryMaxAge},
		{&e.ReplyDelayMin, de.ReplyDelayMin},
		{&e.ReplyDelayMax, de.ReplyDelayMax},
		{&e.SessionWindow, de.SessionWindow},
		{&e.ContextCacheTTL, de.ContextCacheTTL},
		{&e.MenuTTL, de.MenuTTL},
		{&e.ReconnectDelay, de.ReconnectDelay},
		{&e.ConnectTimeout, de.ConnectTimeout},
	}
	for _, it := range durations {
		if *it.field == 0 {
			*it.field = it.def
		}
	}
	if e.HistoryWindow == 0 {
		e.HistoryWindow = de.HistoryWindow
	}
	if e.FuzzyThreshold == 0 {
		e.FuzzyThreshold = de.FuzzyThreshold
	}
	if e.TopK == 0 {
		e.TopK = de.TopK
	}
	if e.GroundingLimit == 0 {
		e.GroundingLimit = de.GroundingLimit
	}
	if e.MaxReconnects == 0 {
		e.MaxReconnects = de.MaxReconnects
	}
}

// applyEnvOverrides reads CONCIERGE_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONCIERGE_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("CONCIERGE_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("CONCIERGE_GATEWAY_TOKEN"); v != "" && cfg.Gateway.Auth.Token == "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("CONCIERGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CONCIERGE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CONCIERGE_POSTGRES_DSN"); v != "" {
		cfg.Catalog.PostgresDSN = v
		cfg.Catalog.Source = "postgres"
	}
	if v := os.Getenv("CONCIERGE_DEFAULT_PROVIDERS"); v != "" {
		cfg.LLM.DefaultProviders = strings.Split(v, ",")
	}
}
