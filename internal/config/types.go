package config

import "time"

// Config is the root configuration for Concierge.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging,omitempty" toml:"logging"`
	Gateway  GatewayConfig  `yaml:"gateway,omitempty" toml:"gateway"`
	Store    StoreConfig    `yaml:"store,omitempty" toml:"store"`
	Catalog  CatalogConfig  `yaml:"catalog,omitempty" toml:"catalog"`
	Engine   EngineConfig   `yaml:"engine,omitempty" toml:"engine"`
	LLM      LLMConfig      `yaml:"llm,omitempty" toml:"llm"`
	Channels ChannelsConfig `yaml:"channels,omitempty" toml:"channels"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty" toml:"level" validate:"omitempty,oneof=silent fatal error warn info debug trace"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty" toml:"consoleStyle" validate:"omitempty,oneof=pretty compact json"`
}

// GatewayConfig controls the HTTP gateway.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty" toml:"port" validate:"min=0,max=65535"`
	Bind           string      `yaml:"bind,omitempty" toml:"bind" validate:"omitempty,oneof=loopback lan custom"`
	CustomBindHost string      `yaml:"customBindHost,omitempty" toml:"customBindHost"`
	Auth           GatewayAuth `yaml:"auth,omitempty" toml:"auth"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty" toml:"allowedOrigins"`
	PublicURL      string      `yaml:"publicURL,omitempty" toml:"publicURL" validate:"omitempty,url"`
}

// GatewayAuth configures bearer-token auth for the session API.
type GatewayAuth struct {
	Token string `yaml:"token,omitempty" toml:"token"`
}

// StoreConfig selects the SQLite database file.
type StoreConfig struct {
	Path string `yaml:"path,omitempty" toml:"path"`
}

// CatalogConfig selects where merchant records are read from.
type CatalogConfig struct {
	Source      string        `yaml:"source,omitempty" toml:"source" validate:"omitempty,oneof=sqlite postgres"`
	PostgresDSN string        `yaml:"postgresDSN,omitempty" toml:"postgresDSN"`
	CacheTTL    time.Duration `yaml:"cacheTTL,omitempty" toml:"cacheTTL"`
}

// EngineConfig tunes the conversational engine.
type EngineConfig struct {
	LockTTL         time.Duration `yaml:"lockTTL,omitempty" toml:"lockTTL"`
	LockMaxHold     time.Duration `yaml:"lockMaxHold,omitempty" toml:"lockMaxHold"`
	MinSpacing      time.Duration `yaml:"minSpacing,omitempty" toml:"minSpacing"`
	SweepInterval   time.Duration `yaml:"sweepInterval,omitempty" toml:"sweepInterval"`
	EntryMaxAge     time.Duration `yaml:"entryMaxAge,omitempty" toml:"entryMaxAge"`
	ReplyDelayMin   time.Duration `yaml:"replyDelayMin,omitempty" toml:"replyDelayMin"`
	ReplyDelayMax   time.Duration `yaml:"replyDelayMax,omitempty" toml:"replyDelayMax"`
	HistoryWindow   int           `yaml:"historyWindow,omitempty" toml:"historyWindow" validate:"min=0,max=200"`
	SessionWindow   time.Duration `yaml:"sessionWindow,omitempty" toml:"sessionWindow"`
	ContextCacheTTL time.Duration `yaml:"contextCacheTTL,omitempty" toml:"contextCacheTTL"`
	MenuTTL         time.Duration `yaml:"menuTTL,omitempty" toml:"menuTTL"`
	FuzzyThreshold  float64       `yaml:"fuzzyThreshold,omitempty" toml:"fuzzyThreshold"`
	TopK            int           `yaml:"topK,omitempty" toml:"topK" validate:"min=0,max=20"`
	GroundingLimit  int           `yaml:"groundingLimit,omitempty" toml:"groundingLimit" validate:"min=0,max=100"`
	ReconnectDelay  time.Duration `yaml:"reconnectDelay,omitempty" toml:"reconnectDelay"`
	MaxReconnects   int           `yaml:"maxReconnects,omitempty" toml:"maxReconnects" validate:"min=0"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout,omitempty" toml:"connectTimeout"`
}

// LLMConfig defines language-model providers.
type LLMConfig struct {
	DefaultProviders []string                 `yaml:"defaultProviders,omitempty" toml:"defaultProviders"`
	Timeout          time.Duration            `yaml:"timeout,omitempty" toml:"timeout"`
	Providers        map[string]ProviderEntry `yaml:"providers,omitempty" toml:"providers" validate:"dive"`
}

// ProviderEntry defines one language-model provider.
type ProviderEntry struct {
	API     string `yaml:"api" toml:"api" validate:"required,oneof=claude gemini ollama openai"`
	APIKey  string `yaml:"apiKey,omitempty" toml:"apiKey"`
	Model   string `yaml:"model" toml:"model" validate:"required"`
	BaseURL string `yaml:"baseURL,omitempty" toml:"baseURL" validate:"omitempty,url"`
}

// ChannelsConfig holds per-transport settings.
type ChannelsConfig struct {
	Telegram *TelegramConfig `yaml:"telegram,omitempty" toml:"telegram"`
	IRC      *IRCConfig      `yaml:"irc,omitempty" toml:"irc"`
	WebChat  *WebChatConfig  `yaml:"webchat,omitempty" toml:"webchat"`
}

// TelegramConfig maps merchant owners to bot tokens. Tokens saved as
// session credentials take precedence.
type TelegramConfig struct {
	Tokens      map[string]string `yaml:"tokens,omitempty" toml:"tokens"`
	PollTimeout int               `yaml:"pollTimeout,omitempty" toml:"pollTimeout" validate:"min=0,max=120"`
}

// IRCConfig configures the IRC transport. Each owner gets its own
// connection; Nick may contain "{owner}".
type IRCConfig struct {
	Server   string `yaml:"server" toml:"server" validate:"required"`
	Port     int    `yaml:"port,omitempty" toml:"port" validate:"min=0,max=65535"`
	Nick     string `yaml:"nick" toml:"nick" validate:"required"`
	Password string `yaml:"password,omitempty" toml:"password"`
	UseTLS   bool   `yaml:"useTLS,omitempty" toml:"useTLS"`
	SASL     bool   `yaml:"sasl,omitempty" toml:"sasl"`
}

// WebChatConfig enables the browser widget transport.
type WebChatConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}
