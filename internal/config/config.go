// Package config loads and validates Concierge configuration.
package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
		},
		Catalog: CatalogConfig{
			Source:   "sqlite",
			CacheTTL: time.Minute,
		},
		Engine: EngineConfig{
			LockTTL:         5 * time.Second,
			LockMaxHold:     2 * time.Minute,
			MinSpacing:      3 * time.Second,
			SweepInterval:   10 * time.Minute,
			EntryMaxAge:     time.Hour,
			ReplyDelayMin:   3 * time.Second,
			ReplyDelayMax:   6 * time.Second,
			HistoryWindow:   20,
			SessionWindow:   24 * time.Hour,
			ContextCacheTTL: 2 * time.Minute,
			MenuTTL:         30 * time.Minute,
			FuzzyThreshold:  0.4,
			TopK:            3,
			GroundingLimit:  12,
			ReconnectDelay:  5 * time.Second,
			MaxReconnects:   5,
			ConnectTimeout:  20 * time.Second,
		},
		LLM: LLMConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// ClampThreshold keeps a fuzzy threshold inside the supported 0.2-0.8 band.
func ClampThreshold(v float64) float64 {
	switch {
	case v <= 0:
		return 0.4
	case v < 0.2:
		return 0.2
	case v > 0.8:
		return 0.8
	default:
		return v
	}
}
