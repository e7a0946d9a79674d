package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".concierge"

// Paths holds resolved filesystem paths for Concierge data.
type Paths struct {
	Base        string // ~/.concierge
	Config      string // ~/.concierge/config.yaml
	Credentials string // ~/.concierge/credentials
	Logs        string // ~/.concierge/logs
	Data        string // ~/.concierge/data
}

// ResolvePaths computes all standard paths from the home directory.
// If CONCIERGE_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("CONCIERGE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:        base,
		Config:      filepath.Join(base, "config.yaml"),
		Credentials: filepath.Join(base, "credentials"),
		Logs:        filepath.Join(base, "logs"),
		Data:        filepath.Join(base, "data"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Credentials, p.Logs, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the configured SQLite path or the default under Data.
func (p Paths) DatabasePath(cfg StoreConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(p.Data, "concierge.db")
}
