package channel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

// Registry manages the connectors for each channel kind.
type Registry struct {
	mu         sync.RWMutex
	connectors map[domain.ChannelKind]Connector
	log        *logging.Logger
}

// NewRegistry creates a connector registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		connectors: make(map[domain.ChannelKind]Connector),
		log:        log.Sub("channels"),
	}
}

// Register adds a connector, replacing any previous one for its kind.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Kind()] = c
	r.log.Info().Str("channel", string(c.Kind())).Msg("connector registered")
}

// Get returns the connector for kind.
func (r *Registry) Get(kind domain.ChannelKind) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[kind]
	return c, ok
}

// Lookup is Get with an error naming the missing kind.
func (r *Registry) Lookup(kind domain.ChannelKind) (Connector, error) {
	c, ok := r.Get(kind)
	if !ok {
		return nil, fmt.Errorf("no connector for channel %q", kind)
	}
	return c, nil
}

// List returns the registered kinds, sorted.
func (r *Registry) List() []domain.ChannelKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]domain.ChannelKind, 0, len(r.connectors))
	for k := range r.connectors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Count returns the number of registered connectors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}
