// Package memory records conversations and derives per-customer context
// from the recent message window.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/concierge/internal/cache"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

// Log is the append-only message log.
type Log interface {
	Append(ctx context.Context, msg domain.Message) error
	Recent(ctx context.Context, owner, counterparty, sessionID string, limit int) ([]domain.Message, error)
	LatestSession(ctx context.Context, owner, counterparty string) (string, time.Time, error)
}

// Config tunes the store. Zero values take defaults.
type Config struct {
	HistoryWindow   int
	SessionWindow   time.Duration
	ContextCacheTTL time.Duration
}

type binding struct {
	id   string
	last time.Time
}

// Store is the context store. It binds each (owner, counterparty) to a
// session window and caches derived contexts.
type Store struct {
	log      Log
	cfg      Config
	now      func() time.Time
	contexts *cache.TTL[domain.ConversationContext]
	logger   *logging.Logger

	mu       sync.Mutex
	bindings map[string]binding
}

// New creates a context store over a message log.
func New(l Log, cfg Config, log *logging.Logger) *Store {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	if cfg.SessionWindow <= 0 {
		cfg.SessionWindow = 24 * time.Hour
	}
	if cfg.ContextCacheTTL <= 0 {
		cfg.ContextCacheTTL = 2 * time.Minute
	}
	return &Store{
		log:      l,
		cfg:      cfg,
		now:      time.Now,
		contexts: cache.New[domain.ConversationContext](cfg.ContextCacheTTL),
		logger:   log.Sub("memory"),
		bindings: make(map[string]binding),
	}
}

// SetClock replaces time.Now, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
	s.contexts.SetClock(now)
}

func bindingKey(owner, counterparty string) string {
	return owner + "\x00" + counterparty
}

// Record appends a message to the counterparty's current session window,
// starting a new window when the last message is too old.
func (s *Store) Record(ctx context.Context, owner string, channel domain.ChannelKind, counterparty string, dir domain.Direction, content string, source domain.SourceTag) (domain.Message, error) {
	now := s.now()
	sid, err := s.sessionFor(ctx, owner, counterparty, now)
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:           uuid.New().String(),
		Owner:        owner,
		Channel:      channel,
		Counterparty: counterparty,
		SessionID:    sid,
		Direction:    dir,
		Content:      content,
		Source:       source,
		Timestamp:    now,
	}
	if err := s.log.Append(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("recording message: %w", err)
	}

	s.mu.Lock()
	s.bindings[bindingKey(owner, counterparty)] = binding{id: sid, last: now}
	s.mu.Unlock()
	s.contexts.Delete(owner, counterparty)
	return msg, nil
}

// RecentHistory returns up to window messages of the current session,
// oldest first. A lapsed session has no history.
func (s *Store) RecentHistory(ctx context.Context, owner, counterparty string, window int) ([]domain.Message, error) {
	if window <= 0 {
		window = s.cfg.HistoryWindow
	}
	sid, ok, err := s.currentSession(ctx, owner, counterparty, s.now())
	if err != nil || !ok {
		return nil, err
	}
	msgs, err := s.log.Recent(ctx, owner, counterparty, sid, window)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return msgs, nil
}

// SmartContext returns the derived context of a conversation.
func (s *Store) SmartContext(ctx context.Context, owner, counterparty string) (domain.ConversationContext, error) {
	if cc, ok := s.contexts.Get(owner, counterparty); ok {
		return cc, nil
	}
	history, err := s.RecentHistory(ctx, owner, counterparty, s.cfg.HistoryWindow)
	if err != nil {
		return domain.ConversationContext{Stage: domain.StageExploration}, err
	}
	cc := Derive(history)
	s.contexts.Set(owner, counterparty, cc)
	return cc, nil
}

// InvalidateOwner drops the cached contexts of a merchant.
func (s *Store) InvalidateOwner(owner string) {
	if n := s.contexts.InvalidateOwner(owner); n > 0 {
		s.logger.Debug().Str("owner", owner).Int("entries", n).Msg("contexts invalidated")
	}
}

// Sweep drops expired contexts and lapsed session bindings.
func (s *Store) Sweep() int {
	n := s.contexts.Sweep()
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range s.bindings {
		if now.Sub(b.last) >= s.cfg.SessionWindow {
			delete(s.bindings, k)
			n++
		}
	}
	return n
}

// currentSession returns the live session id, recovering it from the log
// after a restart.
func (s *Store) currentSession(ctx context.Context, owner, counterparty string, now time.Time) (string, bool, error) {
	key := bindingKey(owner, counterparty)

	s.mu.Lock()
	b, ok := s.bindings[key]
	s.mu.Unlock()

	if !ok {
		id, last, err := s.log.LatestSession(ctx, owner, counterparty)
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("recovering session: %w", err)
		}
		b = binding{id: id, last: last}
		s.mu.Lock()
		if _, raced := s.bindings[key]; !raced {
			s.bindings[key] = b
		}
		s.mu.Unlock()
	}

	if now.Sub(b.last) >= s.cfg.SessionWindow {
		return "", false, nil
	}
	return b.id, true, nil
}

func (s *Store) sessionFor(ctx context.Context, owner, counterparty string, now time.Time) (string, error) {
	id, ok, err := s.currentSession(ctx, owner, counterparty, now)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}
	id = uuid.New().String()
	s.logger.Debug().Str("owner", owner).Str("counterparty", counterparty).Str("session", id).Msg("new session window")
	return id, nil
}
