// Package convlock guards conversations against overlapping or too-frequent replies.
package convlock

import (
	"sync"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
)

const (
	DefaultTTL        = 5 * time.Second
	DefaultMinSpacing = 3 * time.Second
	// DefaultMaxHold caps how long KeepAlive may keep one lease alive.
	DefaultMaxHold = 2 * time.Minute
)

type lockEntry struct {
	gen      uint64
	expireAt time.Time
}

// Locks holds the per-conversation mutual exclusion table and the
// last-admitted arrival times used for spacing.
type Locks struct {
	mu       sync.Mutex
	ttl      time.Duration
	spacing  time.Duration
	maxHold  time.Duration
	now      func() time.Time
	gen      uint64
	held     map[string]lockEntry
	lastSeen map[string]time.Time
}

// Option configures a Locks table.
type Option func(*Locks)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Locks) { l.now = now }
}

// WithMaxHold bounds how long renewals can extend a single lease. After
// that the lease lapses at its TTL like an unrenewed one.
func WithMaxHold(d time.Duration) Option {
	return func(l *Locks) {
		if d > 0 {
			l.maxHold = d
		}
	}
}

// New creates a lock table. Non-positive durations fall back to the defaults.
func New(ttl, minSpacing time.Duration, opts ...Option) *Locks {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if minSpacing <= 0 {
		minSpacing = DefaultMinSpacing
	}
	l := &Locks{
		ttl:      ttl,
		spacing:  minSpacing,
		maxHold:  DefaultMaxHold,
		now:      time.Now,
		held:     make(map[string]lockEntry),
		lastSeen: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Lease is one successful acquisition of a conversation lock.
type Lease struct {
	locks    *Locks
	key      string
	gen      uint64
	acquired time.Time
	once     sync.Once
	done     chan struct{}
}

// TryAcquire takes the lock for key unless a live lease holds it. An
// expired lease is taken over.
func (l *Locks) TryAcquire(key domain.ConversationKey) (*Lease, bool) {
	k := key.String()
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.held[k]; ok && now.Before(e.expireAt) {
		return nil, false
	}
	l.gen++
	l.held[k] = lockEntry{gen: l.gen, expireAt: now.Add(l.ttl)}
	return &Lease{locks: l, key: k, gen: l.gen, acquired: now, done: make(chan struct{})}, true
}

// Extend pushes the lease's expiry one TTL past now. It fails once the
// lease was released, taken over, or has been held for the max hold.
func (ls *Lease) Extend() bool {
	l := ls.locks
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.held[ls.key]
	if !ok || e.gen != ls.gen {
		return false
	}
	if now.Sub(ls.acquired) >= l.maxHold {
		return false
	}
	e.expireAt = now.Add(l.ttl)
	l.held[ls.key] = e
	return true
}

// KeepAlive extends the lease every interval until Release or until an
// extension fails. A non-positive interval means half the TTL.
func (ls *Lease) KeepAlive(interval time.Duration) {
	if interval <= 0 {
		interval = ls.locks.ttl / 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ls.done:
				return
			case <-ticker.C:
				if !ls.Extend() {
					return
				}
			}
		}
	}()
}

// Release frees the lock if this lease still owns it. Calling it more
// than once, or after another holder took over, does nothing.
func (ls *Lease) Release() {
	if ls == nil {
		return
	}
	ls.once.Do(func() {
		close(ls.done)
		l := ls.locks
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, ok := l.held[ls.key]; ok && e.gen == ls.gen {
			delete(l.held, ls.key)
		}
	})
}

// Held reports whether a live lease exists for key.
func (l *Locks) Held(key domain.ConversationKey) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.held[key.String()]
	return ok && now.Before(e.expireAt)
}

// Admit applies minimum spacing. An arrival within the spacing window of
// the last admitted arrival is rejected and does not move the window.
func (l *Locks) Admit(key domain.ConversationKey) bool {
	k := key.String()
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.lastSeen[k]; ok && now.Sub(last) < l.spacing {
		return false
	}
	l.lastSeen[k] = now
	return true
}

// LastSeenAt returns the time of the last admitted arrival for key.
func (l *Locks) LastSeenAt(key domain.ConversationKey) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.lastSeen[key.String()]
	return t, ok
}

// Sweep drops expired locks and last-seen entries older than maxAge. It
// returns how many entries were removed.
func (l *Locks) Sweep(maxAge time.Duration) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, e := range l.held {
		if !now.Before(e.expireAt) {
			delete(l.held, k)
			removed++
		}
	}
	for k, t := range l.lastSeen {
		if now.Sub(t) > maxAge {
			delete(l.lastSeen, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked lock and last-seen entries.
func (l *Locks) Len() (locks, seen int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held), len(l.lastSeen)
}
