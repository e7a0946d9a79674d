// Package session keeps one transport connection per (owner, channel) and
// drives its lifecycle: pairing, ready, drops with delayed reconnects,
// logouts and explicit disconnects.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/concierge/internal/channel"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/logging"
)

var (
	// ErrAlreadyInitializing is returned by Connect while the first open of
	// the same session is still in flight.
	ErrAlreadyInitializing = errors.New("session: already initializing")

	// ErrNotConnected is returned by Send when the session is not connected.
	ErrNotConnected = errors.New("session: not connected")
)

const eventBuffer = 16

// ConnectResult is the state a Connect call settled on.
type ConnectResult struct {
	State   domain.SessionState `json:"state"`
	Pairing string              `json:"pairing,omitempty"`
}

// InboundHandler receives normalized inbound messages.
type InboundHandler func(ctx context.Context, msg domain.InboundMessage)

// Config tunes reconnects. Zero values take defaults.
type Config struct {
	ReconnectDelay time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 20 * time.Second
	}
	return c
}

// Option configures a Registry.
type Option func(*Registry)

// WithHooks emits session_state events to m.
func WithHooks(m *hooks.Manager) Option {
	return func(r *Registry) { r.hooks = m }
}

// Registry owns every channel session.
type Registry struct {
	connectors *channel.Registry
	creds      CredentialStore
	hooks      *hooks.Manager
	cfg        Config
	log        *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[domain.SessionKey]*session
	inbound  InboundHandler
	teardown []func(key domain.SessionKey)
}

// generation is one opened handle's event stream. Events from a retired
// generation are ignored.
type generation struct {
	events chan channel.Event
	done   chan struct{}
}

type session struct {
	key          domain.SessionKey
	state        domain.SessionState
	gen          *generation
	handle       channel.Handle
	pairing      string
	lastActivity time.Time
	lastErr      string
	attempts     int
	stopped      bool
	timer        *time.Timer

	settled    chan struct{}
	settleOnce sync.Once
}

// settle wakes a Connect waiting for the first lifecycle event.
func (s *session) settle() {
	s.settleOnce.Do(func() { close(s.settled) })
}

func (s *session) result() ConnectResult {
	return ConnectResult{State: s.state, Pairing: s.pairing}
}

func (s *session) status() domain.SessionStatus {
	return domain.SessionStatus{
		Owner:             s.key.Owner,
		Channel:           s.key.Channel,
		State:             s.state,
		LastActivity:      s.lastActivity,
		HasPairing:        s.pairing != "",
		LastError:         s.lastErr,
		ReconnectAttempts: s.attempts,
	}
}

// NewRegistry creates a session registry over the given connectors.
func NewRegistry(connectors *channel.Registry, creds CredentialStore, cfg Config, log *logging.Logger, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		connectors: connectors,
		creds:      creds,
		cfg:        cfg.withDefaults(),
		log:        log.Sub("sessions"),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[domain.SessionKey]*session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetInboundHandler sets where inbound messages are delivered.
func (r *Registry) SetInboundHandler(h InboundHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbound = h
}

// OnTeardown registers fn to run whenever a session is removed.
func (r *Registry) OnTeardown(fn func(key domain.SessionKey)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardown = append(r.teardown, fn)
}

// Connect starts the session for (owner, kind) or reports the existing one.
// A new session waits for its first lifecycle event, bounded by the
// connect timeout and ctx.
func (r *Registry) Connect(ctx context.Context, owner string, kind domain.ChannelKind) (ConnectResult, error) {
	if owner == "" {
		return ConnectResult{State: domain.StateIdle}, errors.New("session: owner is required")
	}
	conn, err := r.connectors.Lookup(kind)
	if err != nil {
		return ConnectResult{State: domain.StateIdle}, err
	}
	key := domain.SessionKey{Owner: owner, Channel: kind}

	r.mu.Lock()
	if s, ok := r.sessions[key]; ok {
		res := s.result()
		r.mu.Unlock()
		if res.State == domain.StateInitializing {
			return res, ErrAlreadyInitializing
		}
		return res, nil
	}
	s := &session{key: key, state: domain.StateInitializing, settled: make(chan struct{})}
	r.sessions[key] = s
	gen := r.nextGenerationLocked(s)
	r.mu.Unlock()

	r.stateChanged(key, domain.StateInitializing, "")

	if err := r.open(conn, s, gen); err != nil {
		r.abort(s, gen, err)
		return ConnectResult{State: domain.StateIdle}, fmt.Errorf("session: opening %s: %w", key, err)
	}

	timer := time.NewTimer(r.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-s.settled:
	case <-timer.C:
		r.log.Warn().Str("session", key.String()).Msg("no lifecycle event before connect timeout")
	case <-ctx.Done():
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return s.result(), nil
}

func (r *Registry) nextGenerationLocked(s *session) *generation {
	gen := &generation{events: make(chan channel.Event, eventBuffer), done: make(chan struct{})}
	s.gen = gen
	return gen
}

// retireLocked detaches the current generation and handle. The caller
// closes the returned handle outside the lock.
func (r *Registry) retireLocked(s *session) channel.Handle {
	if s.gen != nil {
		close(s.gen.done)
		s.gen = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	h := s.handle
	s.handle = nil
	return h
}

// open starts the event pump and then the transport, outside the lock.
func (r *Registry) open(conn channel.Connector, s *session, gen *generation) error {
	creds, err := r.creds.Load(s.key.Owner, s.key.Channel)
	if err != nil {
		r.log.Warn().Err(err).Str("session", s.key.String()).Msg("loading credentials failed, opening without")
		creds = nil
	}

	go r.pump(s, gen)

	h, err := conn.Open(r.ctx, channel.OpenRequest{Owner: s.key.Owner, Credentials: creds, Events: gen.events})
	if err != nil {
		return err
	}

	r.mu.Lock()
	current := r.sessions[s.key] == s && s.gen == gen
	if current {
		s.handle = h
	}
	r.mu.Unlock()
	if !current {
		_ = h.Close()
	}
	return nil
}

func (r *Registry) pump(s *session, gen *generation) {
	for {
		select {
		case ev := <-gen.events:
			r.handleEvent(s, gen, ev)
		case <-gen.done:
			return
		}
	}
}

func (r *Registry) handleEvent(s *session, gen *generation, ev channel.Event) {
	r.mu.Lock()
	if r.sessions[s.key] != s || s.gen != gen {
		r.mu.Unlock()
		r.log.Debug().Str("session", s.key.String()).Str("event", ev.Kind.String()).Msg("stale event ignored")
		return
	}

	switch ev.Kind {
	case channel.EventMessage:
		s.lastActivity = ev.At
		handler := r.inbound
		r.mu.Unlock()
		if handler == nil {
			return
		}
		msg := domain.InboundMessage{
			ID:               ev.MessageID,
			Owner:            s.key.Owner,
			Channel:          s.key.Channel,
			Counterparty:     ev.Counterparty,
			CounterpartyName: ev.CounterpartyName,
			Text:             ev.Text,
			Timestamp:        ev.At,
		}
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		go r.deliver(handler, msg)

	case channel.EventPairing:
		s.state = domain.StatePairingPending
		s.pairing = ev.Pairing
		r.mu.Unlock()
		s.settle()
		r.stateChanged(s.key, domain.StatePairingPending, "")

	case channel.EventReady:
		s.state = domain.StateConnected
		s.pairing = ""
		s.attempts = 0
		s.lastErr = ""
		s.lastActivity = ev.At
		r.mu.Unlock()
		if len(ev.Credentials) > 0 {
			if err := r.creds.Save(s.key.Owner, s.key.Channel, ev.Credentials); err != nil {
				r.log.Error().Err(err).Str("session", s.key.String()).Msg("saving credentials failed")
			}
		}
		s.settle()
		r.stateChanged(s.key, domain.StateConnected, "")

	case channel.EventLogout:
		r.invalidateLocked(s, ev.Err)

	case channel.EventDrop:
		r.dropLocked(s, ev.Err)

	default:
		r.mu.Unlock()
	}
}

func (r *Registry) deliver(handler InboundHandler, msg domain.InboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("owner", msg.Owner).Str("panic", fmt.Sprint(rec)).Msg("inbound handler panicked")
		}
	}()
	handler(r.ctx, msg)
}

// invalidateLocked destroys a session whose credentials were rejected.
// Called with r.mu held; releases it.
func (r *Registry) invalidateLocked(s *session, cause error) {
	if cause == nil {
		cause = channel.ErrAuthInvalidated
	}
	h := r.retireLocked(s)
	s.stopped = true
	s.state = domain.StateIdle
	s.pairing = ""
	s.lastErr = cause.Error()
	delete(r.sessions, s.key)
	r.mu.Unlock()

	if h != nil {
		_ = h.Close()
	}
	if err := r.creds.Delete(s.key.Owner, s.key.Channel); err != nil {
		r.log.Error().Err(err).Str("session", s.key.String()).Msg("purging credentials failed")
	}
	r.log.Warn().Err(cause).Str("session", s.key.String()).Msg("credentials invalidated, session purged")

	s.settle()
	r.stateChanged(s.key, domain.StateIdle, "auth_invalidated")
	r.runTeardown(s.key)
}

// dropLocked schedules a single reconnect, or gives up after too many
// consecutive failures. Called with r.mu held; releases it.
func (r *Registry) dropLocked(s *session, cause error) {
	if s.stopped || s.timer != nil {
		r.mu.Unlock()
		return
	}
	if cause == nil {
		cause = channel.ErrTransportDrop
	}
	h := r.retireLocked(s)
	s.attempts++
	s.lastErr = cause.Error()
	attempt := s.attempts

	if attempt > r.cfg.MaxReconnects {
		s.state = domain.StateIdle
		s.pairing = ""
		delete(r.sessions, s.key)
		r.mu.Unlock()
		if h != nil {
			_ = h.Close()
		}
		r.log.Error().Err(cause).Str("session", s.key.String()).Int("attempts", attempt-1).Msg("giving up reconnecting")
		s.settle()
		r.stateChanged(s.key, domain.StateIdle, "reconnects_exhausted")
		r.runTeardown(s.key)
		return
	}

	s.state = domain.StateReconnecting
	s.timer = time.AfterFunc(r.cfg.ReconnectDelay, func() { r.reconnect(s) })
	r.mu.Unlock()

	if h != nil {
		_ = h.Close()
	}
	r.log.Warn().Err(cause).Str("session", s.key.String()).Int("attempt", attempt).Dur("delay", r.cfg.ReconnectDelay).Msg("transport dropped, reconnect scheduled")
	s.settle()
	r.stateChanged(s.key, domain.StateReconnecting, "transport_drop")
}

func (r *Registry) reconnect(s *session) {
	conn, err := r.connectors.Lookup(s.key.Channel)

	r.mu.Lock()
	if r.sessions[s.key] != s || s.stopped {
		r.mu.Unlock()
		return
	}
	s.timer = nil
	gen := r.nextGenerationLocked(s)
	r.mu.Unlock()

	if err == nil {
		err = r.open(conn, s, gen)
	}
	if err == nil {
		return
	}
	kind := channel.EventDrop
	if errors.Is(err, channel.ErrAuthInvalidated) {
		kind = channel.EventLogout
	}
	r.handleEvent(s, gen, channel.Event{Kind: kind, Err: err, At: time.Now()})
}

// abort removes a session whose first open failed.
func (r *Registry) abort(s *session, gen *generation, cause error) {
	r.mu.Lock()
	if r.sessions[s.key] != s || s.gen != gen {
		r.mu.Unlock()
		return
	}
	if errors.Is(cause, channel.ErrAuthInvalidated) {
		r.invalidateLocked(s, cause)
		return
	}
	h := r.retireLocked(s)
	s.state = domain.StateIdle
	s.lastErr = cause.Error()
	delete(r.sessions, s.key)
	r.mu.Unlock()

	if h != nil {
		_ = h.Close()
	}
	r.log.Error().Err(cause).Str("session", s.key.String()).Msg("open failed")
	s.settle()
	r.stateChanged(s.key, domain.StateIdle, "open_failed")
}

// Disconnect stops the session, cancels any scheduled reconnect and runs
// the teardown hooks. Disconnecting an idle session is a no-op.
func (r *Registry) Disconnect(ctx context.Context, owner string, kind domain.ChannelKind) error {
	key := domain.SessionKey{Owner: owner, Channel: kind}

	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok || s.state == domain.StateDisconnecting {
		r.mu.Unlock()
		return nil
	}
	s.stopped = true
	h := r.retireLocked(s)
	s.state = domain.StateDisconnecting
	r.mu.Unlock()
	r.stateChanged(key, domain.StateDisconnecting, "")

	var err error
	if h != nil {
		done := make(chan error, 1)
		go func() { done <- h.Close() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	r.mu.Lock()
	s.state = domain.StateIdle
	s.pairing = ""
	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	s.settle()
	r.log.Info().Str("session", key.String()).Msg("session disconnected")
	r.stateChanged(key, domain.StateIdle, "disconnected")
	r.runTeardown(key)

	if err != nil {
		return fmt.Errorf("session: closing %s: %w", key, err)
	}
	return nil
}

// Status returns the session's state, idle when there is none.
func (r *Registry) Status(owner string, kind domain.ChannelKind) domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[domain.SessionKey{Owner: owner, Channel: kind}]; ok {
		return s.state
	}
	return domain.StateIdle
}

// Snapshot returns the full status of one session.
func (r *Registry) Snapshot(owner string, kind domain.ChannelKind) domain.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[domain.SessionKey{Owner: owner, Channel: kind}]; ok {
		return s.status()
	}
	return domain.SessionStatus{Owner: owner, Channel: kind, State: domain.StateIdle}
}

// Pairing returns the cached pairing artifact while pairing is pending.
func (r *Registry) Pairing(owner string, kind domain.ChannelKind) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[domain.SessionKey{Owner: owner, Channel: kind}]
	if !ok || s.state != domain.StatePairingPending || s.pairing == "" {
		return "", false
	}
	return s.pairing, true
}

// Send delivers text to counterparty over the owner's connected session.
func (r *Registry) Send(ctx context.Context, owner string, kind domain.ChannelKind, counterparty, text string) error {
	r.mu.Lock()
	s, ok := r.sessions[domain.SessionKey{Owner: owner, Channel: kind}]
	var h channel.Handle
	if ok && s.state == domain.StateConnected {
		h = s.handle
	}
	r.mu.Unlock()
	if h == nil {
		return fmt.Errorf("%w: %s:%s", ErrNotConnected, owner, kind)
	}
	if err := h.SendText(ctx, counterparty, text); err != nil {
		return fmt.Errorf("session: sending to %s: %w", counterparty, err)
	}
	return nil
}

// List returns a status snapshot of every session, ordered by key.
func (r *Registry) List() []domain.SessionStatus {
	r.mu.Lock()
	out := make([]domain.SessionStatus, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.status())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}

// StopAll disconnects every session.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	keys := make([]domain.SessionKey, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k domain.SessionKey) {
			defer wg.Done()
			if err := r.Disconnect(ctx, k.Owner, k.Channel); err != nil {
				r.log.Warn().Err(err).Str("session", k.String()).Msg("disconnect failed")
			}
		}(k)
	}
	wg.Wait()
	r.cancel()
	r.log.Info().Int("sessions", len(keys)).Msg("all sessions stopped")
}

func (r *Registry) runTeardown(key domain.SessionKey) {
	r.mu.Lock()
	fns := make([]func(domain.SessionKey), len(r.teardown))
	copy(fns, r.teardown)
	r.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error().Str("session", key.String()).Str("panic", fmt.Sprint(rec)).Msg("teardown hook panicked")
				}
			}()
			fn(key)
		}()
	}
}

func (r *Registry) stateChanged(key domain.SessionKey, state domain.SessionState, reason string) {
	r.log.Debug().Str("session", key.String()).Str("state", string(state)).Str("reason", reason).Msg("session state")
	if r.hooks == nil {
		return
	}
	r.hooks.EmitAsync(r.ctx, hooks.EventSessionState, map[string]any{
		"owner":   key.Owner,
		"channel": string(key.Channel),
		"state":   string(state),
		"reason":  reason,
	})
}
