// Package gateway serves the HTTP surface: the session admin API, pairing
// images, the web chat widget socket and a live event stream.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/session"
)

const (
	eventQueue     = 256
	hookName       = "gateway.events"
	shutdownWait   = 10 * time.Second
	disconnectWait = 10 * time.Second
)

// Sessions is the part of the session registry the gateway drives.
type Sessions interface {
	Connect(ctx context.Context, owner string, kind domain.ChannelKind) (session.ConnectResult, error)
	Disconnect(ctx context.Context, owner string, kind domain.ChannelKind) error
	Snapshot(owner string, kind domain.ChannelKind) domain.SessionStatus
	Pairing(owner string, kind domain.ChannelKind) (string, bool)
	List() []domain.SessionStatus
}

// WidgetServer attaches web chat visitors to an owner's session.
type WidgetServer interface {
	ServeWidget(w http.ResponseWriter, r *http.Request, token string)
}

// Server is the Concierge gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	token    string
	log      *logging.Logger
	sessions Sessions
	widgets  WidgetServer
	hooks    *hooks.Manager
	clients  *ClientRegistry
	eventSeq atomic.Int64
	events   chan queued
	stop     chan struct{}
	stopOnce sync.Once

	router      chi.Router
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter

	mu         sync.Mutex
	httpServer *http.Server
	addr       string
}

type queued struct {
	frame Frame
	owner string
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks streams hook events to /v1/events subscribers and emits the
// gateway lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithWebChat mounts the web chat widget socket.
func WithWebChat(ws WidgetServer) ServerOption {
	return func(s *Server) {
		s.widgets = ws
	}
}

// New creates a gateway server. The event pump runs until Close.
func New(cfg config.GatewayConfig, sessions Sessions, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		token:       ResolveToken(cfg.Auth),
		log:         log.Sub("gateway"),
		sessions:    sessions,
		clients:     NewClientRegistry(log.Sub("events")),
		events:      make(chan queued, eventQueue),
		stop:        make(chan struct{}),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.routes()
	if s.hooks != nil {
		s.hooks.OnAll(hookName, s.enqueue)
	}
	go s.pump()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.log))
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))
	r.NotFound(handleNotFound)

	r.Get("/healthz", s.handleHealth)
	if s.widgets != nil {
		r.Get("/webchat/{token}/ws", s.handleWidget)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/v1/sessions", s.handleListSessions)
		r.Get("/v1/sessions/{owner}/{channel}", s.handleSessionStatus)
		r.Post("/v1/sessions/{owner}/{channel}/connect", s.handleConnect)
		r.Post("/v1/sessions/{owner}/{channel}/disconnect", s.handleDisconnect)
		r.Get("/v1/sessions/{owner}/{channel}/pairing.png", s.handlePairingPNG)
		r.Get("/v1/events", s.handleEvents)
	})
	return r
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// enqueue turns a hook payload into an event frame without blocking the emitter.
func (s *Server) enqueue(_ context.Context, p hooks.Payload) error {
	f, err := NewEvent(p.Event, p.Data, s.eventSeq.Add(1), p.At)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", p.Event, err)
	}
	owner, _ := p.Data["owner"].(string)
	select {
	case s.events <- queued{frame: f, owner: owner}:
	default:
		s.log.Debug().Str("event", p.Event).Msg("event queue full, dropping frame")
	}
	return nil
}

func (s *Server) pump() {
	for {
		select {
		case <-s.stop:
			return
		case q := <-s.events:
			s.clients.Broadcast(q.frame, q.owner)
		}
	}
}

// SweepAuthFailures forgets hosts whose failed auth attempts have expired.
func (s *Server) SweepAuthFailures() int {
	return s.authLimiter.sweep()
}

// Close stops the event pump and disconnects event stream clients.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		if s.hooks != nil {
			s.hooks.Off("*", hookName)
		}
		close(s.stop)
		s.clients.CloseAll()
	})
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	if s.token == "" && s.cfg.Bind != "loopback" && s.cfg.Bind != "" {
		s.log.Warn().Msg("no gateway token configured, the session API will refuse every request")
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Bool("auth", s.token != "").
		Bool("webchat", s.widgets != nil).
		Msg("gateway server ready")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
			"addr": ln.Addr().String(),
		})
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		s.log.Info().Msg("shutting down gateway server")
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		s.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("gateway shutdown")
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
