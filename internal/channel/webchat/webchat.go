// Package webchat implements the browser widget transport over websockets.
//
// A merchant pairs by embedding the pairing link's token in their site;
// the first widget to attach with it marks the session ready, and the
// token is kept as the session credential so later opens skip pairing.
package webchat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/concierge/internal/channel"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

const maxFrameBytes = 64 * 1024

// Hub is the webchat Connector and the websocket endpoint widgets attach to.
type Hub struct {
	publicURL string
	upgrader  websocket.Upgrader
	log       *logging.Logger

	mu      sync.RWMutex
	byToken map[string]*handle
	byOwner map[string]*handle
}

// New creates a webchat hub. publicURL prefixes pairing links.
func New(publicURL string, log *logging.Logger) *Hub {
	return &Hub{
		publicURL: strings.TrimSuffix(publicURL, "/"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// widgets live on merchant sites; the token gates access
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log.Sub("webchat"),
		byToken: make(map[string]*handle),
		byOwner: make(map[string]*handle),
	}
}

func (h *Hub) Kind() domain.ChannelKind { return domain.ChannelWebChat }

// PairingLink is the widget address for token.
func (h *Hub) PairingLink(token string) string {
	return fmt.Sprintf("%s/webchat/%s/ws", h.publicURL, token)
}

// Open registers the owner's token. With saved credentials the session is
// ready at once; otherwise a fresh token is handed out as the pairing link.
func (h *Hub) Open(_ context.Context, req channel.OpenRequest) (channel.Handle, error) {
	token := strings.TrimSpace(string(req.Credentials))
	paired := token != ""
	if !paired {
		token = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	hd := &handle{
		hub:      h,
		owner:    req.Owner,
		token:    token,
		events:   req.Events,
		ctx:      ctx,
		cancel:   cancel,
		ready:    paired,
		visitors: make(map[string]*visitor),
		log:      h.log.With("owner", req.Owner),
	}

	h.mu.Lock()
	prev := h.byOwner[req.Owner]
	h.byOwner[req.Owner] = hd
	h.byToken[token] = hd
	h.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	if paired {
		go hd.emit(channel.Event{Kind: channel.EventReady})
	} else {
		go hd.emit(channel.Event{Kind: channel.EventPairing, Pairing: h.PairingLink(token)})
	}
	return hd, nil
}

// Revoke invalidates the owner's token. The session receives a logout
// and attached widgets are disconnected.
func (h *Hub) Revoke(owner string) bool {
	h.mu.Lock()
	hd := h.byOwner[owner]
	if hd != nil {
		delete(h.byOwner, owner)
		delete(h.byToken, hd.token)
	}
	h.mu.Unlock()
	if hd == nil {
		return false
	}
	hd.log.Info().Msg("webchat token revoked")
	hd.emit(channel.Event{Kind: channel.EventLogout, Err: channel.ErrAuthInvalidated})
	hd.closeVisitors()
	return true
}

// ServeWidget upgrades a widget request for token. The visitor query
// parameter keeps a returning browser on the same conversation.
func (h *Hub) ServeWidget(w http.ResponseWriter, r *http.Request, token string) {
	h.mu.RLock()
	hd := h.byToken[token]
	h.mu.RUnlock()
	if hd == nil {
		http.Error(w, "unknown webchat token", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hd.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	id := strings.TrimSpace(r.URL.Query().Get("visitor"))
	if id == "" {
		id = uuid.New().String()
	}
	v := newVisitor(id, strings.TrimSpace(r.URL.Query().Get("name")), conn)
	if !hd.attach(v) {
		_ = v.Close()
		return
	}
	_ = v.Send(Frame{Type: "hello", Text: id, At: time.Now()})
	hd.readLoop(v)
}

// Attached returns the number of visitors attached for owner.
func (h *Hub) Attached(owner string) int {
	h.mu.RLock()
	hd := h.byOwner[owner]
	h.mu.RUnlock()
	if hd == nil {
		return 0
	}
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return len(hd.visitors)
}

func (h *Hub) forget(hd *handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byOwner[hd.owner] == hd {
		delete(h.byOwner, hd.owner)
	}
	if h.byToken[hd.token] == hd {
		delete(h.byToken, hd.token)
	}
}

type handle struct {
	hub    *Hub
	owner  string
	token  string
	events chan<- channel.Event
	ctx    context.Context
	cancel context.CancelFunc
	log    *logging.Logger

	mu       sync.Mutex
	ready    bool
	closed   bool
	visitors map[string]*visitor
}

func (hd *handle) emit(ev channel.Event) {
	channel.Emit(hd.ctx, hd.events, ev)
}

// attach adds v, replacing an older socket of the same visitor. The first
// attach of an unpaired handle completes pairing.
func (hd *handle) attach(v *visitor) bool {
	hd.mu.Lock()
	if hd.closed {
		hd.mu.Unlock()
		return false
	}
	old := hd.visitors[v.ID]
	hd.visitors[v.ID] = v
	firstPair := !hd.ready
	hd.ready = true
	hd.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if firstPair {
		hd.log.Info().Msg("webchat paired")
		hd.emit(channel.Event{Kind: channel.EventReady, Credentials: []byte(hd.token)})
	}
	hd.log.Debug().Str("visitor", v.ID).Msg("widget attached")
	return true
}

func (hd *handle) readLoop(v *visitor) {
	defer func() {
		hd.mu.Lock()
		if hd.visitors[v.ID] == v {
			delete(hd.visitors, v.ID)
		}
		hd.mu.Unlock()
		_ = v.Close()
		hd.log.Debug().Str("visitor", v.ID).Msg("widget detached")
	}()

	for {
		f, err := v.ReadFrame()
		if err != nil {
			return
		}
		if f.Type != "" && f.Type != "message" {
			continue
		}
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		if !channel.Emit(hd.ctx, hd.events, channel.Event{
			Kind:             channel.EventMessage,
			Counterparty:     v.ID,
			CounterpartyName: v.Name,
			Text:             f.Text,
			MessageID:        uuid.New().String(),
		}) {
			return
		}
	}
}

// SendText writes a bot message to the visitor's widget.
func (hd *handle) SendText(_ context.Context, to, text string) error {
	hd.mu.Lock()
	v := hd.visitors[to]
	hd.mu.Unlock()
	if v == nil {
		return fmt.Errorf("webchat: visitor %q not attached", to)
	}
	return v.Send(Frame{Type: "message", Text: text, From: "bot", At: time.Now()})
}

func (hd *handle) closeVisitors() {
	hd.mu.Lock()
	vs := make([]*visitor, 0, len(hd.visitors))
	for _, v := range hd.visitors {
		vs = append(vs, v)
	}
	hd.visitors = make(map[string]*visitor)
	hd.mu.Unlock()
	for _, v := range vs {
		_ = v.Close()
	}
}

// Close detaches every widget and forgets the token.
func (hd *handle) Close() error {
	hd.mu.Lock()
	if hd.closed {
		hd.mu.Unlock()
		return nil
	}
	hd.closed = true
	hd.mu.Unlock()

	hd.cancel()
	hd.hub.forget(hd)
	hd.closeVisitors()
	return nil
}
