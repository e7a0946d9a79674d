// Package irc implements the IRC transport using the girc library. Each
// merchant gets its own connection; direct messages are customer chats.
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"

	"github.com/soyeahso/concierge/internal/channel"
	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

// maxLineLen keeps PRIVMSG lines well under the 512 byte protocol limit.
const maxLineLen = 400

// numerics that mean the server rejected our credentials
const (
	errPasswdMismatch = "464"
	errSASLFail       = "904"
)

// Connector opens IRC connections.
type Connector struct {
	cfg config.IRCConfig
	log *logging.Logger
}

// New creates an IRC connector from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Connector {
	return &Connector{cfg: cfg, log: log.Sub("irc")}
}

func (c *Connector) Kind() domain.ChannelKind { return domain.ChannelIRC }

// Open starts connecting in the background and returns at once. Progress
// arrives as events: ready on CONNECTED, drop on disconnect and logout
// when the server rejects the password.
func (c *Connector) Open(_ context.Context, req channel.OpenRequest) (channel.Handle, error) {
	nick := nickFor(c.cfg.Nick, req.Owner)
	password := c.cfg.Password
	if len(req.Credentials) > 0 {
		password = string(req.Credentials)
	}

	gircCfg := girc.Config{
		Server:  c.cfg.Server,
		Port:    portFor(c.cfg),
		Nick:    nick,
		User:    nick,
		Name:    "Concierge",
		SSL:     c.cfg.UseTLS,
		Version: "Concierge/1.0",
	}
	if c.cfg.UseTLS {
		gircCfg.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	if c.cfg.SASL && password != "" {
		gircCfg.SASL = &girc.SASLPlain{User: nick, Pass: password}
	} else if password != "" {
		gircCfg.ServerPass = password
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		owner:  req.Owner,
		client: girc.New(gircCfg),
		events: req.Events,
		ctx:    ctx,
		cancel: cancel,
		log:    c.log.With("owner", req.Owner).With("nick", nick),
	}
	h.registerHandlers()

	h.log.Info().
		Str("server", c.cfg.Server).
		Int("port", gircCfg.Port).
		Bool("tls", c.cfg.UseTLS).
		Msg("connecting to IRC")

	go func() {
		err := h.client.Connect()
		if h.closing() {
			return
		}
		if err != nil {
			h.log.Warn().Err(err).Msg("IRC connection ended")
		}
		h.emitOnce(channel.Event{Kind: channel.EventDrop, Err: fmt.Errorf("%w: %v", channel.ErrTransportDrop, err)})
	}()
	return h, nil
}

func portFor(cfg config.IRCConfig) int {
	switch {
	case cfg.Port != 0:
		return cfg.Port
	case cfg.UseTLS:
		return 6697
	default:
		return 6667
	}
}

func nickFor(pattern, owner string) string {
	if pattern == "" {
		pattern = "concierge-{owner}"
	}
	return strings.ReplaceAll(pattern, "{owner}", owner)
}

type handle struct {
	owner  string
	client *girc.Client
	events chan<- channel.Event
	ctx    context.Context
	cancel context.CancelFunc
	log    *logging.Logger

	mu     sync.Mutex
	closed bool
	ended  bool
}

func (h *handle) closing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *handle) emit(ev channel.Event) {
	channel.Emit(h.ctx, h.events, ev)
}

// emitOnce sends a terminal event (drop or logout) at most once per handle.
func (h *handle) emitOnce(ev channel.Event) {
	h.mu.Lock()
	if h.ended || h.closed {
		h.mu.Unlock()
		return
	}
	h.ended = true
	h.mu.Unlock()
	h.emit(ev)
}

// SendText delivers text to a nick, one PRIVMSG per line.
func (h *handle) SendText(_ context.Context, to, text string) error {
	if to == "" {
		return fmt.Errorf("irc: no target specified")
	}
	if !h.client.IsConnected() {
		return fmt.Errorf("irc: %w", channel.ErrTransportDrop)
	}
	lines := splitMessage(text, maxLineLen)
	for _, line := range lines {
		h.client.Cmd.Message(to, line)
	}
	h.log.Debug().Str("to", to).Int("lines", len(lines)).Msg("sent IRC message")
	return nil
}

// Close quits the server. No further events are emitted.
func (h *handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	if h.client.IsConnected() {
		h.client.Quit("Concierge signing off")
	}
	h.client.Close()
	return nil
}

func (h *handle) registerHandlers() {
	h.client.Handlers.Add(girc.CONNECTED, h.onConnected)
	h.client.Handlers.Add(girc.PRIVMSG, h.onPrivmsg)
	h.client.Handlers.Add(girc.DISCONNECTED, h.onDisconnected)
	h.client.Handlers.Add(errPasswdMismatch, h.onAuthFailed)
	h.client.Handlers.Add(errSASLFail, h.onAuthFailed)
}

func (h *handle) onConnected(c *girc.Client, _ girc.Event) {
	h.log.Info().Str("nick", c.GetNick()).Msg("connected to IRC")
	h.emit(channel.Event{Kind: channel.EventReady})
}

func (h *handle) onPrivmsg(c *girc.Client, e girc.Event) {
	ev, ok := inboundEvent(e, c.GetNick())
	if !ok {
		return
	}
	h.emit(ev)
}

// inboundEvent turns a direct PRIVMSG into a message event. Channel
// traffic and our own echoes are ignored.
func inboundEvent(e girc.Event, self string) (channel.Event, bool) {
	if e.Source == nil || strings.EqualFold(e.Source.Name, self) {
		return channel.Event{}, false
	}
	if e.IsFromChannel() {
		return channel.Event{}, false
	}
	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}
	if strings.TrimSpace(body) == "" {
		return channel.Event{}, false
	}
	return channel.Event{
		Kind:             channel.EventMessage,
		Counterparty:     e.Source.Name,
		CounterpartyName: e.Source.Name,
		Text:             body,
		MessageID:        uuid.New().String(),
	}, true
}

func (h *handle) onDisconnected(_ *girc.Client, _ girc.Event) {
	if h.closing() {
		return
	}
	h.log.Warn().Msg("disconnected from IRC")
	h.emitOnce(channel.Event{Kind: channel.EventDrop, Err: channel.ErrTransportDrop})
}

func (h *handle) onAuthFailed(_ *girc.Client, e girc.Event) {
	h.log.Error().Str("numeric", e.Command).Str("detail", e.Last()).Msg("IRC server rejected credentials")
	h.emitOnce(channel.Event{Kind: channel.EventLogout, Err: channel.ErrAuthInvalidated})
}

// splitMessage breaks a long message into chunks suitable for IRC.
// Each newline in the input produces a separate chunk because IRC
// PRIVMSG does not support embedded newlines. Blank lines are dropped
// and lines longer than maxLen are split on rune boundaries.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !utf8RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if strings.TrimSpace(line) != "" {
			chunks = append(chunks, line)
		}
	}
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
