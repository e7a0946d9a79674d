// Package telegram implements the Telegram bot transport with long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/soyeahso/concierge/internal/channel"
	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

const defaultPollTimeout = 30

// Connector opens Telegram bot sessions. The bot token comes from saved
// credentials first, then from the per-owner token map in config.
type Connector struct {
	cfg      config.TelegramConfig
	endpoint string
	client   *http.Client
	log      *logging.Logger
}

// New creates a Telegram connector.
func New(cfg config.TelegramConfig, log *logging.Logger) *Connector {
	return &Connector{
		cfg:      cfg,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{},
		log:      log.Sub("telegram"),
	}
}

// WithEndpoint points the connector at another Bot API server. The
// endpoint is a format string taking the token and method.
func (c *Connector) WithEndpoint(endpoint string) *Connector {
	c.endpoint = endpoint
	return c
}

func (c *Connector) Kind() domain.ChannelKind { return domain.ChannelTelegram }

// Open validates the token with getMe and starts polling. A rejected
// token fails with channel.ErrAuthInvalidated.
func (c *Connector) Open(ctx context.Context, req channel.OpenRequest) (channel.Handle, error) {
	token := strings.TrimSpace(string(req.Credentials))
	if token == "" {
		token = c.cfg.Tokens[req.Owner]
	}
	if token == "" {
		return nil, fmt.Errorf("telegram: no bot token for %q: %w", req.Owner, channel.ErrAuthInvalidated)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, c.endpoint, c.client)
	if err != nil {
		return nil, classify(err)
	}

	pollTimeout := c.cfg.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = defaultPollTimeout
	}

	pctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		bot:     bot,
		events:  req.Events,
		ctx:     pctx,
		cancel:  cancel,
		timeout: pollTimeout,
		done:    make(chan struct{}),
		log:     c.log.With("owner", req.Owner).With("bot", bot.Self.UserName),
	}
	h.log.Info().Msg("telegram bot authorized")

	go h.poll([]byte(token))
	return h, nil
}

// classify maps Bot API failures onto the channel sentinels.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusNotFound) {
		return fmt.Errorf("telegram: %s: %w", apiErr.Message, channel.ErrAuthInvalidated)
	}
	if strings.Contains(err.Error(), "Unauthorized") {
		return fmt.Errorf("telegram: %v: %w", err, channel.ErrAuthInvalidated)
	}
	return fmt.Errorf("telegram: %v: %w", err, channel.ErrTransportDrop)
}

type handle struct {
	bot     *tgbotapi.BotAPI
	events  chan<- channel.Event
	ctx     context.Context
	cancel  context.CancelFunc
	timeout int
	done    chan struct{}
	log     *logging.Logger

	closeOnce sync.Once
}

// poll reports ready, then long-polls getUpdates until Close or a failure.
// A rejected token ends in logout; anything else ends in drop.
func (h *handle) poll(token []byte) {
	defer close(h.done)

	channel.Emit(h.ctx, h.events, channel.Event{Kind: channel.EventReady, Credentials: token})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = h.timeout
	for {
		if h.ctx.Err() != nil {
			return
		}
		updates, err := h.bot.GetUpdates(u)
		if h.ctx.Err() != nil {
			return
		}
		if err != nil {
			err = classify(err)
			kind := channel.EventDrop
			if errors.Is(err, channel.ErrAuthInvalidated) {
				kind = channel.EventLogout
			}
			h.log.Warn().Err(err).Str("event", kind.String()).Msg("telegram polling stopped")
			channel.Emit(h.ctx, h.events, channel.Event{Kind: kind, Err: err})
			return
		}
		for _, upd := range updates {
			if upd.UpdateID >= u.Offset {
				u.Offset = upd.UpdateID + 1
			}
			if ev, ok := inboundEvent(upd); ok {
				channel.Emit(h.ctx, h.events, ev)
			}
		}
	}
}

// inboundEvent turns a private text message into a message event.
func inboundEvent(upd tgbotapi.Update) (channel.Event, bool) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return channel.Event{}, false
	}
	if strings.TrimSpace(msg.Text) == "" {
		return channel.Event{}, false
	}
	ev := channel.Event{
		Kind:         channel.EventMessage,
		Counterparty: strconv.FormatInt(msg.Chat.ID, 10),
		Text:         msg.Text,
		MessageID:    fmt.Sprintf("tg:%d:%d", msg.Chat.ID, msg.MessageID),
		At:           msg.Time(),
	}
	if msg.From != nil {
		ev.CounterpartyName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if ev.CounterpartyName == "" {
			ev.CounterpartyName = msg.From.UserName
		}
	}
	return ev, true
}

// SendText sends text to a private chat id.
func (h *handle) SendText(_ context.Context, to, text string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", to, err)
	}
	if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return classify(err)
	}
	return nil
}

// Close stops polling and waits briefly for the poller to exit. An
// in-flight long poll is abandoned, not awaited.
func (h *handle) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(100 * time.Millisecond):
		}
	})
	return nil
}
