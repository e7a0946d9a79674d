// Package dispatch runs the reply pipeline for inbound chat messages:
// spacing and locking, gates, menus, retrieval, synthesis and sending.
package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/soyeahso/concierge/internal/convlock"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/menu"
	"github.com/soyeahso/concierge/internal/retrieval"
	"github.com/soyeahso/concierge/internal/synth"
	"github.com/soyeahso/concierge/internal/textnorm"
)

// Drop reasons reported with message_dropped.
const (
	ReasonMalformed  = "malformed"
	ReasonSpacing    = "spacing"
	ReasonLocked     = "locked"
	ReasonCanceled   = "canceled"
	ReasonSendFailed = "send_failed"
)

const defaultClosedNotice = "نحن خارج أوقات العمل حالياً وسنرد عليك في أقرب وقت.\nWe're currently closed and will get back to you as soon as we open."

// Sender delivers a reply over the owner's channel session.
type Sender interface {
	Send(ctx context.Context, owner string, kind domain.ChannelKind, counterparty, text string) error
}

// SettingsSource loads merchant settings.
type SettingsSource interface {
	GetSettings(ctx context.Context, owner string) (domain.MerchantSettings, error)
}

// Memory records messages and derives conversation context.
type Memory interface {
	Record(ctx context.Context, owner string, channel domain.ChannelKind, counterparty string, dir domain.Direction, content string, source domain.SourceTag) (domain.Message, error)
	RecentHistory(ctx context.Context, owner, counterparty string, window int) ([]domain.Message, error)
	SmartContext(ctx context.Context, owner, counterparty string) (domain.ConversationContext, error)
}

// Menus matches keyword menus and numbered selections.
type Menus interface {
	CheckTrigger(ctx context.Context, key domain.ConversationKey, text string, suppressGreeting bool) (menu.Rendered, bool)
	ResolveSelection(ctx context.Context, key domain.ConversationKey, n int) (menu.Action, bool)
}

// Retriever answers from the catalog or selects grounding records.
type Retriever interface {
	SearchOrAnswer(ctx context.Context, owner, query string, cc domain.ConversationContext, s domain.MerchantSettings) (retrieval.Result, error)
}

// Synthesizer generates a grounded answer. It never fails.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) synth.Result
}

// Deps are the pipeline's collaborators. Hooks may be nil.
type Deps struct {
	Locks     *convlock.Locks
	Settings  SettingsSource
	Memory    Memory
	Menus     Menus
	Retrieval Retriever
	Synth     Synthesizer
	Sender    Sender
	Hooks     *hooks.Manager
}

// Config tunes the pipeline. A zero delay range sends at once.
// LeaseRenewal is how often the conversation lock is extended while a
// reply is in progress; zero means half the lock TTL.
type Config struct {
	ReplyDelayMin time.Duration
	ReplyDelayMax time.Duration
	HistoryWindow int
	LeaseRenewal  time.Duration
}

// Dispatcher is the inbound message handler.
type Dispatcher struct {
	deps Deps
	cfg  Config
	now  func() time.Time
	log  *logging.Logger
}

// New creates a dispatcher.
func New(deps Deps, cfg Config, log *logging.Logger) *Dispatcher {
	if cfg.ReplyDelayMax < cfg.ReplyDelayMin {
		cfg.ReplyDelayMax = cfg.ReplyDelayMin
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 20
	}
	return &Dispatcher{deps: deps, cfg: cfg, now: time.Now, log: log.Sub("dispatch")}
}

// SetClock replaces time.Now for working-hours checks, for tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

type reply struct {
	text     string
	source   domain.SourceTag
	humanize bool
	stage    string
}

// HandleInbound processes one inbound message end to end. Failures are
// logged and reported through hooks; nothing is returned to the transport.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("owner", msg.Owner).Str("panic", fmt.Sprint(r)).Msg("dispatch panicked")
		}
	}()

	if strings.TrimSpace(msg.Owner) == "" || strings.TrimSpace(msg.Counterparty) == "" || strings.TrimSpace(msg.Text) == "" {
		d.log.Debug().Str("owner", msg.Owner).Str("counterparty", msg.Counterparty).Msg("malformed inbound event dropped")
		d.dropped(ctx, msg, ReasonMalformed)
		return
	}

	key := msg.Key()
	log := d.log.With("conversation", key.String())

	if !d.deps.Locks.Admit(key) {
		log.Debug().Msg("arrival inside minimum spacing, dropped")
		d.dropped(ctx, msg, ReasonSpacing)
		return
	}
	lease, ok := d.deps.Locks.TryAcquire(key)
	if !ok {
		log.Debug().Msg("conversation busy, dropped")
		d.dropped(ctx, msg, ReasonLocked)
		return
	}
	lease.KeepAlive(d.cfg.LeaseRenewal)
	defer lease.Release()

	settings, err := d.deps.Settings.GetSettings(ctx, msg.Owner)
	if err != nil {
		log.Warn().Err(err).Msg("settings unavailable, using defaults")
		settings = domain.DefaultSettings()
	}
	settings = settings.WithDefaults()

	cc, err := d.deps.Memory.SmartContext(ctx, msg.Owner, msg.Counterparty)
	if err != nil {
		log.Warn().Err(err).Msg("context unavailable")
	}
	history, err := d.deps.Memory.RecentHistory(ctx, msg.Owner, msg.Counterparty, d.cfg.HistoryWindow)
	if err != nil {
		log.Warn().Err(err).Msg("history unavailable")
	}
	if _, err := d.deps.Memory.Record(ctx, msg.Owner, msg.Channel, msg.Counterparty, domain.DirectionIncoming, msg.Text, domain.SourceInbound); err != nil {
		log.Error().Err(err).Msg("recording inbound message failed")
	}
	d.emit(ctx, hooks.EventMessageReceived, map[string]any{
		"owner":        msg.Owner,
		"channel":      string(msg.Channel),
		"counterparty": msg.Counterparty,
		"messageId":    msg.ID,
	})

	r, ok := d.decide(ctx, key, msg.Text, settings, cc, history)
	if !ok {
		return
	}

	if r.humanize {
		if !d.humanDelay(ctx) {
			log.Debug().Msg("canceled during reply delay")
			d.dropped(ctx, msg, ReasonCanceled)
			return
		}
	}

	if err := d.deps.Sender.Send(ctx, msg.Owner, msg.Channel, msg.Counterparty, r.text); err != nil {
		log.Error().Err(err).Str("source", string(r.source)).Msg("sending reply failed")
		d.dropped(ctx, msg, ReasonSendFailed)
		return
	}

	if _, err := d.deps.Memory.Record(ctx, msg.Owner, msg.Channel, msg.Counterparty, domain.DirectionOutgoing, r.text, r.source); err != nil {
		log.Error().Err(err).Msg("recording reply failed")
	}
	log.Info().Str("source", string(r.source)).Str("stage", r.stage).Msg("reply sent")
	d.emit(ctx, hooks.EventReplySent, map[string]any{
		"owner":        msg.Owner,
		"channel":      string(msg.Channel),
		"counterparty": msg.Counterparty,
		"source":       string(r.source),
	})
}

// decide runs the gates, menus, retrieval and synthesis. false means no
// reply is sent.
func (d *Dispatcher) decide(ctx context.Context, key domain.ConversationKey, text string, settings domain.MerchantSettings, cc domain.ConversationContext, history []domain.Message) (reply, bool) {
	if settings.Paused {
		d.log.Debug().Str("owner", key.Owner).Msg("bot paused, no reply")
		return reply{}, false
	}

	if !settings.WorkingHours.Open(d.now()) {
		if lastOutgoingSource(history) == domain.SourceWorkingHours {
			return reply{}, false
		}
		notice := strings.TrimSpace(settings.WorkingHours.Message)
		if notice == "" {
			notice = defaultClosedNotice
		}
		return reply{text: notice, source: domain.SourceWorkingHours, stage: "working_hours"}, true
	}

	if n, ok := textnorm.NumericChoice(text); ok {
		if a, ok := d.deps.Menus.ResolveSelection(ctx, key, n); ok && a.Text != "" {
			return reply{text: a.Text, source: domain.SourceMenu, stage: "menu_selection"}, true
		}
	} else if r, ok := d.deps.Menus.CheckTrigger(ctx, key, text, cc.IsReturningCustomer); ok && r.Text != "" {
		return reply{text: r.Text, source: domain.SourceMenu, stage: "menu_trigger"}, true
	}

	res, err := d.deps.Retrieval.SearchOrAnswer(ctx, key.Owner, text, cc, settings)
	if err != nil {
		d.log.Warn().Err(err).Str("owner", key.Owner).Msg("retrieval failed, generating")
		res = retrieval.Result{Stage: retrieval.StageGenerate}
	}
	if res.Stage != retrieval.StageGenerate && res.Text != "" {
		return reply{text: res.Text, source: res.Source, humanize: true, stage: string(res.Stage)}, true
	}

	out := d.deps.Synth.Synthesize(ctx, synth.Request{
		Settings: settings,
		Context:  cc,
		Records:  res.Records,
		History:  history,
		Query:    text,
	})
	return reply{text: out.Text, source: out.Source, humanize: true, stage: string(retrieval.StageGenerate)}, true
}

// humanDelay waits a random time in the configured range. It returns
// false if ctx ends first.
func (d *Dispatcher) humanDelay(ctx context.Context) bool {
	delay := d.cfg.ReplyDelayMin
	if span := d.cfg.ReplyDelayMax - d.cfg.ReplyDelayMin; span > 0 {
		delay += time.Duration(rand.Int64N(int64(span) + 1))
	}
	if delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func lastOutgoingSource(history []domain.Message) domain.SourceTag {
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].Incoming() {
			return history[i].Source
		}
	}
	return ""
}

func (d *Dispatcher) dropped(ctx context.Context, msg domain.InboundMessage, reason string) {
	d.emit(ctx, hooks.EventMessageDropped, map[string]any{
		"owner":        msg.Owner,
		"channel":      string(msg.Channel),
		"counterparty": msg.Counterparty,
		"reason":       reason,
	})
}

func (d *Dispatcher) emit(ctx context.Context, event string, data map[string]any) {
	if d.deps.Hooks != nil {
		d.deps.Hooks.Emit(ctx, event, data)
	}
}
