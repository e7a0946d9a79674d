package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/catalog"
	"github.com/soyeahso/concierge/internal/convlock"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/llm"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/memory"
	"github.com/soyeahso/concierge/internal/menu"
	"github.com/soyeahso/concierge/internal/retrieval"
	"github.com/soyeahso/concierge/internal/store"
	"github.com/soyeahso/concierge/internal/synth"
)

const owner = "shop-1"

type sent struct {
	to, text string
}

type fakeSender struct {
	mu   sync.Mutex
	out  []sent
	fail error
}

func (s *fakeSender) Send(_ context.Context, _ string, _ domain.ChannelKind, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.out = append(s.out, sent{to: to, text: text})
	return nil
}

func (s *fakeSender) sent() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.out...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t      *testing.T
	db     *store.DB
	mem    *memory.Store
	sender *fakeSender
	clock  *clock
	llm    *llm.MockClient
	locks  *convlock.Locks
	disp   *Dispatcher

	mu      sync.Mutex
	dropped []string
	replies []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		t:      t,
		db:     db,
		sender: &fakeSender{},
		clock:  &clock{now: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)},
		llm:    &llm.MockClient{ProviderName: "mock"},
	}

	cache := catalog.NewCache(db, db, db, time.Minute, log)
	h.mem = memory.New(db, memory.Config{}, log)

	providers := llm.NewRegistry(log)
	providers.Register("mock", h.llm)

	bus := hooks.NewManager(log)
	bus.On(hooks.EventMessageDropped, "test", func(_ context.Context, p hooks.Payload) error {
		h.mu.Lock()
		h.dropped = append(h.dropped, p.Data["reason"].(string))
		h.mu.Unlock()
		return nil
	})
	bus.On(hooks.EventReplySent, "test", func(_ context.Context, p hooks.Payload) error {
		h.mu.Lock()
		h.replies = append(h.replies, p.Data["source"].(string))
		h.mu.Unlock()
		return nil
	})

	h.locks = convlock.New(5*time.Second, 3*time.Second, convlock.WithClock(h.clock.Now))
	h.disp = New(Deps{
		Locks:     h.locks,
		Settings:  cache,
		Memory:    h.mem,
		Menus:     menu.NewEngine(cache, 0, log),
		Retrieval: retrieval.NewEngine(cache, retrieval.Config{}, log),
		Synth:     synth.New(providers, synth.Config{DefaultProviders: []string{"mock"}}, log),
		Sender:    h.sender,
		Hooks:     bus,
	}, Config{LeaseRenewal: 2 * time.Millisecond}, log)
	h.disp.SetClock(h.clock.Now)
	return h
}

func (h *harness) inbound(from, text string) {
	h.disp.HandleInbound(context.Background(), domain.InboundMessage{
		ID:           "m-" + text,
		Owner:        owner,
		Channel:      domain.ChannelTelegram,
		Counterparty: from,
		Text:         text,
		Timestamp:    h.clock.Now(),
	})
}

func (h *harness) history(from string) []domain.Message {
	msgs, err := h.mem.RecentHistory(context.Background(), owner, from, 50)
	require.NoError(h.t, err)
	return msgs
}

func (h *harness) drops() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.dropped...)
}

func (h *harness) seedCatalog(rows ...map[string]string) {
	ctx := context.Background()
	fields := []domain.Field{{Name: "name", Type: domain.FieldText, Position: 0}, {Name: "price", Type: domain.FieldText, Position: 1}}
	for _, f := range fields {
		require.NoError(h.t, h.db.PutField(ctx, owner, f))
	}
	for i, row := range rows {
		rec := domain.BuildRecord(row["name"], i, fields, row)
		require.NoError(h.t, h.db.PutRecord(ctx, owner, rec))
	}
}

func (h *harness) saveSettings(mut func(*domain.MerchantSettings)) {
	s := domain.DefaultSettings()
	s.BusinessName = "Acme"
	s.BotName = "Sami"
	mut(&s)
	require.NoError(h.t, h.db.SaveSettings(context.Background(), owner, s))
}

func mainMenu() domain.Template {
	return domain.Template{
		Name:     "main",
		Triggers: []string{"menu"},
		Header:   "Welcome!",
		Body:     "Choose an option",
		Active:   true,
		Buttons: []domain.Button{
			{ID: 1, Type: domain.ButtonURL, Text: "Shop", Payload: "https://acme.example", Position: 1},
			{ID: 2, Type: domain.ButtonReply, Text: "Hours", Payload: "We open 9am to 9pm.", Position: 2},
			{ID: 3, Type: domain.ButtonPhoneNumber, Text: "Call", Payload: "+966500000000", Position: 3},
		},
	}
}

// --- End-to-end scenarios ---

func TestScenario_FirstGreeting(t *testing.T) {
	h := newHarness(t)
	h.saveSettings(func(*domain.MerchantSettings) {})

	h.inbound("42", "السلام عليكم")

	out := h.sender.sent()
	require.Len(t, out, 1)
	assert.Equal(t, "42", out[0].to)
	assert.Contains(t, out[0].text, "وعليكم السلام")
	assert.Contains(t, out[0].text, "Acme")

	log := h.history("42")
	require.Len(t, log, 2)
	assert.Equal(t, domain.DirectionIncoming, log[0].Direction)
	assert.Equal(t, domain.SourceInbound, log[0].Source)
	assert.Equal(t, domain.DirectionOutgoing, log[1].Direction)
	assert.Equal(t, domain.SourceSmallTalk, log[1].Source)
	assert.Equal(t, 0, h.llm.Calls(), "small talk never reaches a provider")
}

func TestScenario_PriceQuestion(t *testing.T) {
	h := newHarness(t)
	h.seedCatalog(map[string]string{"name": "X", "price": "100"})

	h.inbound("42", "سعر X")

	out := h.sender.sent()
	require.Len(t, out, 1)
	assert.Contains(t, out[0].text, "100")
	log := h.history("42")
	require.Len(t, log, 2)
	assert.Equal(t, domain.SourceDirect, log[1].Source)
}

func TestScenario_BurstWithinSpacing(t *testing.T) {
	h := newHarness(t)

	h.inbound("42", "hello")
	h.clock.Advance(500 * time.Millisecond)
	h.inbound("42", "hello again")

	assert.Len(t, h.sender.sent(), 1)
	log := h.history("42")
	incoming := 0
	for _, m := range log {
		if m.Incoming() {
			incoming++
		}
	}
	assert.Equal(t, 1, incoming)
	assert.LessOrEqual(t, len(log)-incoming, 1)
	assert.Equal(t, []string{ReasonSpacing}, h.drops())
}

// --- Concurrency ---

func TestMutualExclusion_SecondArrivalDropped(t *testing.T) {
	h := newHarness(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.llm.CompleteFunc = func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		close(entered)
		<-release
		return &llm.CompletionResponse{Content: "We deliver across the kingdom."}, nil
	}

	done := make(chan struct{})
	go func() {
		h.inbound("42", "do you deliver to jeddah")
		close(done)
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first message never reached synthesis")
	}

	h.clock.Advance(3500 * time.Millisecond)
	h.inbound("42", "hello??")
	assert.Equal(t, []string{ReasonLocked}, h.drops())

	close(release)
	<-done

	out := h.sender.sent()
	require.Len(t, out, 1)
	assert.Equal(t, "We deliver across the kingdom.", out[0].text)
	assert.Equal(t, 1, h.llm.Calls())
}

func TestMutualExclusion_ReplyOutlivesLockTTL(t *testing.T) {
	h := newHarness(t)

	var active, peak atomic.Int32
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	h.llm.CompleteFunc = func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if n := active.Add(1); n > peak.Load() {
			peak.Store(n)
		}
		defer active.Add(-1)
		entered <- struct{}{}
		<-release
		return &llm.CompletionResponse{Content: "We deliver across the kingdom."}, nil
	}

	done := make(chan struct{})
	go func() {
		h.inbound("42", "do you deliver to jeddah")
		close(done)
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first message never reached synthesis")
	}

	// synthesis is still running past both the lock TTL and the spacing window
	h.clock.Advance(5500 * time.Millisecond)
	conv := domain.ConversationKey{Owner: owner, Channel: domain.ChannelTelegram, Counterparty: "42"}
	require.Eventually(t, func() bool { return h.locks.Held(conv) }, time.Second, time.Millisecond,
		"the running reply keeps its lock")

	second := make(chan struct{})
	go func() {
		h.inbound("42", "any update on delivery")
		close(second)
	}()
	select {
	case <-second:
	case <-entered:
		close(release)
		t.Fatal("second message reached synthesis while the first was running")
	}
	assert.Equal(t, []string{ReasonLocked}, h.drops())

	close(release)
	<-done

	out := h.sender.sent()
	require.Len(t, out, 1)
	assert.Equal(t, "We deliver across the kingdom.", out[0].text)
	assert.Equal(t, 1, h.llm.Calls())
	assert.Equal(t, int32(1), peak.Load())
	assert.False(t, h.locks.Held(conv), "released after the reply")
}

func TestDifferentConversationsDoNotBlock(t *testing.T) {
	h := newHarness(t)
	h.inbound("42", "hello")
	h.inbound("43", "hello")
	assert.Len(t, h.sender.sent(), 2)
	assert.Empty(t, h.drops())
}

// --- Menus ---

func TestMenu_TriggerThenNumericSelection(t *testing.T) {
	h := newHarness(t)
	_, err := h.db.SaveTemplate(context.Background(), owner, mainMenu())
	require.NoError(t, err)
	h.llm.CompleteFunc = func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "generated"}, nil
	}

	h.inbound("42", "show me the menu please")
	h.clock.Advance(4 * time.Second)
	h.inbound("42", "2")
	h.clock.Advance(4 * time.Second)
	h.inbound("42", "5")

	out := h.sender.sent()
	require.Len(t, out, 3)
	assert.Contains(t, out[0].text, "1. Shop")
	assert.Contains(t, out[0].text, "3. Call")
	assert.Equal(t, "We open 9am to 9pm.", out[1].text)
	assert.Equal(t, "generated", out[2].text, "out of range falls through to retrieval")

	log := h.history("42")
	require.Len(t, log, 6)
	assert.Equal(t, domain.SourceMenu, log[1].Source)
	assert.Equal(t, domain.SourceMenu, log[3].Source)
	assert.Equal(t, domain.SourceTag("mock"), log[5].Source)
}

// --- Gates ---

func TestPausedRecordsButDoesNotReply(t *testing.T) {
	h := newHarness(t)
	h.saveSettings(func(s *domain.MerchantSettings) { s.Paused = true })

	h.inbound("42", "hello")

	assert.Empty(t, h.sender.sent())
	log := h.history("42")
	require.Len(t, log, 1)
	assert.True(t, log[0].Incoming())
}

func TestWorkingHours_NoticeSentOnce(t *testing.T) {
	h := newHarness(t)
	h.saveSettings(func(s *domain.MerchantSettings) {
		s.WorkingHours = domain.WorkingHours{Enabled: true, Start: "09:00", End: "17:00", Timezone: "UTC", Message: "We're closed, back at 9."}
	})
	h.clock.Advance(10 * time.Hour) // 20:00 UTC

	h.inbound("42", "hello")
	h.clock.Advance(time.Minute)
	h.inbound("42", "anyone?")

	out := h.sender.sent()
	require.Len(t, out, 1)
	assert.Equal(t, "We're closed, back at 9.", out[0].text)
	log := h.history("42")
	require.Len(t, log, 3)
	assert.Equal(t, domain.SourceWorkingHours, log[1].Source)
}

// --- Failures ---

func TestProvidersFailing_FallbackMessage(t *testing.T) {
	h := newHarness(t)
	h.llm.CompleteFunc = func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, &llm.ProviderError{Provider: "mock", Code: 503, Message: "overloaded"}
	}

	h.inbound("42", "what's your return policy")

	out := h.sender.sent()
	require.Len(t, out, 1)
	assert.Equal(t, domain.DefaultFallbackMessage, out[0].text)
	log := h.history("42")
	require.Len(t, log, 2)
	assert.Equal(t, domain.SourceFallback, log[1].Source)
}

func TestSendFailure_NothingRecorded(t *testing.T) {
	h := newHarness(t)
	h.sender.fail = errors.New("session: not connected")

	h.inbound("42", "hello")

	assert.Equal(t, []string{ReasonSendFailed}, h.drops())
	log := h.history("42")
	require.Len(t, log, 1)
	assert.True(t, log[0].Incoming())
}

func TestMalformedInboundDropped(t *testing.T) {
	h := newHarness(t)

	h.inbound("42", "   ")
	h.inbound("", "hello")

	assert.Equal(t, []string{ReasonMalformed, ReasonMalformed}, h.drops())
	assert.Empty(t, h.sender.sent())
	assert.Empty(t, h.history("42"))
}

// --- Delay ---

func TestHumanDelay(t *testing.T) {
	d := New(Deps{}, Config{ReplyDelayMin: 5 * time.Millisecond, ReplyDelayMax: 10 * time.Millisecond}, logging.New(nil, "silent"))

	start := time.Now()
	require.True(t, d.humanDelay(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, d.humanDelay(ctx))

	none := New(Deps{}, Config{}, logging.New(nil, "silent"))
	assert.True(t, none.humanDelay(context.Background()))
}
