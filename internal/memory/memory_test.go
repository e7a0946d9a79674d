package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/store"
)

func testStore(t *testing.T) (*Store, *store.DB, *time.Time) {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	s := New(db, Config{SessionWindow: 24 * time.Hour}, log)
	s.SetClock(func() time.Time { return now })
	return s, db, &now
}

func in(text string) domain.Message {
	return domain.Message{Direction: domain.DirectionIncoming, Content: text}
}

func out(text string) domain.Message {
	return domain.Message{Direction: domain.DirectionOutgoing, Content: text}
}

// --- Store ---

func TestRecord_SameWindowSharesSession(t *testing.T) {
	s, _, now := testStore(t)
	ctx := context.Background()

	m1, err := s.Record(ctx, "shop-1", domain.ChannelTelegram, "42", domain.DirectionIncoming, "hello", domain.SourceInbound)
	require.NoError(t, err)
	*now = now.Add(time.Hour)
	m2, err := s.Record(ctx, "shop-1", domain.ChannelTelegram, "42", domain.DirectionOutgoing, "hi!", domain.SourceSmallTalk)
	require.NoError(t, err)

	assert.NotEmpty(t, m1.SessionID)
	assert.Equal(t, m1.SessionID, m2.SessionID)
	assert.NotEqual(t, m1.ID, m2.ID)

	history, err := s.RecentHistory(ctx, "shop-1", "42", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, domain.SourceSmallTalk, history[1].Source)
}

func TestRecord_NewWindowAfterSessionWindow(t *testing.T) {
	s, _, now := testStore(t)
	ctx := context.Background()

	first, err := s.Record(ctx, "shop-1", domain.ChannelTelegram, "42", domain.DirectionIncoming, "old", domain.SourceInbound)
	require.NoError(t, err)

	*now = now.Add(25 * time.Hour)
	history, err := s.RecentHistory(ctx, "shop-1", "42", 10)
	require.NoError(t, err)
	assert.Empty(t, history, "lapsed window has no history")

	second, err := s.Record(ctx, "shop-1", domain.ChannelTelegram, "42", domain.DirectionIncoming, "new", domain.SourceInbound)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	history, err = s.RecentHistory(ctx, "shop-1", "42", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "new", history[0].Content)
}

func TestRecentHistory_RecoveredAfterRestart(t *testing.T) {
	s, db, now := testStore(t)
	ctx := context.Background()

	m, err := s.Record(ctx, "shop-1", domain.ChannelIRC, "alice", domain.DirectionIncoming, "hi", domain.SourceInbound)
	require.NoError(t, err)

	restarted := New(db, Config{}, logging.New(nil, "silent"))
	restarted.SetClock(func() time.Time { return now.Add(time.Minute) })

	history, err := restarted.RecentHistory(ctx, "shop-1", "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	again, err := restarted.Record(ctx, "shop-1", domain.ChannelIRC, "alice", domain.DirectionIncoming, "still me", domain.SourceInbound)
	require.NoError(t, err)
	assert.Equal(t, m.SessionID, again.SessionID)
}

func TestSmartContext_CachedAndInvalidatedOnRecord(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()

	cc, err := s.SmartContext(ctx, "shop-1", "42")
	require.NoError(t, err)
	assert.Equal(t, 0, cc.GreetingCount)
	assert.Equal(t, domain.StageExploration, cc.Stage)

	_, err = s.Record(ctx, "shop-1", domain.ChannelTelegram, "42", domain.DirectionIncoming, "السلام عليكم", domain.SourceInbound)
	require.NoError(t, err)

	cc, err = s.SmartContext(ctx, "shop-1", "42")
	require.NoError(t, err)
	assert.Equal(t, 1, cc.GreetingCount)
	assert.True(t, cc.IsReturningCustomer)
	assert.Equal(t, 1, cc.MessageCount)
}

func TestInvalidateOwnerAndSweep(t *testing.T) {
	s, _, now := testStore(t)
	ctx := context.Background()

	_, err := s.Record(ctx, "shop-1", domain.ChannelTelegram, "42", domain.DirectionIncoming, "hello", domain.SourceInbound)
	require.NoError(t, err)
	_, err = s.SmartContext(ctx, "shop-1", "42")
	require.NoError(t, err)
	assert.Equal(t, 1, s.contexts.Len())

	s.InvalidateOwner("shop-1")
	assert.Equal(t, 0, s.contexts.Len())

	*now = now.Add(48 * time.Hour)
	assert.Equal(t, 1, s.Sweep(), "lapsed binding removed")
}

// --- Derive ---

func TestDerive_Stages(t *testing.T) {
	many := func(n int) []domain.Message {
		msgs := make([]domain.Message, n)
		for i := range msgs {
			msgs[i] = in("tell me more")
		}
		return msgs
	}

	tests := []struct {
		name string
		msgs []domain.Message
		want domain.Stage
	}{
		{"empty", nil, domain.StageExploration},
		{"purchase", []domain.Message{in("hello"), in("I want to buy it")}, domain.StageClosing},
		{"arabic purchase", []domain.Message{in("ابي اطلب الجوال")}, domain.StageClosing},
		{"discount", []domain.Message{in("any discount?")}, domain.StageNegotiation},
		{"price sensitive", []domain.Message{in("سعر الجوال"), in("price of laptop"), in("how much is the watch")}, domain.StagePriceSensitive},
		{"two price messages", []domain.Message{in("سعر الجوال"), in("price of laptop")}, domain.StageExploration},
		{"engaged", many(16), domain.StageEngaged},
		{"interested", many(6), domain.StageInterested},
		{"returning", []domain.Message{in("hello"), out("hi"), in("مرحبا")}, domain.StageReturningCustomer},
		{"familiar", []domain.Message{in("hello"), out("hi")}, domain.StageFamiliarCustomer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(tt.msgs).Stage)
		})
	}
}

func TestDerive_CustomerName(t *testing.T) {
	assert.Equal(t, "Sara", Derive([]domain.Message{in("Hi, my name is Sara")}).CustomerName)
	assert.Equal(t, "أحمد", Derive([]domain.Message{in("أنا اسمي أحمد")}).CustomerName)
	assert.Equal(t, "خالد", Derive([]domain.Message{in("اسمي خالد")}).CustomerName)
	assert.Equal(t, "", Derive([]domain.Message{in("I'm looking for shoes")}).CustomerName)
	assert.Equal(t, "", Derive([]domain.Message{out("my name is Bot")}).CustomerName, "outgoing ignored")

	last := Derive([]domain.Message{in("I am Omar"), in("sorry, my name is Ali")})
	assert.Equal(t, "Ali", last.CustomerName, "last mention wins")
}

func TestDerive_LastIntentAndGreetings(t *testing.T) {
	cc := Derive([]domain.Message{in("السلام عليكم"), out("وعليكم السلام"), in("سعر الجوال؟"), out("100")})
	assert.Equal(t, "price", cc.LastIntent)
	assert.Equal(t, 1, cc.GreetingCount)
	assert.Equal(t, 4, cc.MessageCount)
	assert.True(t, IsGreeting("Good morning!"))
	assert.False(t, IsGreeting("price please"))
}

func TestDerive_PreviousTopics(t *testing.T) {
	cc := Derive([]domain.Message{
		in("do you offer delivery?"),
		in("what about warranty"),
		in("can I pay cash"),
		in("is there a refund policy"),
		in("shipping to Riyadh?"),
	})
	assert.Equal(t, []string{"payment", "returns", "delivery"}, cc.PreviousTopics)
}
