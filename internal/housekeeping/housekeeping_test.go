package housekeeping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/convlock"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestRunOnce(t *testing.T) {
	s := New(time.Minute, silentLog())
	s.Add("locks", func() int { return 2 })
	s.Add("menus", func() int { return 0 })
	s.Add("broken", func() int { panic("boom") })

	got := s.RunOnce()
	assert.Equal(t, map[string]int{"locks": 2, "menus": 0, "broken": 0}, got)
}

func TestRunOnce_SweepsLocks(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	locks := convlock.New(time.Second, time.Second, convlock.WithClock(func() time.Time { return now }))
	key := domain.ConversationKey{Owner: "shop-1", Channel: domain.ChannelWebChat, Counterparty: "v1"}
	require.True(t, locks.Admit(key))

	s := New(time.Minute, silentLog())
	s.Add("locks", func() int { return locks.Sweep(time.Hour) })

	assert.Equal(t, 0, s.RunOnce()["locks"])
	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, s.RunOnce()["locks"])
}

func TestStartStop(t *testing.T) {
	s := New(0, silentLog())
	assert.Equal(t, "@every 10m0s", s.Spec())
	assert.True(t, s.Next().IsZero())

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	next := s.Next()
	assert.WithinDuration(t, time.Now().Add(DefaultInterval), next, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
	assert.True(t, s.Next().IsZero())
}
