package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/logging"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// --- ClientRegistry tests ---

func TestClientRegistryNew(t *testing.T) {
	reg := NewClientRegistry(testLog())
	require.NotNil(t, reg)
	assert.Equal(t, 0, reg.Count())
}

func TestClientRegistryAddGetRemove(t *testing.T) {
	reg := NewClientRegistry(testLog())

	reg.Add(&Client{ConnID: "conn-1", Owner: "shop-1"})
	assert.Equal(t, 1, reg.Count())

	got, ok := reg.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "shop-1", got.Owner)

	reg.Remove("conn-1")
	reg.Remove("nonexistent")
	assert.Equal(t, 0, reg.Count())
	_, ok = reg.Get("conn-1")
	assert.False(t, ok)
}

func TestClientRegistryCloseAll(t *testing.T) {
	reg := NewClientRegistry(testLog())

	reg.Add(&Client{ConnID: "conn-1"})
	reg.Add(&Client{ConnID: "conn-2", closed: true})

	reg.CloseAll()
	assert.Equal(t, 0, reg.Count())
}

func TestClientWants(t *testing.T) {
	all := &Client{}
	one := &Client{Owner: "shop-1"}

	assert.True(t, all.wants("shop-2"))
	assert.True(t, one.wants("shop-1"))
	assert.False(t, one.wants("shop-2"))
	assert.True(t, one.wants(""), "ownerless events reach everyone")
}

func TestClientSendAfterClose(t *testing.T) {
	c := &Client{ConnID: "conn-1"}
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(Frame{Type: FrameTypeEvent}), ErrClientClosed)
}

// --- resolveBindAddr tests ---

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		name string
		bind string
		port int
		host string
		want string
	}{
		{"loopback", "loopback", 18790, "", "127.0.0.1:18790"},
		{"lan", "lan", 9999, "", "0.0.0.0:9999"},
		{"custom_default", "custom", 3000, "", "0.0.0.0:3000"},
		{"custom_host", "custom", 3000, "10.0.0.1", "10.0.0.1:3000"},
		{"custom_ipv6", "custom", 3000, "::1", "[::1]:3000"},
		{"unknown_fallback", "whatever", 5000, "", "127.0.0.1:5000"},
		{"empty_fallback", "", 5000, "", "127.0.0.1:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.GatewayConfig{Bind: tt.bind, Port: tt.port, CustomBindHost: tt.host}
			assert.Equal(t, tt.want, resolveBindAddr(cfg))
		})
	}
}
