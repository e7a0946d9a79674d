package webchat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/concierge/internal/channel"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func serve(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /webchat/{token}/ws
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 {
			http.NotFound(w, r)
			return
		}
		hub.ServeWidget(w, r, parts[1])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, token, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/webchat/" + token + "/ws"
	if query != "" {
		url += "?" + query
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func next(t *testing.T, events <-chan channel.Event) channel.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return channel.Event{}
	}
}

func tokenFrom(link string) string {
	parts := strings.Split(link, "/")
	return parts[len(parts)-2]
}

func TestKindAndLink(t *testing.T) {
	hub := New("https://chat.example/", testLogger())
	assert.Equal(t, domain.ChannelWebChat, hub.Kind())
	assert.Equal(t, "https://chat.example/webchat/abc/ws", hub.PairingLink("abc"))
}

// --- Pairing ---

func TestOpen_PairsOnFirstAttach(t *testing.T) {
	hub := New("https://chat.example", testLogger())
	srv := serve(t, hub)
	events := make(chan channel.Event, 8)

	h, err := hub.Open(context.Background(), channel.OpenRequest{Owner: "shop-1", Events: events})
	require.NoError(t, err)
	defer h.Close()

	pairing := next(t, events)
	require.Equal(t, channel.EventPairing, pairing.Kind)
	token := tokenFrom(pairing.Pairing)
	require.NotEmpty(t, token)

	conn, _, err := dial(t, srv, token, "visitor=v1&name=Sara")
	require.NoError(t, err)
	defer conn.Close()

	ready := next(t, events)
	assert.Equal(t, channel.EventReady, ready.Kind)
	assert.Equal(t, []byte(token), ready.Credentials)

	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)
	assert.Equal(t, "v1", hello.Text)

	require.NoError(t, conn.WriteJSON(Frame{Type: "message", Text: "السلام عليكم"}))
	msg := next(t, events)
	assert.Equal(t, channel.EventMessage, msg.Kind)
	assert.Equal(t, "v1", msg.Counterparty)
	assert.Equal(t, "Sara", msg.CounterpartyName)
	assert.Equal(t, "السلام عليكم", msg.Text)

	require.NoError(t, h.SendText(context.Background(), "v1", "وعليكم السلام"))
	var out Frame
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "bot", out.From)
	assert.Equal(t, "وعليكم السلام", out.Text)
}

func TestOpen_SavedTokenIsReadyAtOnce(t *testing.T) {
	hub := New("", testLogger())
	events := make(chan channel.Event, 4)

	h, err := hub.Open(context.Background(), channel.OpenRequest{Owner: "shop-1", Credentials: []byte("tok-1"), Events: events})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, channel.EventReady, next(t, events).Kind)

	srv := serve(t, hub)
	conn, _, err := dial(t, srv, "tok-1", "visitor=v9")
	require.NoError(t, err)
	defer conn.Close()

	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, 1, hub.Attached("shop-1"))

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServeWidget_UnknownToken(t *testing.T) {
	srv := serve(t, New("", testLogger()))
	_, resp, err := dial(t, srv, "nope", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendText_UnknownVisitor(t *testing.T) {
	hub := New("", testLogger())
	h, err := hub.Open(context.Background(), channel.OpenRequest{Owner: "shop-1", Events: make(chan channel.Event, 2)})
	require.NoError(t, err)
	defer h.Close()

	assert.ErrorContains(t, h.SendText(context.Background(), "ghost", "hi"), "not attached")
}

// --- Revoke and close ---

func TestRevoke_LogsOutAndForgetsToken(t *testing.T) {
	hub := New("", testLogger())
	srv := serve(t, hub)
	events := make(chan channel.Event, 4)

	h, err := hub.Open(context.Background(), channel.OpenRequest{Owner: "shop-1", Credentials: []byte("tok-2"), Events: events})
	require.NoError(t, err)
	defer h.Close()
	require.Equal(t, channel.EventReady, next(t, events).Kind)

	assert.True(t, hub.Revoke("shop-1"))
	ev := next(t, events)
	assert.Equal(t, channel.EventLogout, ev.Kind)
	assert.ErrorIs(t, ev.Err, channel.ErrAuthInvalidated)

	_, resp, err := dial(t, srv, "tok-2", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, hub.Revoke("shop-1"))
}

func TestClose_DetachesWidgets(t *testing.T) {
	hub := New("", testLogger())
	srv := serve(t, hub)
	events := make(chan channel.Event, 4)

	h, err := hub.Open(context.Background(), channel.OpenRequest{Owner: "shop-1", Credentials: []byte("tok-3"), Events: events})
	require.NoError(t, err)
	require.Equal(t, channel.EventReady, next(t, events).Kind)

	conn, _, err := dial(t, srv, "tok-3", "visitor=v1")
	require.NoError(t, err)
	defer conn.Close()
	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "socket is closed by the hub")
	assert.Equal(t, 0, hub.Attached("shop-1"))
}
