package channel

import (
	"context"
	"sync"

	"github.com/soyeahso/concierge/internal/domain"
)

// SentText is one message delivered through a MockHandle.
type SentText struct {
	To   string
	Text string
}

// MockConnector is a test double for Connector. Without OpenFunc each Open
// returns a new MockHandle that reports ready.
type MockConnector struct {
	ChannelKind domain.ChannelKind
	OpenFunc    func(ctx context.Context, req OpenRequest) (Handle, error)

	mu      sync.Mutex
	opens   []OpenRequest
	handles []*MockHandle
}

func (m *MockConnector) Kind() domain.ChannelKind { return m.ChannelKind }

func (m *MockConnector) Open(ctx context.Context, req OpenRequest) (Handle, error) {
	m.mu.Lock()
	m.opens = append(m.opens, req)
	m.mu.Unlock()

	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, req)
	}
	h := NewMockHandle(req.Events)
	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()
	go h.Emit(Event{Kind: EventReady})
	return h, nil
}

// Opens returns how many times Open was called.
func (m *MockConnector) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.opens)
}

// LastRequest returns the most recent OpenRequest.
func (m *MockConnector) LastRequest() OpenRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.opens) == 0 {
		return OpenRequest{}
	}
	return m.opens[len(m.opens)-1]
}

// Handle returns the i-th handle created by the default Open.
func (m *MockConnector) Handle(i int) *MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.handles) {
		return nil
	}
	return m.handles[i]
}

// MockHandle is a test double for Handle.
type MockHandle struct {
	SendErr error

	events chan<- Event
	done   chan struct{}

	mu     sync.Mutex
	sent   []SentText
	closed bool
}

// NewMockHandle creates a handle that emits into events.
func NewMockHandle(events chan<- Event) *MockHandle {
	return &MockHandle{events: events, done: make(chan struct{})}
}

func (h *MockHandle) SendText(_ context.Context, to, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SendErr != nil {
		return h.SendErr
	}
	h.sent = append(h.sent, SentText{To: to, Text: text})
	return nil
}

func (h *MockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
	return nil
}

// Emit pushes ev to the session unless the handle is closed first.
func (h *MockHandle) Emit(ev Event) bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return Emit(ctx, h.events, ev)
}

// Sent returns the delivered messages.
func (h *MockHandle) Sent() []SentText {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SentText(nil), h.sent...)
}

// Closed reports whether Close was called.
func (h *MockHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
