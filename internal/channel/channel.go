// Package channel defines the transport contract between the session
// registry and the messaging platforms the bot talks over.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/concierge/internal/domain"
)

var (
	// ErrAuthInvalidated means the platform revoked or rejected the
	// session's credentials. It is never retried.
	ErrAuthInvalidated = errors.New("channel: auth invalidated")

	// ErrTransportDrop means the connection was lost and may be retried.
	ErrTransportDrop = errors.New("channel: transport dropped")
)

// EventKind is the type of a transport lifecycle event.
type EventKind int

const (
	EventMessage EventKind = iota
	EventPairing
	EventReady
	EventDrop
	EventLogout
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventPairing:
		return "pairing"
	case EventReady:
		return "ready"
	case EventDrop:
		return "drop"
	case EventLogout:
		return "logout"
	}
	return "unknown"
}

// Event is emitted by a transport handle.
type Event struct {
	Kind             EventKind
	Counterparty     string
	CounterpartyName string
	Text             string
	MessageID        string
	// Pairing carries the artifact a merchant uses to link the account
	// (a QR payload, link or token).
	Pairing string
	// Credentials, when set on EventReady, is material to persist so
	// the next Open skips pairing.
	Credentials []byte
	Err         error
	At          time.Time
}

// OpenRequest is what a Connector needs to open one session's transport.
type OpenRequest struct {
	Owner       string
	Credentials []byte
	// Events receives every lifecycle event. Handles must not block
	// forever on it; the registry drains it until Close returns.
	Events chan<- Event
}

// Handle is one open transport connection.
type Handle interface {
	SendText(ctx context.Context, counterparty, text string) error
	Close() error
}

// Connector opens transport handles for one channel kind.
type Connector interface {
	Kind() domain.ChannelKind
	Open(ctx context.Context, req OpenRequest) (Handle, error)
}

// Emit delivers ev unless ctx is done first. It reports whether the event
// was delivered.
func Emit(ctx context.Context, events chan<- Event, ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
