package domain

import "time"

// SessionKey identifies one channel connection owned by a merchant.
type SessionKey struct {
	Owner   string      `json:"owner"`
	Channel ChannelKind `json:"channel"`
}

// String returns a canonical string form of the session key.
func (k SessionKey) String() string {
	return k.Owner + ":" + string(k.Channel)
}

// ConversationKey identifies one conversation's serialization domain.
type ConversationKey struct {
	Owner        string      `json:"owner"`
	Channel      ChannelKind `json:"channel"`
	Counterparty string      `json:"counterparty"`
}

// String returns a canonical string form of the conversation key.
func (k ConversationKey) String() string {
	return k.Owner + ":" + string(k.Channel) + ":" + k.Counterparty
}

// Session returns the key of the channel connection this conversation runs over.
func (k ConversationKey) Session() SessionKey {
	return SessionKey{Owner: k.Owner, Channel: k.Channel}
}

// SessionState is a point in the channel connection lifecycle.
type SessionState string

const (
	StateIdle           SessionState = "idle"
	StateInitializing   SessionState = "initializing"
	StatePairingPending SessionState = "pairing_pending"
	StateConnected      SessionState = "connected"
	StateReconnecting   SessionState = "reconnecting"
	StateDisconnecting  SessionState = "disconnecting"
)

// SessionStatus is a snapshot of one channel session.
type SessionStatus struct {
	Owner             string       `json:"owner"`
	Channel           ChannelKind  `json:"channel"`
	State             SessionState `json:"state"`
	LastActivity      time.Time    `json:"lastActivity,omitempty"`
	HasPairing        bool         `json:"hasPairing"`
	LastError         string       `json:"lastError,omitempty"`
	ReconnectAttempts int          `json:"reconnectAttempts,omitempty"`
}
