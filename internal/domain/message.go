package domain

import "time"

// Direction says which way a message travelled.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// SourceTag records which subsystem produced a message. Provider replies
// are tagged with the provider name, e.g. SourceTag("gemini").
type SourceTag string

const (
	SourceInbound      SourceTag = "inbound"
	SourceMenu         SourceTag = "menu"
	SourceSmallTalk    SourceTag = "small_talk"
	SourceFuzzy        SourceTag = "fuzzy"
	SourceDirect       SourceTag = "direct"
	SourceFallback     SourceTag = "fallback"
	SourceWorkingHours SourceTag = "working_hours"
)

// InboundMessage is a message received from a channel transport.
type InboundMessage struct {
	ID               string      `json:"id"`
	Owner            string      `json:"owner"`
	Channel          ChannelKind `json:"channel"`
	Counterparty     string      `json:"counterparty"`
	CounterpartyName string      `json:"counterpartyName,omitempty"`
	Text             string      `json:"text"`
	Timestamp        time.Time   `json:"timestamp"`
}

// Key returns the conversation key of the message.
func (m InboundMessage) Key() ConversationKey {
	return ConversationKey{Owner: m.Owner, Channel: m.Channel, Counterparty: m.Counterparty}
}

// Message is one append-only entry of the conversation log.
type Message struct {
	ID           string      `json:"id"`
	Owner        string      `json:"owner"`
	Channel      ChannelKind `json:"channel"`
	Counterparty string      `json:"counterparty"`
	SessionID    string      `json:"sessionId"`
	Direction    Direction   `json:"direction"`
	Content      string      `json:"content"`
	Source       SourceTag   `json:"source"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Incoming reports whether the message came from the counterparty.
func (m Message) Incoming() bool {
	return m.Direction == DirectionIncoming
}
