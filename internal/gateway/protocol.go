package gateway

import (
	"encoding/json"
	"time"
)

// FrameTypeEvent marks frames on the event stream.
const FrameTypeEvent = "event"

// Frame is the envelope for messages pushed to event stream clients.
type Frame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Seq     int64           `json:"seq"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64, at time.Time) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:    FrameTypeEvent,
		Event:   event,
		Seq:     seq,
		At:      at,
		Payload: raw,
	}, nil
}
