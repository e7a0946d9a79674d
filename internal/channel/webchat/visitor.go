package webchat

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrVisitorClosed is returned when writing to a closed visitor socket.
var ErrVisitorClosed = errors.New("webchat: visitor closed")

// Frame is the JSON envelope exchanged with the widget.
type Frame struct {
	Type string    `json:"type"` // "message" | "hello"
	Text string    `json:"text,omitempty"`
	From string    `json:"from,omitempty"`
	At   time.Time `json:"at,omitempty"`
}

// visitor is one attached widget connection.
type visitor struct {
	ID          string
	Name        string
	Socket      *websocket.Conn
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
}

func newVisitor(id, name string, conn *websocket.Conn) *visitor {
	return &visitor{ID: id, Name: name, Socket: conn, ConnectedAt: time.Now()}
}

// Send writes a frame. Thread-safe.
func (v *visitor) Send(f Frame) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrVisitorClosed
	}
	_ = v.Socket.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return v.Socket.WriteJSON(f)
}

// ReadFrame reads the next frame from the widget.
func (v *visitor) ReadFrame() (Frame, error) {
	var f Frame
	err := v.Socket.ReadJSON(&f)
	return f, err
}

// Close closes the socket once.
func (v *visitor) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	return v.Socket.Close()
}
