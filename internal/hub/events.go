// Package hub is the real-time side of a debate: WebSocket connections,
// group fan-out and frame routing. It owns no business data.
package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	TypeChat   = "chat"
	TypeSignal = "signal"
	TypeError  = "error"

	SystemSender = "System"
)

// Application close codes sent during authorization.
const (
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
)

// Event is what travels through a Broadcaster. Origin is the connection id
// that produced a signal and is never sent to clients.
type Event struct {
	Type       string          `json:"type"`
	Message    string          `json:"message,omitempty"`
	SignalType string          `json:"signal_type,omitempty"`
	Signal     json.RawMessage `json:"signal,omitempty"`
	Sender     string          `json:"sender"`
	SenderID   string          `json:"sender_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Origin     string          `json:"origin,omitempty"`

	once  sync.Once
	frame []byte
	err   error
}

type chatFrame struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

type signalFrame struct {
	Type       string          `json:"type"`
	SignalType string          `json:"signal_type"`
	Signal     json.RawMessage `json:"signal"`
	Sender     string          `json:"sender"`
	SenderID   string          `json:"sender_id"`
	Timestamp  time.Time       `json:"timestamp"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Frame is the client-facing encoding, computed once per event.
func (e *Event) Frame() ([]byte, error) {
	e.once.Do(func() {
		switch e.Type {
		case TypeChat:
			e.frame, e.err = json.Marshal(chatFrame{
				Type: TypeChat, Message: e.Message, Sender: e.Sender, SenderID: e.SenderID, Timestamp: e.Timestamp,
			})
		case TypeSignal:
			e.frame, e.err = json.Marshal(signalFrame{
				Type: TypeSignal, SignalType: e.SignalType, Signal: e.Signal,
				Sender: e.Sender, SenderID: e.SenderID, Timestamp: e.Timestamp,
			})
		default:
			e.err = fmt.Errorf("hub: cannot encode event type %q", e.Type)
		}
	})
	return e.frame, e.err
}

func systemEvent(text string) *Event {
	return &Event{Type: TypeChat, Message: text, Sender: SystemSender, Timestamp: time.Now().UTC()}
}

// GroupName is the broadcast group for a debate.
func GroupName(roomID int64) string {
	return fmt.Sprintf("debate_%d", roomID)
}
