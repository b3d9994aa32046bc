package models

import (
	"fmt"
	"time"
)

type Message struct {
	ID         string    `json:"_id,omitempty"`
	ClientID   string    `json:"clientId,omitempty"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	RoomID     string    `json:"roomId"`
	Text       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Key identifies a message for de-duplication. Server IDs win, then the
// client's per-send ID, then the content tuple.
func (m Message) Key() string {
	switch {
	case m.ID != "":
		return "id:" + m.ID
	case m.ClientID != "":
		return "client:" + m.ClientID
	default:
		return "content:" + m.ContentKey()
	}
}

// ContentKey is the (sender, receiver, text, timestamp) tuple used when no
// identifier is available. Timestamps compare at millisecond precision, the
// resolution JavaScript clients put on the wire.
func (m Message) ContentKey() string {
	return fmt.Sprintf("%q|%q|%q|%d", m.SenderID, m.ReceiverID, m.Text, m.Timestamp.UnixMilli())
}

// SendRequest is the body of the message-creation endpoint.
type SendRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"message"`
	RoomID     string `json:"roomId"`
	ClientID   string `json:"clientId,omitempty"`
}
