package models

type ConversationSummary struct {
	RoomID        string       `json:"roomId"`
	OtherUser     *Counterpart `json:"otherUser,omitempty"`
	LatestMessage *Message     `json:"latestMessage,omitempty"`
}

// Preview returns the latest message text cut to max runes.
func (c ConversationSummary) Preview(max int) string {
	if c.LatestMessage == nil || c.LatestMessage.Text == "" {
		return "No messages yet"
	}
	r := []rune(c.LatestMessage.Text)
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}

// Envelope is the {success, data, error} wrapper every REST endpoint uses.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
