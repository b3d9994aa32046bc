package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Key(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "id:m1", Message{ID: "m1", ClientID: "c1"}.Key())
	assert.Equal(t, "client:c1", Message{ClientID: "c1"}.Key())

	bare := Message{SenderID: "u1", ReceiverID: "u2", Text: "hi", Timestamp: at}
	assert.Equal(t, "content:"+bare.ContentKey(), bare.Key())
}

func TestMessage_ContentKeyMillisecondPrecision(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Message{SenderID: "u1", ReceiverID: "u2", Text: "hi", Timestamp: at}
	b := a
	b.Timestamp = at.Add(300 * time.Microsecond)
	assert.Equal(t, a.ContentKey(), b.ContentKey())

	b.Timestamp = at.Add(time.Millisecond)
	assert.NotEqual(t, a.ContentKey(), b.ContentKey())
}

func TestMessage_ContentKeyFieldsDoNotBleed(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b Message
	}{
		{
			"separator in ids",
			Message{SenderID: "a|b", ReceiverID: "c", Text: "x", Timestamp: at},
			Message{SenderID: "a", ReceiverID: "b|c", Text: "x", Timestamp: at},
		},
		{
			"separator in text",
			Message{SenderID: "a", ReceiverID: "b", Text: "x|y", Timestamp: at},
			Message{SenderID: "a", ReceiverID: "b|x", Text: "y", Timestamp: at},
		},
		{
			"quotes in text",
			Message{SenderID: "a", ReceiverID: "b", Text: `"|"`, Timestamp: at},
			Message{SenderID: "a", ReceiverID: `b"|"`, Text: "", Timestamp: at},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, tt.a.ContentKey(), tt.b.ContentKey())
		})
	}
}
