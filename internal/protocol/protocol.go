// Package protocol defines the push-channel envelope shared by the server
// hub and the client live channel.
package protocol

import (
	"encoding/json"

	"github.com/quickmoney/lendchat/internal/models"
)

const (
	TypeJoinRoom    = "joinRoom"
	TypeLeaveRoom   = "leaveRoom"
	TypeSendMessage = "sendMessage"
	TypePing        = "ping"

	TypeReceiveMessage = "receiveMessage"
	TypeError          = "error"
	TypePong           = "pong"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinRoomPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// MessagePayload is carried by both sendMessage and receiveMessage.
type MessagePayload = models.Message

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func Encode(msgType string, payload interface{}) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: p})
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
