package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/quickmoney/lendchat/internal/metrics"
	"github.com/quickmoney/lendchat/internal/models"
	"github.com/quickmoney/lendchat/internal/protocol"
	"github.com/quickmoney/lendchat/internal/room"
)

// Error codes carried in error events.
const (
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeNotParticipant = "NOT_PARTICIPANT"
	CodeNotSender      = "NOT_SENDER"
	CodeUnknownType    = "UNKNOWN_TYPE"
	CodeInternal       = "INTERNAL_ERROR"
)

func (c *Client) handleEvent(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJoinRoom:
		var payload protocol.JoinRoomPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.sendError("invalid joinRoom payload", CodeInvalidPayload)
			return
		}
		c.handleJoin(payload)
	case protocol.TypeLeaveRoom:
		var payload protocol.LeaveRoomPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.sendError("invalid leaveRoom payload", CodeInvalidPayload)
			return
		}
		c.handleLeave(payload)
	case protocol.TypeSendMessage:
		var payload protocol.MessagePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.sendError("invalid sendMessage payload", CodeInvalidPayload)
			return
		}
		c.handleSend(payload)
	case protocol.TypePing:
		if data, err := protocol.Encode(protocol.TypePong, nil); err == nil {
			c.queue(data)
		}
	default:
		c.sendError("unknown event type "+env.Type, CodeUnknownType)
	}
}

func (c *Client) handleJoin(p protocol.JoinRoomPayload) {
	if p.SenderID == "" || p.ReceiverID == "" {
		c.sendError("senderId and receiverId are required", CodeInvalidPayload)
		return
	}
	if c.UserID != p.SenderID && c.UserID != p.ReceiverID {
		c.sendError("not a participant of this room", CodeNotParticipant)
		return
	}
	roomID := room.ID(p.SenderID, p.ReceiverID)

	c.mu.Lock()
	c.rooms[roomID] = true
	c.mu.Unlock()
	c.logger.Debug("joined room", "room_id", roomID)
}

func (c *Client) handleLeave(p protocol.LeaveRoomPayload) {
	c.mu.Lock()
	delete(c.rooms, p.RoomID)
	c.mu.Unlock()
	c.logger.Debug("left room", "room_id", p.RoomID)
}

// handleSend relays a message the sender already persisted over REST. The
// connection may only speak for its own user.
func (c *Client) handleSend(msg models.Message) {
	if msg.SenderID != c.UserID {
		c.sendError("senderId does not match the connection", CodeNotSender)
		return
	}
	if msg.ReceiverID == "" || strings.TrimSpace(msg.Text) == "" {
		c.sendError("receiverId and message are required", CodeInvalidPayload)
		return
	}
	roomID := room.ID(msg.SenderID, msg.ReceiverID)
	if msg.RoomID != "" && msg.RoomID != roomID {
		c.sendError("roomId does not match the participants", CodeInvalidPayload)
		return
	}
	msg.RoomID = roomID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.hub.Relay(ctx, msg); err != nil {
		c.logger.Error("relay failed", "error", err, "room_id", roomID)
		c.sendError("failed to relay message", CodeInternal)
	}
}

func (c *Client) sendError(message, code string) {
	metrics.WSEventsRejected.WithLabelValues(code).Inc()
	data, err := protocol.Encode(protocol.TypeError, protocol.ErrorPayload{
		Message: message,
		Code:    code,
	})
	if err != nil {
		return
	}
	c.queue(data)
}
