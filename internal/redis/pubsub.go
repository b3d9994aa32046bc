package redisc

import (
	"context"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "lendchat:room:"

// Fanout relays room events between server instances. Every instance
// publishes what its own connections send and delivers what it receives,
// including its own publications.
type Fanout struct {
	client *redis.Client
}

func NewFanout(client *redis.Client) *Fanout {
	return &Fanout{client: client}
}

func (f *Fanout) Publish(ctx context.Context, roomID string, data []byte) error {
	return f.client.Publish(ctx, roomChannelPrefix+roomID, data).Err()
}

// Subscribe calls handler for every room event until ctx is done.
func (f *Fanout) Subscribe(ctx context.Context, handler func(roomID string, data []byte)) error {
	pubsub := f.client.PSubscribe(ctx, roomChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			roomID := strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			slog.Debug("pubsub message", "room_id", roomID)
			handler(roomID, []byte(msg.Payload))
		}
	}
}
