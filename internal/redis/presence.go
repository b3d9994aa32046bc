package redisc

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceTTL    = 120 * time.Second
	onlineUsersKey = "lendchat:online_users"
)

// Presence counts push channel connections per user across instances. A
// user stays online while any connection remains.
type Presence struct {
	client *redis.Client
}

func NewPresence(client *redis.Client) *Presence {
	return &Presence{client: client}
}

func connKey(userID string) string { return "lendchat:presence:" + userID }

func (p *Presence) Connected(ctx context.Context, userID string) error {
	pipe := p.client.TxPipeline()
	pipe.Incr(ctx, connKey(userID))
	pipe.Expire(ctx, connKey(userID), presenceTTL)
	pipe.SAdd(ctx, onlineUsersKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Presence) Disconnected(ctx context.Context, userID string) error {
	n, err := p.client.Decr(ctx, connKey(userID)).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, connKey(userID))
	pipe.SRem(ctx, onlineUsersKey, userID)
	_, err = pipe.Exec(ctx)
	return err
}

// Refresh extends the presence TTL; the hub calls it on every pong.
func (p *Presence) Refresh(ctx context.Context, userID string) error {
	return p.client.Expire(ctx, connKey(userID), presenceTTL).Err()
}

func (p *Presence) Online(ctx context.Context) ([]string, error) {
	return p.client.SMembers(ctx, onlineUsersKey).Result()
}
