package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quickmoney/lendchat/internal/dedupe"
	"github.com/quickmoney/lendchat/internal/metrics"
	"github.com/quickmoney/lendchat/internal/models"
	"github.com/quickmoney/lendchat/internal/protocol"
	"github.com/quickmoney/lendchat/internal/room"
)

// Fanout carries room events between server instances.
type Fanout interface {
	Publish(ctx context.Context, roomID string, data []byte) error
	Subscribe(ctx context.Context, handler func(roomID string, data []byte)) error
}

// Presence tracks which users hold a push connection.
type Presence interface {
	Connected(ctx context.Context, userID string) error
	Disconnected(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string) error
}

type Options struct {
	Fanout   Fanout   // nil delivers locally only
	Presence Presence // optional
	Logger   *slog.Logger
	RelayTTL time.Duration
}

type roomEvent struct {
	RoomID string
	Data   []byte
}

// Hub owns the set of push connections and routes room events to them.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan roomEvent

	fanout   Fanout
	presence Presence
	relayed  *dedupe.Cache
	logger   *slog.Logger

	done chan struct{}
}

func NewHub(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RelayTTL <= 0 {
		opts.RelayTTL = 5 * time.Minute
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan roomEvent, 256),
		fanout:     opts.Fanout,
		presence:   opts.Presence,
		relayed:    dedupe.New(opts.RelayTTL, 50000),
		logger:     opts.Logger.With("component", "hub"),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and deliveries until ctx is done, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.relayed.Close()

	if h.fanout != nil {
		go func() {
			if err := h.fanout.Subscribe(ctx, h.deliver); err != nil {
				h.logger.Error("fan-out subscription ended", "error", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			metrics.WSConnections.Inc()
			h.logger.Info("client connected", "user_id", client.UserID)
			if h.presence != nil {
				if err := h.presence.Connected(ctx, client.UserID); err != nil {
					h.logger.Warn("presence update failed", "error", err)
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				client.closeSend()
			}
			h.mu.Unlock()
			if !ok {
				continue
			}
			metrics.WSConnections.Dec()
			h.logger.Info("client disconnected", "user_id", client.UserID)
			if h.presence != nil {
				if err := h.presence.Disconnected(ctx, client.UserID); err != nil {
					h.logger.Warn("presence update failed", "error", err)
				}
			}

		case ev := <-h.broadcast:
			h.route(ev)
		}
	}
}

// route hands ev to every connection that joined the room or belongs to
// one of its participants. Connections that cannot keep up are dropped.
func (h *Hub) route(ev roomEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.inRoom(ev.RoomID) && !room.Has(ev.RoomID, client.UserID) {
			continue
		}
		select {
		case client.send <- ev.Data:
		default:
			// the read pump unregisters it once the conn is gone
			h.logger.Warn("dropping slow client", "user_id", client.UserID)
			client.conn.Close()
		}
	}
}

// Relay broadcasts msg as receiveMessage to the room. A message already
// relayed within the TTL is dropped.
func (h *Hub) Relay(ctx context.Context, msg models.Message) error {
	if h.relayed.CheckAndMark(msg.Key()) {
		metrics.RelayDuplicates.Inc()
		h.logger.Debug("duplicate relay dropped", "key", msg.Key())
		return nil
	}

	data, err := protocol.Encode(protocol.TypeReceiveMessage, msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	metrics.MessagesRelayed.Inc()

	if h.fanout != nil {
		return h.fanout.Publish(ctx, msg.RoomID, data)
	}
	h.deliver(msg.RoomID, data)
	return nil
}

func (h *Hub) deliver(roomID string, data []byte) {
	select {
	case h.broadcast <- roomEvent{RoomID: roomID, Data: data}:
	case <-h.done:
	}
}

// Online lists users with at least one connection to this instance.
func (h *Hub) Online() []string {
	h.mu.RLock()
	seen := make(map[string]struct{})
	for client := range h.clients {
		seen[client.UserID] = struct{}{}
	}
	h.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
		metrics.WSConnections.Dec()
	}
}
