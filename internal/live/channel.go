// Package live keeps one reconnecting push connection for the whole client
// session and multiplexes every open room over it.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quickmoney/lendchat/internal/models"
	"github.com/quickmoney/lendchat/internal/protocol"
	"github.com/quickmoney/lendchat/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
)

var (
	// ErrChannelUnavailable is returned once reconnect attempts are exhausted.
	ErrChannelUnavailable = models.ErrChannelUnavailable

	// ErrNotConnected means the transport is down right now; the publish was dropped.
	ErrNotConnected = errors.New("live channel not connected")

	ErrClosed = errors.New("live channel closed")
)

// DefaultJitter spreads reconnect delays by +/- 50%.
const DefaultJitter = 0.5

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Handler receives inbound messages. It runs on the read loop and must not block.
type Handler func(models.Message)

type Config struct {
	// URL of the push endpoint, e.g. ws://localhost:8080/ws.
	URL   string
	Token string

	// MaxAttempts bounds consecutive failed dials before the channel gives up.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter randomizes each delay by +/- this fraction. Zero means
	// DefaultJitter; a negative value disables it.
	Jitter float64

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	switch {
	case c.Jitter < 0:
		c.Jitter = 0
	case c.Jitter == 0 || c.Jitter > 1:
		c.Jitter = DefaultJitter
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type membership struct {
	refs int
	join protocol.JoinRoomPayload
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// Channel is the shared push connection. Create it once per client session
// with New, start it with Connect and hand it to every conversation.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	rooms     map[string]*membership
	handlers  map[string]handlerEntry
	listeners map[uint64]Handler
	nextID    uint64
	started   bool

	writeMu sync.Mutex

	connected   chan struct{}
	unavailable chan struct{}
	connOnce    sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
}

func New(cfg Config) *Channel {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		cfg:         cfg,
		logger:      cfg.Logger.With("component", "live"),
		rooms:       make(map[string]*membership),
		handlers:    make(map[string]handlerEntry),
		listeners:   make(map[uint64]Handler),
		connected:   make(chan struct{}),
		unavailable: make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Connect starts the connection loop and waits until the first connection
// succeeds, the attempts run out, or ctx is done. The loop keeps running
// after ctx ends; stop it with Close.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state == StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case !c.started:
		c.started = true
		c.state = StateConnecting
		go c.run()
	}
	c.mu.Unlock()

	select {
	case <-c.connected:
		return nil
	case <-c.unavailable:
		return ErrChannelUnavailable
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Unavailable is closed when the channel has given up reconnecting.
func (c *Channel) Unavailable() <-chan struct{} {
	return c.unavailable
}

// Err reports ErrChannelUnavailable after exhaustion and nil otherwise.
func (c *Channel) Err() error {
	select {
	case <-c.unavailable:
		return ErrChannelUnavailable
	default:
		return nil
	}
}

// JoinRoom takes a reference on the pair's room and returns its ID. The
// server is told only on the first reference; later joins are no-ops.
func (c *Channel) JoinRoom(senderID, receiverID string) string {
	roomID := room.ID(senderID, receiverID)

	c.mu.Lock()
	m, ok := c.rooms[roomID]
	if !ok {
		m = &membership{join: protocol.JoinRoomPayload{SenderID: senderID, ReceiverID: receiverID}}
		c.rooms[roomID] = m
	}
	m.refs++
	announce := m.refs == 1 && c.conn != nil
	c.mu.Unlock()

	if announce {
		if err := c.Send(protocol.TypeJoinRoom, m.join); err != nil {
			c.logger.Debug("join not sent, will retry on reconnect", "room_id", roomID, "error", err)
		}
	}
	return roomID
}

// LeaveRoom drops one reference. The server is told when the last one goes.
func (c *Channel) LeaveRoom(roomID string) {
	c.mu.Lock()
	m, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return
	}
	m.refs--
	last := m.refs <= 0
	if last {
		delete(c.rooms, roomID)
	}
	announce := last && c.conn != nil
	c.mu.Unlock()

	if announce {
		_ = c.Send(protocol.TypeLeaveRoom, protocol.LeaveRoomPayload{RoomID: roomID})
	}
}

// Joined reports the current reference count for roomID.
func (c *Channel) Joined(roomID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.rooms[roomID]; ok {
		return m.refs
	}
	return 0
}

// OnMessage installs the single handler for roomID, replacing any previous
// one. The returned cancel removes this registration only.
func (c *Channel) OnMessage(roomID string, fn Handler) (cancel func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if _, replaced := c.handlers[roomID]; replaced {
		c.logger.Debug("replacing room handler", "room_id", roomID)
	}
	c.handlers[roomID] = handlerEntry{id: id, fn: fn}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if e, ok := c.handlers[roomID]; ok && e.id == id {
			delete(c.handlers, roomID)
		}
	}
}

// OnAny registers a listener for every inbound message regardless of room.
func (c *Channel) OnAny(fn Handler) (cancel func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Send publishes an event without waiting for any acknowledgement. Nothing
// is queued while the transport is down.
func (c *Channel) Send(event string, payload interface{}) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil {
		switch state {
		case StateDisconnected:
			return ErrChannelUnavailable
		case StateClosed:
			return ErrClosed
		}
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s: %w", event, err)
	}
	return nil
}

// Close stops reconnecting and tears the connection down.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	started := c.started
	conn := c.conn
	c.state = StateClosed
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	if started {
		<-c.done
	} else {
		close(c.done)
	}
	return nil
}

func (c *Channel) run() {
	defer close(c.done)

	failures := 0
	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, err := c.dial()
		if err != nil {
			failures++
			if failures > c.cfg.MaxAttempts {
				c.giveUp(err)
				return
			}
			c.setState(StateReconnecting)
			delay := c.backoff(failures)
			c.logger.Warn("live channel dial failed",
				"attempt", failures,
				"max_attempts", c.cfg.MaxAttempts,
				"retry_in", delay,
				"error", err)
			if !c.sleep(delay) {
				return
			}
			continue
		}

		failures = 0
		c.attach(conn)
		err = c.readLoop(conn)
		c.detach(conn)

		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("live channel dropped, reconnecting", "error", err)
		c.setState(StateReconnecting)
	}
}

func (c *Channel) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := c.cfg.Dialer.DialContext(c.ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// attach publishes the new connection and re-announces every joined room.
func (c *Channel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	joins := make([]protocol.JoinRoomPayload, 0, len(c.rooms))
	for _, m := range c.rooms {
		joins = append(joins, m.join)
	}
	c.mu.Unlock()

	c.connOnce.Do(func() { close(c.connected) })
	c.logger.Info("live channel connected", "rooms", len(joins))

	for _, j := range joins {
		if err := c.Send(protocol.TypeJoinRoom, j); err != nil {
			c.logger.Warn("rejoin failed", "error", err)
		}
	}
}

func (c *Channel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Debug("dropping malformed frame", "error", err)
			continue
		}

		switch env.Type {
		case protocol.TypeReceiveMessage:
			var msg models.Message
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				c.logger.Debug("dropping malformed message", "error", err)
				continue
			}
			if msg.RoomID == "" {
				msg.RoomID = room.ID(msg.SenderID, msg.ReceiverID)
			}
			c.dispatch(msg)
		case protocol.TypeError:
			var p protocol.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			c.logger.Warn("server rejected event", "code", p.Code, "message", p.Message)
		}
	}
}

func (c *Channel) dispatch(msg models.Message) {
	c.mu.Lock()
	entry, ok := c.handlers[msg.RoomID]
	listeners := make([]Handler, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	if ok {
		entry.fn(msg)
	}
	for _, fn := range listeners {
		fn(msg)
	}
}

func (c *Channel) giveUp(err error) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	close(c.unavailable)
	c.logger.Error("live channel unavailable, continuing without live delivery",
		"attempts", c.cfg.MaxAttempts+1,
		"error", err)
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

// backoff doubles from BaseDelay up to MaxDelay and spreads by Jitter.
func (c *Channel) backoff(attempt int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 1; i < attempt && d < c.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > c.cfg.MaxDelay {
		d = c.cfg.MaxDelay
	}
	if c.cfg.Jitter > 0 {
		spread := float64(d) * c.cfg.Jitter
		d = time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
	return d
}

func (c *Channel) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}
