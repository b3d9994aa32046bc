package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickmoney/lendchat/internal/models"
	"github.com/quickmoney/lendchat/internal/protocol"
)

// pushServer is a minimal push endpoint that records inbound envelopes and
// lets the test push frames to the most recent connection.
type pushServer struct {
	t        *testing.T
	srv      *httptest.Server
	received chan protocol.Envelope
	conns    chan *websocket.Conn
	tokens   chan string

	mu   sync.Mutex
	last *websocket.Conn
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{
		t:        t,
		received: make(chan protocol.Envelope, 64),
		conns:    make(chan *websocket.Conn, 8),
		tokens:   make(chan string, 8),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.tokens <- r.URL.Query().Get("token")
		ps.mu.Lock()
		ps.last = conn
		ps.mu.Unlock()
		ps.conns <- conn
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				env, err := protocol.Decode(data)
				if err == nil {
					ps.received <- env
				}
			}
		}()
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) push(msg models.Message) {
	ps.t.Helper()
	data, err := protocol.Encode(protocol.TypeReceiveMessage, msg)
	require.NoError(ps.t, err)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	require.NoError(ps.t, ps.last.WriteMessage(websocket.TextMessage, data))
}

func (ps *pushServer) expect(eventType string) protocol.Envelope {
	ps.t.Helper()
	select {
	case env := <-ps.received:
		require.Equal(ps.t, eventType, env.Type)
		return env
	case <-time.After(2 * time.Second):
		ps.t.Fatalf("timed out waiting for %s", eventType)
	}
	return protocol.Envelope{}
}

func (ps *pushServer) expectNothing() {
	ps.t.Helper()
	select {
	case env := <-ps.received:
		ps.t.Fatalf("unexpected %s event", env.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func connect(t *testing.T, ps *pushServer, token string) *Channel {
	t.Helper()
	ch := New(Config{URL: ps.url(), Token: token, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond})
	t.Cleanup(func() { ch.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ch.Connect(ctx))
	assert.Equal(t, StateConnected, ch.State())
	return ch
}

func TestChannel_ConnectSendsToken(t *testing.T) {
	ps := newPushServer(t)
	connect(t, ps, "jwt-abc")

	assert.Equal(t, "jwt-abc", <-ps.tokens)
}

func TestChannel_JoinRoomIsReferenceCounted(t *testing.T) {
	ps := newPushServer(t)
	ch := connect(t, ps, "")

	roomID := ch.JoinRoom("u2", "u1")
	assert.Equal(t, "u1_u2", roomID)

	env := ps.expect(protocol.TypeJoinRoom)
	var join protocol.JoinRoomPayload
	require.NoError(t, json.Unmarshal(env.Payload, &join))
	assert.Equal(t, "u2", join.SenderID)
	assert.Equal(t, "u1", join.ReceiverID)

	// second reference is idempotent
	assert.Equal(t, roomID, ch.JoinRoom("u1", "u2"))
	assert.Equal(t, 2, ch.Joined(roomID))
	ps.expectNothing()

	ch.LeaveRoom(roomID)
	ps.expectNothing()

	ch.LeaveRoom(roomID)
	env = ps.expect(protocol.TypeLeaveRoom)
	var leave protocol.LeaveRoomPayload
	require.NoError(t, json.Unmarshal(env.Payload, &leave))
	assert.Equal(t, roomID, leave.RoomID)
	assert.Equal(t, 0, ch.Joined(roomID))

	// leaving an unknown room does nothing
	ch.LeaveRoom("nope")
	ps.expectNothing()
}

func TestChannel_OnMessageKeepsOneHandlerPerRoom(t *testing.T) {
	ps := newPushServer(t)
	ch := connect(t, ps, "")

	first := make(chan models.Message, 4)
	second := make(chan models.Message, 4)

	cancelFirst := ch.OnMessage("u1_u2", func(m models.Message) { first <- m })
	ch.OnMessage("u1_u2", func(m models.Message) { second <- m })

	// the stale registration cannot remove the new one
	cancelFirst()

	ps.push(models.Message{ID: "m1", SenderID: "u2", ReceiverID: "u1", RoomID: "u1_u2", Text: "hi"})

	select {
	case m := <-second:
		assert.Equal(t, "m1", m.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("current handler not called")
	}
	assert.Empty(t, first)
}

func TestChannel_OnAnySeesEveryRoom(t *testing.T) {
	ps := newPushServer(t)
	ch := connect(t, ps, "")

	all := make(chan models.Message, 4)
	cancel := ch.OnAny(func(m models.Message) { all <- m })

	// room is derived when the payload omits it
	ps.push(models.Message{ID: "a", SenderID: "u3", ReceiverID: "u1", Text: "x"})

	select {
	case m := <-all:
		assert.Equal(t, "u1_u3", m.RoomID)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}

	cancel()
	ps.push(models.Message{ID: "b", SenderID: "u3", ReceiverID: "u1", Text: "y"})
	select {
	case <-all:
		t.Fatal("cancelled listener called")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannel_SendPublishes(t *testing.T) {
	ps := newPushServer(t)
	ch := connect(t, ps, "")

	msg := models.Message{ID: "m9", SenderID: "u1", ReceiverID: "u2", RoomID: "u1_u2", Text: "loan terms?"}
	require.NoError(t, ch.Send(protocol.TypeSendMessage, msg))

	env := ps.expect(protocol.TypeSendMessage)
	var got models.Message
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, msg.Text, got.Text)
}

func TestChannel_RejoinsAfterReconnect(t *testing.T) {
	ps := newPushServer(t)
	ch := connect(t, ps, "")
	first := <-ps.conns

	ch.JoinRoom("u1", "u2")
	ps.expect(protocol.TypeJoinRoom)

	first.Close()

	select {
	case <-ps.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect")
	}
	env := ps.expect(protocol.TypeJoinRoom)
	var join protocol.JoinRoomPayload
	require.NoError(t, json.Unmarshal(env.Payload, &join))
	assert.Equal(t, "u1", join.SenderID)

	assert.Eventually(t, func() bool { return ch.State() == StateConnected }, time.Second, 10*time.Millisecond)
}

func TestChannel_ExhaustedAttemptsLeaveChannelDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	ch := New(Config{URL: wsURL, MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := ch.Connect(ctx)
	assert.ErrorIs(t, err, ErrChannelUnavailable)
	assert.ErrorIs(t, err, models.ErrChannelUnavailable)
	assert.Equal(t, StateDisconnected, ch.State())
	assert.ErrorIs(t, ch.Err(), ErrChannelUnavailable)

	select {
	case <-ch.Unavailable():
	default:
		t.Fatal("unavailable not signalled")
	}

	// publishes are dropped, joins are still tracked locally
	assert.ErrorIs(t, ch.Send(protocol.TypeSendMessage, models.Message{}), ErrChannelUnavailable)
	assert.Equal(t, "a_b", ch.JoinRoom("a", "b"))
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	ps := newPushServer(t)
	ch := connect(t, ps, "")

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.Equal(t, StateClosed, ch.State())
	assert.ErrorIs(t, ch.Send(protocol.TypePing, nil), ErrClosed)
	assert.ErrorIs(t, ch.Connect(context.Background()), ErrClosed)
}

func TestConfig_JitterDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"unset", 0, DefaultJitter},
		{"explicit", 0.2, 0.2},
		{"disabled", -1, 0},
		{"out of range", 3, DefaultJitter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := New(Config{Jitter: tt.in})
			defer ch.Close()
			assert.Equal(t, tt.want, ch.cfg.Jitter)
		})
	}
}

func TestChannel_Backoff(t *testing.T) {
	ch := New(Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Jitter: -1})
	require.Zero(t, ch.cfg.Jitter)

	assert.Equal(t, 100*time.Millisecond, ch.backoff(1))
	assert.Equal(t, 200*time.Millisecond, ch.backoff(2))
	assert.Equal(t, 300*time.Millisecond, ch.backoff(3))
	assert.Equal(t, 300*time.Millisecond, ch.backoff(10))

	ch.cfg.Jitter = 0.5
	for i := 0; i < 50; i++ {
		d := ch.backoff(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
