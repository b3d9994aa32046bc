package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickmoney/lendchat/internal/auth"
	"github.com/quickmoney/lendchat/internal/chat"
	"github.com/quickmoney/lendchat/internal/client"
	"github.com/quickmoney/lendchat/internal/conversation"
	"github.com/quickmoney/lendchat/internal/database"
	"github.com/quickmoney/lendchat/internal/inbox"
	"github.com/quickmoney/lendchat/internal/live"
	"github.com/quickmoney/lendchat/internal/middleware"
	"github.com/quickmoney/lendchat/internal/models"
	"github.com/quickmoney/lendchat/internal/notify"
)

type stack struct {
	srv   *httptest.Server
	hub   *chat.Hub
	store *database.MemoryStore
}

func newStack(t *testing.T, d Deps) *stack {
	t.Helper()
	store := database.NewMemoryStore()
	hub := chat.NewHub(chat.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	d.Store = store
	d.Hub = hub
	d.Tokens = auth.NewTokenManager("integration-secret", time.Hour)
	srv := httptest.NewServer(NewRouter(d))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
	})
	return &stack{srv: srv, hub: hub, store: store}
}

type account struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	UserID  string `json:"userId"`
}

func (s *stack) signup(t *testing.T, name string) account {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"name":     name,
		"email":    strings.ToLower(name) + "@example.com",
		"password": "hunter22",
	})
	require.NoError(t, err)
	resp, err := http.Post(s.srv.URL+"/api/auth/signup", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var acct account
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&acct))
	require.True(t, acct.Success)
	return acct
}

// participant is one signed-in client: REST API, live channel and inbox.
type participant struct {
	acct    account
	channel *live.Channel
	inbox   *inbox.Aggregator
	alerts  *notify.Recorder
}

func (s *stack) join(t *testing.T, name string) *participant {
	t.Helper()
	acct := s.signup(t, name)
	api := client.New(s.srv.URL, acct.Token)

	before := s.hub.Connections()
	ch := live.New(live.Config{
		URL:       "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws",
		Token:     acct.Token,
		BaseDelay: 10 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ch.Connect(ctx))
	t.Cleanup(func() { ch.Close() })
	require.Eventually(t, func() bool { return s.hub.Connections() > before }, time.Second, 5*time.Millisecond)

	alerts := &notify.Recorder{}
	agg, err := inbox.New(inbox.Config{
		UserID: acct.UserID,
		Lister: api,
		Events: ch,
		Sessions: conversation.Deps{
			History: api,
			Creator: api,
			Channel: ch,
		},
		Notifier: alerts,
	})
	require.NoError(t, err)

	startCtx, stop := context.WithCancel(context.Background())
	t.Cleanup(stop)
	require.NoError(t, agg.Start(startCtx))

	return &participant{acct: acct, channel: ch, inbox: agg, alerts: alerts}
}

func (p *participant) open(t *testing.T, peer *participant) *conversation.Session {
	t.Helper()
	s, err := p.inbox.Open(models.ConversationSummary{OtherUser: &models.Counterpart{ID: peer.acct.UserID}})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitReady(ctx))
	return s
}

func texts(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestEndToEnd_TwoUsersExchangeMessages(t *testing.T) {
	s := newStack(t, Deps{})
	asha := s.join(t, "Asha")
	bilal := s.join(t, "Bilal")

	sa := asha.open(t, bilal)
	sb := bilal.open(t, asha)
	assert.Equal(t, sa.RoomID(), sb.RoomID())
	assert.Empty(t, sa.Messages())

	sent, err := sa.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)

	require.Eventually(t, func() bool {
		return len(sb.Messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	got := sb.Messages()[0]
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, asha.acct.UserID, got.SenderID)

	// the sender's own echo must not duplicate its local copy
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"hello"}, texts(sa.Messages()))

	reply, err := sb.Send(context.Background(), "hi back")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(sa.Messages()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"hello", "hi back"}, texts(sa.Messages()))
	assert.Equal(t, reply.ID, sa.Messages()[1].ID)

	// the recipient's inbox follows the live event
	require.Eventually(t, func() bool {
		convs := bilal.inbox.Conversations()
		return len(convs) == 1 && convs[0].LatestMessage != nil && convs[0].LatestMessage.Text == "hi back"
	}, 2*time.Second, 10*time.Millisecond)
	conv := bilal.inbox.Conversations()[0]
	require.NotNil(t, conv.OtherUser)
	assert.Equal(t, "Asha", conv.OtherUser.Name)

	// a reopened session starts from the persisted history
	sa.Close()
	again := asha.open(t, bilal)
	assert.Equal(t, []string{"hello", "hi back"}, texts(again.Messages()))
	assert.Empty(t, asha.alerts.Alerts())
}

func TestEndToEnd_HistoryIsPrivate(t *testing.T) {
	s := newStack(t, Deps{})
	asha := s.signup(t, "Asha")
	bilal := s.signup(t, "Bilal")
	eve := s.signup(t, "Eve")

	_, err := client.New(s.srv.URL, asha.Token).CreateMessage(context.Background(), models.SendRequest{
		SenderID: asha.UserID, ReceiverID: bilal.UserID, Text: "private",
	})
	require.NoError(t, err)

	_, err = client.New(s.srv.URL, eve.Token).FetchHistory(context.Background(), asha.UserID, bilal.UserID)
	var re *models.RetrievalError
	require.ErrorAs(t, err, &re)
	var status *client.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusForbidden, status.Code)

	_, err = client.New(s.srv.URL, "").ListConversations(context.Background(), asha.UserID)
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusUnauthorized, status.Code)
}

func TestEndToEnd_SendIsRateLimited(t *testing.T) {
	limiter := middleware.NewLimiterStore(60, 1, time.Minute)
	t.Cleanup(limiter.Stop)
	s := newStack(t, Deps{SendLimiter: limiter})
	asha := s.signup(t, "Asha")
	bilal := s.signup(t, "Bilal")

	api := client.New(s.srv.URL, asha.Token)
	req := models.SendRequest{SenderID: asha.UserID, ReceiverID: bilal.UserID, Text: "one"}
	_, err := api.CreateMessage(context.Background(), req)
	require.NoError(t, err)

	req.Text = "two"
	_, err = api.CreateMessage(context.Background(), req)
	var se *models.SendError
	require.ErrorAs(t, err, &se)
	var status *client.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusTooManyRequests, status.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newStack(t, Deps{CORSOrigin: "https://app.example.com"})

	req, err := http.NewRequest(http.MethodOptions, s.srv.URL+"/api/chat/send", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Authtoken, Content-Type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newStack(t, Deps{})

	resp, err := http.Get(s.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
