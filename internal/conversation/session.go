// Package conversation merges persisted history, live channel events and
// local sends into one ordered, duplicate-free view per open chat.
//
// Each Session runs a single goroutine that owns the message slice. The
// history fetch, the channel read loop and Send only post events to it, so
// the merge and de-duplication rules never run concurrently.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quickmoney/lendchat/internal/live"
	"github.com/quickmoney/lendchat/internal/models"
	"github.com/quickmoney/lendchat/internal/notify"
	"github.com/quickmoney/lendchat/internal/protocol"
	"github.com/quickmoney/lendchat/internal/room"
)

const mailboxSize = 256

var (
	// ErrNotReady is returned by Send while the history baseline is loading.
	ErrNotReady = errors.New("conversation is still loading")
	ErrClosed   = errors.New("conversation closed")
)

type State int

const (
	StateLoading State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// HistoryFetcher loads the persisted messages of a pair.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, a, b string) ([]models.Message, error)
}

// MessageCreator persists an outgoing message.
type MessageCreator interface {
	CreateMessage(ctx context.Context, req models.SendRequest) (models.Message, error)
}

// Channel is the part of the shared live channel a session uses.
type Channel interface {
	JoinRoom(senderID, receiverID string) string
	LeaveRoom(roomID string)
	OnMessage(roomID string, fn live.Handler) (cancel func())
	Send(event string, payload interface{}) error
	Unavailable() <-chan struct{}
}

// Deps are the collaborators shared by every session of a client.
type Deps struct {
	History  HistoryFetcher
	Creator  MessageCreator
	Channel  Channel // nil means history-only
	Notifier notify.Notifier
	Logger   *slog.Logger

	Now         func() time.Time
	NewClientID func() string
}

type historyEvent struct {
	messages []models.Message
	err      error
}

type liveEvent struct {
	msg models.Message
}

type localEvent struct {
	msg     models.Message
	applied chan struct{}
}

// Session is one open two-party chat.
type Session struct {
	id     string
	self   string
	peer   string
	roomID string
	deps   Deps
	logger *slog.Logger

	mailbox chan interface{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	ready   chan struct{}
	updates chan struct{}

	unsubscribe func()
	closeOnce   sync.Once

	// owned by the run goroutine
	messages []models.Message
	seen     identitySet
	pending  []models.Message
	loading  bool

	mu          sync.RWMutex
	state       State
	snapshot    []models.Message
	historyOnly bool
}

// Open starts a session for self talking to peer. The history fetch and the
// room join are issued together; Send is refused until history resolves.
func Open(deps Deps, self, peer string) (*Session, error) {
	if self == "" || peer == "" {
		return nil, fmt.Errorf("open conversation: both participants are required")
	}
	if deps.History == nil || deps.Creator == nil {
		return nil, fmt.Errorf("open conversation: history and creator are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{Logger: deps.Logger}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewClientID == nil {
		deps.NewClientID = func() string { return uuid.New().String() }
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      uuid.New().String(),
		self:    self,
		peer:    peer,
		roomID:  room.ID(self, peer),
		deps:    deps,
		mailbox: make(chan interface{}, mailboxSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		ready:   make(chan struct{}),
		updates: make(chan struct{}, 1),
		seen:    newIdentitySet(),
		loading: true,
	}
	s.logger = deps.Logger.With("component", "conversation", "room_id", s.roomID, "session_id", s.id)

	var unavailable <-chan struct{}
	if deps.Channel != nil {
		deps.Channel.JoinRoom(self, peer)
		s.unsubscribe = deps.Channel.OnMessage(s.roomID, s.deliver)
		unavailable = deps.Channel.Unavailable()
	} else {
		s.historyOnly = true
	}

	go s.run(unavailable)
	go s.loadHistory()

	return s, nil
}

func (s *Session) ID() string     { return s.id }
func (s *Session) RoomID() string { return s.roomID }
func (s *Session) Self() string   { return s.self }
func (s *Session) Peer() string   { return s.peer }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// HistoryOnly reports whether live delivery is off for this session.
func (s *Session) HistoryOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historyOnly
}

// Messages returns a copy of the merged view.
func (s *Session) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.snapshot...)
}

// Updates receives a signal whenever the view or state changes. Signals
// coalesce; read Messages after each one.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// WaitReady blocks until the history baseline is in place.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send runs the persist-then-broadcast protocol. Blank text fails with
// models.ErrValidation before any network call; a failed persistence
// returns *models.SendError and leaves the view untouched.
func (s *Session) Send(ctx context.Context, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		s.deps.Notifier.Notify(notify.LevelWarning, "Please enter a message.")
		return models.Message{}, models.ErrValidation
	}
	switch s.State() {
	case StateLoading:
		return models.Message{}, ErrNotReady
	case StateClosed:
		return models.Message{}, ErrClosed
	}

	req := models.SendRequest{
		SenderID:   s.self,
		ReceiverID: s.peer,
		Text:       text,
		RoomID:     s.roomID,
		ClientID:   s.deps.NewClientID(),
	}
	persisted, err := s.deps.Creator.CreateMessage(ctx, req)
	if err != nil {
		var se *models.SendError
		if !errors.As(err, &se) {
			err = &models.SendError{Err: err}
		}
		s.logger.Warn("send failed", "error", err)
		s.deps.Notifier.Notify(notify.LevelError, "Failed to send message.")
		return models.Message{}, err
	}

	msg := models.Message{
		ID:         persisted.ID,
		ClientID:   req.ClientID,
		SenderID:   s.self,
		ReceiverID: s.peer,
		RoomID:     s.roomID,
		Text:       text,
		Timestamp:  s.deps.Now(),
	}

	// Append before broadcasting so the local copy always precedes its echo.
	applied := make(chan struct{})
	select {
	case s.mailbox <- localEvent{msg: msg, applied: applied}:
	case <-s.done:
		return msg, nil
	}
	select {
	case <-applied:
	case <-s.done:
		return msg, nil
	}

	if s.deps.Channel != nil {
		if err := s.deps.Channel.Send(protocol.TypeSendMessage, msg); err != nil {
			s.logger.Debug("broadcast dropped", "error", err)
		}
	}
	return msg, nil
}

// Close deregisters the room handler and releases this session's room
// reference. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.cancel()
		<-s.done
		if s.deps.Channel != nil {
			s.deps.Channel.LeaveRoom(s.roomID)
		}
	})
}

// deliver is the channel handler. It runs on the read loop and only enqueues.
func (s *Session) deliver(msg models.Message) {
	select {
	case s.mailbox <- liveEvent{msg: msg}:
	case <-s.done:
	}
}

func (s *Session) loadHistory() {
	msgs, err := s.deps.History.FetchHistory(s.ctx, s.self, s.peer)
	select {
	case s.mailbox <- historyEvent{messages: msgs, err: err}:
	case <-s.done:
		s.logger.Debug("discarding history for closed session")
	}
}

func (s *Session) run(unavailable <-chan struct{}) {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()
			s.signal()
			return
		case <-unavailable:
			unavailable = nil
			s.mu.Lock()
			s.historyOnly = true
			s.mu.Unlock()
			s.deps.Notifier.Notify(notify.LevelWarning, "Live updates unavailable. Showing saved messages only.")
			s.signal()
		case ev := <-s.mailbox:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev interface{}) {
	if s.ctx.Err() != nil {
		return
	}
	switch ev := ev.(type) {
	case historyEvent:
		if !s.loading {
			return
		}
		if ev.err != nil {
			s.logger.Warn("history unavailable", "error", ev.err)
			s.deps.Notifier.Notify(notify.LevelError, "Failed to load chat history.")
		}
		for _, m := range ev.messages {
			s.appendUnique(m)
		}
		for _, m := range s.pending {
			s.appendUnique(m)
		}
		s.pending = nil
		s.loading = false

		s.mu.Lock()
		s.state = StateReady
		s.mu.Unlock()
		close(s.ready)
		s.publish()

	case liveEvent:
		if s.loading {
			s.pending = append(s.pending, ev.msg)
			return
		}
		if s.appendUnique(ev.msg) {
			s.publish()
		}

	case localEvent:
		if s.appendUnique(ev.msg) {
			s.publish()
		}
		close(ev.applied)
	}
}

// appendUnique adds m unless an equivalent message is already in the view.
func (s *Session) appendUnique(m models.Message) bool {
	if s.seen.has(m) {
		s.logger.Debug("duplicate absorbed", "key", m.Key())
		return false
	}
	s.seen.add(m)
	s.messages = append(s.messages, m)
	return true
}

func (s *Session) publish() {
	view := append([]models.Message(nil), s.messages...)
	s.mu.Lock()
	s.snapshot = view
	s.mu.Unlock()
	s.signal()
}

func (s *Session) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
