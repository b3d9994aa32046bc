// Package inbox keeps the signed-in user's conversation list fresh and opens
// sessions from it.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/quickmoney/lendchat/internal/conversation"
	"github.com/quickmoney/lendchat/internal/live"
	"github.com/quickmoney/lendchat/internal/models"
	"github.com/quickmoney/lendchat/internal/notify"
)

// ErrMissingCounterpart is returned by Open for a summary without a usable
// other user.
var ErrMissingCounterpart = errors.New("conversation has no counterpart")

type Lister interface {
	ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
}

// Events is the system-wide subscription the aggregator refreshes on.
type Events interface {
	OnAny(fn live.Handler) (cancel func())
}

type Config struct {
	UserID   string
	Lister   Lister
	Events   Events // nil disables live refresh
	Sessions conversation.Deps
	Notifier notify.Notifier
	Logger   *slog.Logger
}

type Aggregator struct {
	cfg     Config
	logger  *slog.Logger
	trigger chan struct{}
	updates chan struct{}

	refreshMu sync.Mutex

	mu    sync.RWMutex
	convs []models.ConversationSummary
	err   error
}

func New(cfg Config) (*Aggregator, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("inbox: user id is required")
	}
	if cfg.Lister == nil {
		return nil, fmt.Errorf("inbox: lister is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Log{Logger: cfg.Logger}
	}
	if cfg.Sessions.Notifier == nil {
		cfg.Sessions.Notifier = cfg.Notifier
	}
	if cfg.Sessions.Logger == nil {
		cfg.Sessions.Logger = cfg.Logger
	}
	return &Aggregator{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "inbox", "user_id", cfg.UserID),
		trigger: make(chan struct{}, 1),
		updates: make(chan struct{}, 1),
	}, nil
}

// Start loads the list once, then re-fetches on every inbound channel event
// until ctx is done. Events arriving while a refresh runs, the initial one
// included, collapse into a single follow-up refresh. The returned error is
// the initial load's.
func (a *Aggregator) Start(ctx context.Context) error {
	if a.cfg.Events != nil {
		cancel := a.cfg.Events.OnAny(func(models.Message) { a.poke() })
		go func() {
			defer cancel()
			a.loop(ctx)
		}()
	}
	return a.Refresh(ctx)
}

func (a *Aggregator) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.trigger:
			if err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
				a.logger.Debug("refresh after event failed", "error", err)
			}
		}
	}
}

func (a *Aggregator) poke() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Refresh re-fetches the whole list. On failure the previous list is kept
// and the user is notified.
func (a *Aggregator) Refresh(ctx context.Context) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	convs, err := a.cfg.Lister.ListConversations(ctx, a.cfg.UserID)
	if err != nil {
		var re *models.RetrievalError
		if !errors.As(err, &re) {
			err = &models.RetrievalError{Op: "list conversations", Err: err}
		}
		a.logger.Warn("conversation list unavailable", "error", err)
		a.cfg.Notifier.Notify(notify.LevelError, "Failed to load conversations.")
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
		a.signal()
		return err
	}

	sortByActivity(convs)

	a.mu.Lock()
	a.convs = convs
	a.err = nil
	a.mu.Unlock()
	a.signal()
	return nil
}

// Conversations returns the list, most recent activity first.
func (a *Aggregator) Conversations() []models.ConversationSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]models.ConversationSummary(nil), a.convs...)
}

// Err is the last refresh error, nil after a successful one.
func (a *Aggregator) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

func (a *Aggregator) Updates() <-chan struct{} {
	return a.updates
}

// Open starts a session with the summary's counterpart.
func (a *Aggregator) Open(summary models.ConversationSummary) (*conversation.Session, error) {
	if summary.OtherUser == nil || summary.OtherUser.ID == "" {
		a.cfg.Notifier.Notify(notify.LevelError, "Unable to open chat: User data missing.")
		return nil, ErrMissingCounterpart
	}
	s, err := conversation.Open(a.cfg.Sessions, a.cfg.UserID, summary.OtherUser.ID)
	if err != nil {
		return nil, err
	}
	a.logger.Info("conversation opened", "room_id", s.RoomID(), "peer", summary.OtherUser.ID)
	return s, nil
}

func (a *Aggregator) signal() {
	select {
	case a.updates <- struct{}{}:
	default:
	}
}

// sortByActivity orders newest latest-message first. Conversations with no
// message sink to the end; ties keep server order.
func sortByActivity(convs []models.ConversationSummary) {
	slices.SortStableFunc(convs, func(x, y models.ConversationSummary) int {
		switch {
		case x.LatestMessage == nil && y.LatestMessage == nil:
			return 0
		case x.LatestMessage == nil:
			return 1
		case y.LatestMessage == nil:
			return -1
		}
		return y.LatestMessage.Timestamp.Compare(x.LatestMessage.Timestamp)
	})
}
