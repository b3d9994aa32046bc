package database

import (
	"context"
	"errors"

	"github.com/quickmoney/lendchat/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Store is the persistence boundary of the chat server. Lookups that find
// nothing return ErrNotFound.
type Store interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)

	// CreateMessage assigns the ID and, when zero, the timestamp. A repeat
	// of (sender, client ID) returns the message stored the first time.
	CreateMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	// GetHistory returns a room's messages oldest first.
	GetHistory(ctx context.Context, roomID string) ([]models.Message, error)
	// ListConversations returns one summary per room the user is part of,
	// newest activity first.
	ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)

	Ping(ctx context.Context) error
	Close() error
}
