package database

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quickmoney/lendchat/internal/models"
	"github.com/quickmoney/lendchat/internal/room"
)

// MemoryStore keeps everything in process. It backs the server when no
// DATABASE_URL is configured, and the handler tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	byEmail  map[string]string
	messages []models.Message
	byClient map[string]int // sender|clientID -> index into messages
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*models.User),
		byEmail:  make(map[string]string),
		byClient: make(map[string]int),
		now:      time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

func (s *MemoryStore) CreateUser(_ context.Context, name, email, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := s.byEmail[key]; ok {
		return nil, ErrDuplicate
	}
	u := &models.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Password:  passwordHash,
		CreatedAt: s.now().UTC(),
	}
	s.users[u.ID] = u
	s.byEmail[key] = u.ID

	out := *u
	out.Password = ""
	return &out, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	out.Password = ""
	return &out, nil
}

func (s *MemoryStore) SearchUsers(_ context.Context, query string, limit int) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	users := []models.User{}
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.Name), q) {
			users = append(users, models.User{ID: u.ID, Name: u.Name, ProfilePic: u.ProfilePic, CreatedAt: u.CreatedAt})
		}
	}
	slices.SortFunc(users, func(a, b models.User) int { return strings.Compare(a.Name, b.Name) })
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientKey := msg.SenderID + "|" + msg.ClientID
	if msg.ClientID != "" {
		if i, ok := s.byClient[clientKey]; ok {
			m := s.messages[i]
			return &m, nil
		}
	}

	msg.ID = uuid.New().String()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	s.messages = append(s.messages, msg)
	if msg.ClientID != "" {
		s.byClient[clientKey] = len(s.messages) - 1
	}
	return &msg, nil
}

func (s *MemoryStore) GetHistory(_ context.Context, roomID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Message{}
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Message) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]models.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]models.Message)
	for _, m := range s.messages {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		if cur, ok := latest[m.RoomID]; !ok || !m.Timestamp.Before(cur.Timestamp) {
			latest[m.RoomID] = m
		}
	}

	convs := make([]models.ConversationSummary, 0, len(latest))
	for roomID, m := range latest {
		m := m
		c := models.ConversationSummary{RoomID: roomID, LatestMessage: &m}
		otherID := m.SenderID
		if otherID == userID {
			otherID = m.ReceiverID
		}
		if otherID == "" {
			otherID, _ = room.Counterpart(roomID, userID)
		}
		if u, ok := s.users[otherID]; ok {
			c.OtherUser = &models.Counterpart{ID: u.ID, Name: u.Name, ProfilePic: u.ProfilePic}
		}
		convs = append(convs, c)
	}
	slices.SortFunc(convs, func(a, b models.ConversationSummary) int {
		if c := b.LatestMessage.Timestamp.Compare(a.LatestMessage.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.RoomID, b.RoomID)
	})
	return convs, nil
}
