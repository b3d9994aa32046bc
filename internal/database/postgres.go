package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/quickmoney/lendchat/internal/models"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func InitDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *PostgresStore) Close() error                   { return s.db.Close() }

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (name, email, password) VALUES ($1, $2, $3)
		 RETURNING id, name, email, profile_pic, created_at`,
		name, email, passwordHash,
	).Scan(&u.ID, &u.Name, &u.Email, &u.ProfilePic, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password, profile_pic, created_at FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.ProfilePic, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, profile_pic, created_at FROM users WHERE id::text = $1`,
		id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.ProfilePic, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, profile_pic, created_at FROM users
		 WHERE name ILIKE $1 ORDER BY name LIMIT $2`,
		"%"+query+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.ProfilePic, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Messages ---

const messageColumns = `id, client_id, sender_id, receiver_id, room_id, content, created_at`

func scanMessage(row interface{ Scan(...any) error }, m *models.Message) error {
	return row.Scan(&m.ID, &m.ClientID, &m.SenderID, &m.ReceiverID, &m.RoomID, &m.Text, &m.Timestamp)
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var m models.Message
	err := scanMessage(s.db.QueryRowContext(ctx, `
		INSERT INTO messages (client_id, sender_id, receiver_id, room_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sender_id, client_id) WHERE client_id <> '' DO NOTHING
		RETURNING `+messageColumns,
		msg.ClientID, msg.SenderID, msg.ReceiverID, msg.RoomID, msg.Text, msg.Timestamp,
	), &m)
	if errors.Is(err, sql.ErrNoRows) {
		// the client ID was already used; hand back the first insert
		err = scanMessage(s.db.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE sender_id = $1 AND client_id = $2`,
			msg.SenderID, msg.ClientID,
		), &m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, roomID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE room_id = $1 ORDER BY created_at, id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT latest.id, latest.client_id, latest.sender_id, latest.receiver_id,
		       latest.room_id, latest.content, latest.created_at,
		       u.id, u.name, u.profile_pic
		FROM (
		    SELECT DISTINCT ON (room_id) `+messageColumns+`
		    FROM messages
		    WHERE sender_id = $1 OR receiver_id = $1
		    ORDER BY room_id, created_at DESC
		) latest
		LEFT JOIN users u ON u.id::text =
		    CASE WHEN latest.sender_id = $1 THEN latest.receiver_id ELSE latest.sender_id END
		ORDER BY latest.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	convs := []models.ConversationSummary{}
	for rows.Next() {
		var (
			m                  models.Message
			otherID, otherName sql.NullString
			otherPic           sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ClientID, &m.SenderID, &m.ReceiverID, &m.RoomID, &m.Text, &m.Timestamp,
			&otherID, &otherName, &otherPic); err != nil {
			return nil, err
		}
		c := models.ConversationSummary{RoomID: m.RoomID, LatestMessage: &m}
		if otherID.Valid {
			c.OtherUser = &models.Counterpart{ID: otherID.String, Name: otherName.String, ProfilePic: otherPic.String}
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
