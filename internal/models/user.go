package models

import "time"

type User struct {
	ID         string    `json:"_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Password   string    `json:"-"`
	ProfilePic string    `json:"profilePic,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Counterpart is the public slice of a user shown next to a conversation.
type Counterpart struct {
	ID         string `json:"_id"`
	Name       string `json:"name,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// DisplayName falls back to "Anonymous" for users without a name.
func (c Counterpart) DisplayName() string {
	if c.Name == "" {
		return "Anonymous"
	}
	return c.Name
}
