package models

import "time"

// Role is the closed set of message authors. Anything else is rejected
// before it reaches storage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"owner_id"`
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message content is immutable once persisted; ordering within a
// conversation follows the creation sequence.
type Message struct {
	ID         int64     `json:"id"`
	ConvID     int64     `json:"conversation_id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	ModelID    string    `json:"model_id,omitempty"`
	TokenCount int       `json:"token_count,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
