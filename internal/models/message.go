package models

import "time"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a conversation's append-only history. OwnerID is a
// denormalized copy of the conversation owner, kept for access checks and
// per-user queries. Seq breaks created_at ties within a conversation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	OwnerID        string         `json:"owner_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Seq            int64          `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
}
