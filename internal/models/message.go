package models

import "time"

// Message represents an individual communication entry within a conversation.
// The pair (ID, Role) is unique within one conversation; a later event
// bearing the same pair updates the existing entry in place rather than
// appending a duplicate. Content of assistant messages may grow through
// successive partial updates before reaching its final value.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a model-generated message. Only assistant
	// messages stream, reveal progressively, and may carry media markers.
	RoleAssistant Role = "assistant"
)

// Streaming states describe where an assistant message is in its lifecycle,
// from the placeholder shown before the first chunk to the terminal state.
const (
	StreamingStateLoading   = "loading"
	StreamingStateStreaming = "streaming"
	StreamingStateEnded     = "ended"
)
