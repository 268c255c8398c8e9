package models

import "time"

// Conversation represents a chat thread container. It carries the metadata the
// sidebar needs (title and starred flag) while the messages themselves are
// stored and fetched separately by conversation ID.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Starred   bool      `json:"starred"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultTitle is the placeholder title a conversation carries until the
// first user message produces a generated one.
const DefaultTitle = "New conversation"
