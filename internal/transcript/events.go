package transcript

import (
	"time"

	"github.com/marcosvr/gemchat/internal/models"
)

// Event is the union of realtime channel events a Session can consume. Each
// event names the conversation it belongs to so the session can drop events
// that arrived after the user switched away from that conversation.
type Event interface {
	Conversation() string
}

// FullMessage carries a complete (or final) message for a conversation. When
// the (ID, Role) pair matches an existing entry the message content is
// authoritative and replaces what was accumulated so far; assistant messages
// become terminal, discarding any further chunks addressed to the same ID.
type FullMessage struct {
	ConversationID string
	ID             string
	Role           models.Role
	Content        string
	CreatedAt      time.Time
	Done           bool
}

// Conversation implements Event.
func (e FullMessage) Conversation() string { return e.ConversationID }

// ProgressChunk carries a partial content fragment for the assistant message
// identified by AssistantMessageID. The channel is trusted to deliver each
// chunk exactly once and in order, so appending is not deduplicated.
type ProgressChunk struct {
	ConversationID     string
	AssistantMessageID string
	Content            string
}

// Conversation implements Event.
func (e ProgressChunk) Conversation() string { return e.ConversationID }

// ConversationMetadata updates the title and/or starred flag of the matching
// conversation without touching its messages. A nil Starred leaves the flag
// untouched, an empty Title keeps the current one.
type ConversationMetadata struct {
	ConversationID string
	Title          string
	Starred        *bool
}

// Conversation implements Event.
func (e ConversationMetadata) Conversation() string { return e.ConversationID }
