package transcript

import (
	"log/slog"
	"time"

	"github.com/marcosvr/gemchat/internal/models"
)

// UpdateKind tells a render target how much of the transcript changed.
type UpdateKind int

const (
	// UpdateTranscript means the message list changed shape and the whole
	// transcript should be rendered again, followed by a scroll-to-latest.
	UpdateTranscript UpdateKind = iota
	// UpdateMessage means only the carried message changed; render targets
	// should re-render that single message instead of the whole transcript.
	UpdateMessage
	// UpdateMetadata means the conversation title or starred flag changed.
	UpdateMetadata
	// UpdateReset means the active conversation was replaced wholesale.
	UpdateReset
)

// Update is the notification a Session emits after applying an event. For
// UpdateMessage only Message is meaningful; for the other kinds the render
// target should consult the session's Messages and Conversation accessors.
type Update struct {
	Kind    UpdateKind
	Message models.Message
}

type messageKey struct {
	id   string
	role models.Role
}

// Session owns the transcript of a single active conversation and merges
// realtime channel events into it. It guarantees the message list stays a
// duplicate-free, order-preserving projection of everything received for the
// active conversation: same (id, role) updates in place, unknown chunk IDs
// create a streaming assistant message, and events addressed at any other
// conversation are dropped without side effects.
//
// A Session performs no internal buffering or reordering; events are applied
// strictly in the order Handle is called. It is not safe for concurrent use,
// matching the single event-loop model of the channel that feeds it.
type Session struct {
	conversation models.Conversation
	messages     []models.Message
	index        map[messageKey]int

	// streamingID names the assistant message currently receiving chunks,
	// empty when no stream is active. terminal records assistant IDs that
	// received an authoritative full message; chunks for those are discarded.
	streamingID string
	terminal    map[string]bool

	notify func(Update)
	logger *slog.Logger
}

// NewSession creates a Session for the given conversation, seeded with the
// messages loaded for it. The notify callback receives one Update per applied
// event and may be nil. The logger is used for dropped malformed events.
func NewSession(
	conversation models.Conversation,
	messages []models.Message,
	notify func(Update),
	logger *slog.Logger,
) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		notify: notify,
		logger: logger.With(slog.String("module", "transcript")),
	}
	s.replace(conversation, messages)
	return s
}

// Conversation returns the active conversation's metadata.
func (s *Session) Conversation() models.Conversation { return s.conversation }

// Messages returns a copy of the transcript in arrival order.
func (s *Session) Messages() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// StreamingID returns the ID of the assistant message currently receiving
// progress chunks, or an empty string when no stream is active.
func (s *Session) StreamingID() string { return s.streamingID }

// StreamingState reports where the assistant reply is in its lifecycle:
// streaming while chunks are arriving, loading when the transcript ends with
// a user message still awaiting its reply, and ended otherwise.
func (s *Session) StreamingState() string {
	if s.streamingID != "" {
		return models.StreamingStateStreaming
	}
	if n := len(s.messages); n > 0 && s.messages[n-1].Role == models.RoleUser {
		return models.StreamingStateLoading
	}
	return models.StreamingStateEnded
}

// Handle applies one realtime channel event to the transcript. Events for a
// conversation other than the active one are dropped silently; events with a
// missing or malformed identifier are dropped with a logged warning. Handle
// never panics on bad input so a single broken event cannot take down the
// render pass for the rest of the transcript.
func (s *Session) Handle(event Event) {
	if event == nil {
		return
	}
	if event.Conversation() != s.conversation.ID {
		// Stale event from a previously active conversation; no
		// cross-conversation leakage.
		return
	}

	switch ev := event.(type) {
	case FullMessage:
		s.handleFullMessage(ev)
	case ProgressChunk:
		s.handleProgressChunk(ev)
	case ConversationMetadata:
		s.handleMetadata(ev)
	default:
		s.logger.Warn("Dropping event of unknown type")
	}
}

// Reset replaces the entire in-memory conversation, used when the user loads
// a different conversation. Any in-flight streaming state is cancelled, so
// chunks still addressed to the previous conversation fall into the
// inactive-conversation drop path of Handle.
func (s *Session) Reset(conversation models.Conversation, messages []models.Message) {
	s.replace(conversation, messages)
	s.emit(Update{Kind: UpdateReset})
}

func (s *Session) replace(conversation models.Conversation, messages []models.Message) {
	s.conversation = conversation
	s.messages = make([]models.Message, len(messages))
	copy(s.messages, messages)
	s.index = make(map[messageKey]int, len(messages))
	for i, msg := range s.messages {
		s.index[messageKey{id: msg.ID, role: msg.Role}] = i
	}
	s.streamingID = ""
	s.terminal = make(map[string]bool)
}

func (s *Session) handleFullMessage(ev FullMessage) {
	if ev.ID == "" {
		s.logger.Warn("Dropping message event without id",
			slog.String("conversationID", ev.ConversationID))
		return
	}

	if ev.Role == models.RoleAssistant {
		// The full message is the authoritative terminal value for this id;
		// any chunks still in flight for it are discarded on arrival.
		s.terminal[ev.ID] = true
		if s.streamingID == ev.ID {
			s.streamingID = ""
		}
	}

	key := messageKey{id: ev.ID, role: ev.Role}
	if i, ok := s.index[key]; ok {
		s.messages[i].Content = ev.Content
	} else {
		createdAt := ev.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		s.messages = append(s.messages, models.Message{
			ID:        ev.ID,
			Role:      ev.Role,
			Content:   ev.Content,
			CreatedAt: createdAt,
		})
		s.index[key] = len(s.messages) - 1
	}

	s.emit(Update{Kind: UpdateTranscript})
}

func (s *Session) handleProgressChunk(ev ProgressChunk) {
	if ev.Content == "" {
		return
	}

	id := ev.AssistantMessageID
	if id == "" {
		// Some backends omit the owning id on chunks; fall back to the
		// message already streaming rather than losing the fragment.
		if s.streamingID == "" {
			s.logger.Warn("Dropping progress chunk without assistant message id",
				slog.String("conversationID", ev.ConversationID))
			return
		}
		id = s.streamingID
	}

	if s.terminal[id] {
		s.logger.Debug("Discarding chunk for finalized message", slog.String("messageID", id))
		return
	}

	key := messageKey{id: id, role: models.RoleAssistant}
	i, ok := s.index[key]
	if !ok {
		s.messages = append(s.messages, models.Message{
			ID:        id,
			Role:      models.RoleAssistant,
			Content:   ev.Content,
			CreatedAt: time.Now(),
		})
		i = len(s.messages) - 1
		s.index[key] = i
	} else {
		s.messages[i].Content += ev.Content
	}
	s.streamingID = id

	s.emit(Update{Kind: UpdateMessage, Message: s.messages[i]})
}

func (s *Session) handleMetadata(ev ConversationMetadata) {
	if ev.Title != "" {
		s.conversation.Title = ev.Title
	}
	if ev.Starred != nil {
		s.conversation.Starred = *ev.Starred
	}
	s.emit(Update{Kind: UpdateMetadata})
}

func (s *Session) emit(u Update) {
	if s.notify != nil {
		s.notify(u)
	}
}
