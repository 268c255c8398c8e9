package handlers

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/marcosvr/gemchat/internal/models"
	"github.com/marcosvr/gemchat/internal/transcript"
)

// LLM represents a large language model interface that provides chat
// functionality. It accepts a context and a sequence of messages, returning
// an iterator that yields response chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// TitleGenerator produces a short conversation title from the first user
// message of a conversation.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, message string) (string, error)
}

// Store defines the interface for managing conversation and message
// persistence. It provides methods for creating, reading, and updating
// conversations and their associated messages.
type Store interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	Conversation(ctx context.Context, id string) (models.Conversation, bool, error)
	AddConversation(ctx context.Context, conv models.Conversation) (string, error)
	UpdateConversation(ctx context.Context, conv models.Conversation) error

	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	AddMessage(ctx context.Context, conversationID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, conversationID string, message models.Message) error
}

const errLoggerKey = "err"

// Main handles the core functionality of the chat application: the REST
// collaborator surface, the realtime channel carrying message events, and the
// streaming of model replies into persisted transcripts.
type Main struct {
	llms         map[string]LLM
	defaultModel string

	titleGenerator TitleGenerator
	store          Store

	upgrader websocket.Upgrader

	// Connected realtime channel sessions. Every transcript event is offered
	// to each session; the per-session reconciler drops the ones that do not
	// belong to its active conversation.
	mu       sync.Mutex
	sessions map[*clientSession]struct{}

	logger *slog.Logger
}

// NewMain creates a new Main instance with the provided model registry,
// title generator, and store. The defaultModel names the registry entry used
// when a request does not select a model explicitly.
func NewMain(
	llms map[string]LLM,
	defaultModel string,
	titleGenerator TitleGenerator,
	store Store,
	logger *slog.Logger,
) *Main {
	if logger == nil {
		logger = slog.Default()
	}

	return &Main{
		llms:           llms,
		defaultModel:   defaultModel,
		titleGenerator: titleGenerator,
		store:          store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[*clientSession]struct{}),
		logger:   logger.With(slog.String("module", "handlers")),
	}
}

// RegisterRoutes attaches every endpoint to the given mux.
func (m *Main) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/conversations", m.HandleConversations)
	mux.HandleFunc("/api/conversations/{id}", m.HandleConversation)
	mux.HandleFunc("/api/conversations/{id}/star", m.HandleStar)
	mux.HandleFunc("/chat", m.HandleChat)
	mux.HandleFunc("/ws", m.HandleSocket)
}

// llm resolves a model name to a registered LLM, falling back to the default
// model for unknown or empty names.
func (m *Main) llm(model string) LLM {
	if l, ok := m.llms[model]; ok {
		return l
	}
	return m.llms[m.defaultModel]
}

func (m *Main) register(cs *clientSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[cs] = struct{}{}
}

func (m *Main) unregister(cs *clientSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, cs)
}

// dispatch offers a transcript event to every connected session. Sessions
// whose reconciler drops the event (inactive conversation, malformed id)
// write nothing to their socket.
func (m *Main) dispatch(ev transcript.Event) {
	m.mu.Lock()
	sessions := make([]*clientSession, 0, len(m.sessions))
	for cs := range m.sessions {
		sessions = append(sessions, cs)
	}
	m.mu.Unlock()

	for _, cs := range sessions {
		cs.dispatch(ev)
	}
}

// Shutdown closes all realtime channel sessions, sending each a close frame
// and waiting briefly for in-flight writes to finish.
func (m *Main) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*clientSession, 0, len(m.sessions))
	for cs := range m.sessions {
		sessions = append(sessions, cs)
	}
	m.mu.Unlock()

	for _, cs := range sessions {
		cs.close()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}
