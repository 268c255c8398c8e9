package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/marcosvr/gemchat/internal/handlers"
	"github.com/marcosvr/gemchat/internal/models"
)

type mockLLM struct {
	chunks []string
	err    error
}

func (m *mockLLM) Chat(_ context.Context, _ []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, chunk := range m.chunks {
			if !yield(chunk, nil) {
				return
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}

type mockTitleGenerator struct {
	title string
	err   error

	// release, when non-nil, blocks GenerateTitle until closed.
	release chan struct{}
}

func (m *mockTitleGenerator) GenerateTitle(_ context.Context, _ string) (string, error) {
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return "", m.err
	}
	return m.title, nil
}

type mockStore struct {
	mu            sync.Mutex
	conversations []models.Conversation
	messages      map[string][]models.Message
	seq           int
	err           error
	lastCtx       context.Context
}

func newMockStore() *mockStore {
	return &mockStore{messages: make(map[string][]models.Message)}
}

func (m *mockStore) Conversations(_ context.Context) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]models.Conversation(nil), m.conversations...), nil
}

func (m *mockStore) Conversation(ctx context.Context, id string) (models.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCtx = ctx
	if m.err != nil {
		return models.Conversation{}, false, m.err
	}
	for _, c := range m.conversations {
		if c.ID == id {
			return c, true, nil
		}
	}
	return models.Conversation{}, false, nil
}

func (m *mockStore) AddConversation(_ context.Context, conv models.Conversation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.seq++
	conv.ID = fmt.Sprintf("conv-%d", m.seq)
	m.conversations = append(m.conversations, conv)
	return conv.ID, nil
}

func (m *mockStore) UpdateConversation(_ context.Context, conv models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for i, c := range m.conversations {
		if c.ID == conv.ID {
			m.conversations[i] = conv
			return nil
		}
	}
	return fmt.Errorf("conversation %s not found", conv.ID)
}

func (m *mockStore) Messages(_ context.Context, conversationID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]models.Message(nil), m.messages[conversationID]...), nil
}

func (m *mockStore) AddMessage(_ context.Context, conversationID string, message models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.seq++
	message.ID = fmt.Sprintf("%d-%s", m.seq, message.ID)
	m.messages[conversationID] = append(m.messages[conversationID], message)
	return message.ID, nil
}

func (m *mockStore) UpdateMessage(_ context.Context, conversationID string, message models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for i, msg := range m.messages[conversationID] {
		if msg.ID == message.ID {
			m.messages[conversationID][i] = message
			return nil
		}
	}
	return fmt.Errorf("message %s not found", message.ID)
}

func (m *mockStore) lastContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCtx
}

func (m *mockStore) lastMessage(conversationID string) (models.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[conversationID]
	if len(msgs) == 0 {
		return models.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

func newTestMain(llm handlers.LLM, store handlers.Store) *handlers.Main {
	return handlers.NewMain(
		map[string]handlers.LLM{"default": llm},
		"default",
		&mockTitleGenerator{title: "Generated Title"},
		store,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func decodeBody(body []byte, v any) error {
	return json.Unmarshal(body, v)
}
