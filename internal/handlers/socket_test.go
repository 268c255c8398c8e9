package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/marcosvr/gemchat/internal/models"
)

type testEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dialSocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(testEvent{Event: event, Data: raw}); err != nil {
		t.Fatalf("failed to send %s event: %v", event, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) testEvent {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev testEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return ev
}

type receivedMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	HTML           string `json:"html"`
	Kind           string `json:"kind"`
	Done           bool   `json:"done"`
	StreamingState string `json:"streaming_state"`
	RevealMS       int64  `json:"reveal_ms"`
}

func TestSocketSendMessage(t *testing.T) {
	store := newMockStore()
	llm := &mockLLM{chunks: []string{"Hel", "lo!"}}
	main := newTestMain(llm, store)

	mux := http.NewServeMux()
	main.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialSocket(t, server)
	sendEvent(t, conn, "message", map[string]any{"message": "hi"})

	var userEcho, reply receivedMessage
	var progress []string
	var sawConversationUpdate bool

	for reply.ID == "" || !reply.Done {
		ev := readEvent(t, conn)
		switch ev.Event {
		case "conversation_update":
			sawConversationUpdate = true
		case "message":
			var msg receivedMessage
			if err := json.Unmarshal(ev.Data, &msg); err != nil {
				t.Fatalf("failed to decode message: %v", err)
			}
			switch msg.Role {
			case string(models.RoleUser):
				userEcho = msg
			case string(models.RoleAssistant):
				reply = msg
			}
		case "message_progress":
			var p struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal(ev.Data, &p); err != nil {
				t.Fatalf("failed to decode progress: %v", err)
			}
			progress = append(progress, p.Content)
		case "error":
			t.Fatalf("unexpected error event: %s", ev.Data)
		}
	}

	if !sawConversationUpdate {
		t.Error("no conversation_update received for the new conversation")
	}
	if userEcho.Content != "hi" {
		t.Errorf("user echo content = %q, want %q", userEcho.Content, "hi")
	}
	if !userEcho.Done {
		t.Error("user echo done = false, want true")
	}
	if reply.Content != "Hello!" {
		t.Errorf("reply content = %q, want %q", reply.Content, "Hello!")
	}
	if strings.Join(progress, "") != "Hello!" {
		t.Errorf("progress chunks = %q, want concatenation %q", progress, "Hello!")
	}
	if reply.RevealMS != 30 {
		t.Errorf("reveal_ms = %d, want 30", reply.RevealMS)
	}
	if userEcho.StreamingState != models.StreamingStateLoading {
		t.Errorf("user echo streaming_state = %q, want %q", userEcho.StreamingState, models.StreamingStateLoading)
	}
	if reply.StreamingState != models.StreamingStateEnded {
		t.Errorf("reply streaming_state = %q, want %q", reply.StreamingState, models.StreamingStateEnded)
	}
	if reply.HTML == "" {
		t.Error("reply html is empty")
	}
}

func TestSocketSelectConversation(t *testing.T) {
	store := newMockStore()
	store.conversations = []models.Conversation{{ID: "conv-1", Title: "Chat"}}
	store.messages["conv-1"] = []models.Message{
		{ID: "1-a", Role: models.RoleUser, Content: "earlier"},
	}
	llm := &mockLLM{chunks: []string{"reply"}}
	main := newTestMain(llm, store)

	mux := http.NewServeMux()
	main.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialSocket(t, server)
	sendEvent(t, conn, "select_conversation", map[string]any{"conversationId": "conv-1"})
	sendEvent(t, conn, "message", map[string]any{
		"message":        "continue",
		"conversationId": "conv-1",
	})

	ev := readEvent(t, conn)
	if ev.Event != "message" {
		t.Fatalf("first event = %q, want %q", ev.Event, "message")
	}
	var msg receivedMessage
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.ConversationID != "conv-1" {
		t.Errorf("conversation_id = %q, want %q", msg.ConversationID, "conv-1")
	}
	if msg.Content != "continue" {
		t.Errorf("content = %q, want %q", msg.Content, "continue")
	}
}

func TestSocketDropsOtherConversationEvents(t *testing.T) {
	store := newMockStore()
	store.conversations = []models.Conversation{
		{ID: "conv-1", Title: "Mine"},
		{ID: "conv-2", Title: "Other"},
	}
	llm := &mockLLM{chunks: []string{"reply"}}
	main := newTestMain(llm, store)

	mux := http.NewServeMux()
	main.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	watcher := dialSocket(t, server)
	sendEvent(t, watcher, "select_conversation", map[string]any{"conversationId": "conv-1"})

	sender := dialSocket(t, server)
	sendEvent(t, sender, "message", map[string]any{
		"message":        "hi there",
		"conversationId": "conv-2",
	})

	// The sender sees the full exchange for conv-2.
	var done bool
	for !done {
		ev := readEvent(t, sender)
		if ev.Event != "message" {
			continue
		}
		var msg receivedMessage
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.ConversationID != "conv-2" {
			t.Errorf("sender got event for %q, want %q", msg.ConversationID, "conv-2")
		}
		done = msg.Role == string(models.RoleAssistant) && msg.Done
	}

	// The watcher, pinned to conv-1, must receive nothing.
	watcher.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var ev testEvent
	if err := watcher.ReadJSON(&ev); err == nil {
		t.Fatalf("watcher received %q event for another conversation", ev.Event)
	}
}

func TestSocketStoreCallsUseConnectionContext(t *testing.T) {
	store := newMockStore()
	store.conversations = []models.Conversation{{ID: "conv-1", Title: "Chat"}}
	main := newTestMain(&mockLLM{}, store)

	mux := http.NewServeMux()
	main.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialSocket(t, server)
	sendEvent(t, conn, "select_conversation", map[string]any{"conversationId": "conv-1"})

	deadline := time.Now().Add(2 * time.Second)
	for store.lastContext() == nil {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for store call")
		}
		time.Sleep(5 * time.Millisecond)
	}
	ctx := store.lastContext()
	if ctx.Err() != nil {
		t.Fatalf("store context already done: %v", ctx.Err())
	}

	conn.Close()

	for ctx.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("store context not canceled after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSocketErrorOnUnknownConversation(t *testing.T) {
	store := newMockStore()
	main := newTestMain(&mockLLM{}, store)

	mux := http.NewServeMux()
	main.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn := dialSocket(t, server)
	sendEvent(t, conn, "message", map[string]any{
		"message":        "hi",
		"conversationId": "missing",
	})

	ev := readEvent(t, conn)
	if ev.Event != "error" {
		t.Fatalf("event = %q, want %q", ev.Event, "error")
	}
}
