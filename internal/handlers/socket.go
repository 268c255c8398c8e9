package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/marcosvr/gemchat/internal/attachments"
	"github.com/marcosvr/gemchat/internal/models"
	"github.com/marcosvr/gemchat/internal/render"
	"github.com/marcosvr/gemchat/internal/reveal"
	"github.com/marcosvr/gemchat/internal/transcript"
)

// socketEvent is the envelope for every frame crossing the realtime channel,
// in both directions.
type socketEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendMessagePayload struct {
	Message        string       `json:"message"`
	ConversationID string       `json:"conversationId"`
	Model          string       `json:"model"`
	VideoMode      bool         `json:"videoMode"`
	WebSearch      bool         `json:"webSearch"`
	Files          []socketFile `json:"files"`
}

type socketFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

type selectConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type messagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	HTML           string    `json:"html"`
	Kind           string    `json:"kind"`
	CreatedAt      time.Time `json:"created_at"`
	Done           bool      `json:"done"`
	StreamingState string    `json:"streaming_state"`
	RevealMS       int64     `json:"reveal_ms,omitempty"`
}

type progressPayload struct {
	ConversationID     string `json:"conversation_id"`
	AssistantMessageID string `json:"assistant_message_id"`
	Content            string `json:"content"`
	StreamingState     string `json:"streaming_state"`
}

type conversationUpdatePayload struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Starred *bool  `json:"starred,omitempty"`
}

// clientSession is one realtime channel connection. It owns a transcript
// reconciler pinned to the client's active conversation and a reveal tracker
// deciding which assistant messages still get the typing animation.
type clientSession struct {
	conn   *websocket.Conn
	logger *slog.Logger

	// mu guards the reconciler and all socket writes. Events arrive from the
	// read loop, from reply streams, and from title goroutines.
	mu         sync.Mutex
	reconciler *transcript.Session
	tracker    *reveal.Tracker
	applied    bool
}

// HandleSocket upgrades the request to a realtime channel connection and
// serves it until the client disconnects.
func (m *Main) HandleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("failed to upgrade connection", slog.String(errLoggerKey, err.Error()))
		return
	}

	cs := &clientSession{
		conn:    conn,
		logger:  m.logger,
		tracker: reveal.NewTracker(),
	}
	cs.reconciler = transcript.NewSession(models.Conversation{}, nil, func(u transcript.Update) {
		cs.applied = true
	}, m.logger)

	m.register(cs)
	defer m.unregister(cs)
	defer conn.Close()

	// Store work triggered by this connection stops when it goes away. Reply
	// streams are excluded on purpose: they finish server-side so the store
	// and other sessions still see the final message.
	ctx := r.Context()

	for {
		var ev socketEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Error("realtime channel read failed", slog.String(errLoggerKey, err.Error()))
			}
			return
		}

		switch ev.Event {
		case "message":
			var payload sendMessagePayload
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				cs.sendError("invalid message payload")
				continue
			}
			m.handleSocketMessage(ctx, cs, payload)
		case "select_conversation":
			var payload selectConversationPayload
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				cs.sendError("invalid payload")
				continue
			}
			m.handleSelectConversation(ctx, cs, payload.ConversationID)
		default:
			cs.sendError("unknown event: " + ev.Event)
		}
	}
}

// handleSelectConversation repoints the session's reconciler at another
// conversation, loading its stored transcript. In-flight streams for the
// previous conversation keep running but their events no longer reach this
// client.
func (m *Main) handleSelectConversation(ctx context.Context, cs *clientSession, conversationID string) {
	conv, ok, err := m.store.Conversation(ctx, conversationID)
	if err != nil {
		m.logger.Error("failed to load conversation", slog.String(errLoggerKey, err.Error()))
		cs.sendError("failed to load conversation")
		return
	}
	if !ok {
		cs.sendError("conversation not found")
		return
	}

	messages, err := m.store.Messages(ctx, conversationID)
	if err != nil {
		m.logger.Error("failed to load messages", slog.String(errLoggerKey, err.Error()))
		cs.sendError("failed to load conversation")
		return
	}

	cs.mu.Lock()
	cs.reconciler.Reset(conv, messages)
	cs.tracker.Reset()
	cs.mu.Unlock()
}

// handleSocketMessage runs the same send pipeline as the multipart endpoint
// for a message submitted over the realtime channel.
func (m *Main) handleSocketMessage(ctx context.Context, cs *clientSession, payload sendMessagePayload) {
	text := strings.TrimSpace(payload.Message)
	files := decodeSocketFiles(payload.Files)
	previews := attachments.Process(files, m.logger)

	if text == "" && len(previews) == 0 {
		cs.sendError("message is empty")
		return
	}
	if len(payload.Files) > 0 && len(previews) == 0 {
		// Rejected attachments never block the text part of the message.
		cs.sendError("attachments were rejected: only images up to 20 MB are supported")
	}

	conversationID := payload.ConversationID
	var conv models.Conversation
	var err error
	if conversationID == "" {
		conv = models.Conversation{Title: models.DefaultTitle}
		conv.ID, err = m.store.AddConversation(ctx, conv)
		if err != nil {
			m.logger.Error("failed to create conversation", slog.String(errLoggerKey, err.Error()))
			cs.sendError("failed to create conversation")
			return
		}
		conversationID = conv.ID

		cs.mu.Lock()
		cs.reconciler.Reset(conv, nil)
		cs.tracker.Reset()
		cs.mu.Unlock()
		cs.sendConversationUpdate(conversationUpdatePayload{ID: conv.ID, Title: conv.Title})
	} else {
		var ok bool
		conv, ok, err = m.store.Conversation(ctx, conversationID)
		if err != nil {
			m.logger.Error("failed to load conversation", slog.String(errLoggerKey, err.Error()))
			cs.sendError("failed to load conversation")
			return
		}
		if !ok {
			cs.sendError("conversation not found")
			return
		}

		// Sending into a conversation makes it this session's active one.
		cs.mu.Lock()
		active := cs.reconciler.Conversation().ID
		cs.mu.Unlock()
		if active != conversationID {
			messages, err := m.store.Messages(ctx, conversationID)
			if err != nil {
				m.logger.Error("failed to load messages", slog.String(errLoggerKey, err.Error()))
				cs.sendError("failed to load conversation")
				return
			}
			cs.mu.Lock()
			cs.reconciler.Reset(conv, messages)
			cs.tracker.Reset()
			cs.mu.Unlock()
		}
	}

	userMessage := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   userContent(text, previews),
		CreatedAt: time.Now(),
	}
	userMessage.ID, err = m.store.AddMessage(ctx, conversationID, userMessage)
	if err != nil {
		m.logger.Error("failed to save message", slog.String(errLoggerKey, err.Error()))
		cs.sendError("failed to save message")
		return
	}

	m.dispatch(transcript.FullMessage{
		ConversationID: conversationID,
		ID:             userMessage.ID,
		Role:           userMessage.Role,
		Content:        userMessage.Content,
		CreatedAt:      userMessage.CreatedAt,
		Done:           true,
	})

	model := m.modelFor(payload.Model, payload.VideoMode, payload.WebSearch)
	if conv.Title == models.DefaultTitle && text != "" {
		go m.generateConversationTitle(conv, text)
	}
	go m.respond(conversationID, m.llm(model))
}

func decodeSocketFiles(files []socketFile) []attachments.File {
	var out []attachments.File
	for _, f := range files {
		data, err := attachments.DecodeDataURL(f.Data)
		if err != nil {
			continue
		}
		mime := f.Type
		if mime == "" {
			mime = http.DetectContentType(data)
		}
		out = append(out, attachments.File{
			Name: f.Name,
			MIME: mime,
			Size: int64(len(data)),
			Data: data,
		})
	}
	return out
}

// dispatch offers a transcript event to this session's reconciler and, when
// the reconciler applies it, forwards the matching wire event to the client.
func (cs *clientSession) dispatch(ev transcript.Event) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.applied = false
	cs.reconciler.Handle(ev)
	if !cs.applied {
		return
	}

	switch e := ev.(type) {
	case transcript.FullMessage:
		cs.writeMessage(e)
	case transcript.ProgressChunk:
		cs.write("message_progress", progressPayload{
			ConversationID:     e.ConversationID,
			AssistantMessageID: e.AssistantMessageID,
			Content:            e.Content,
			StreamingState:     cs.reconciler.StreamingState(),
		})
	case transcript.ConversationMetadata:
		cs.write("conversation_update", conversationUpdatePayload{
			ID:      e.ConversationID,
			Title:   e.Title,
			Starred: e.Starred,
		})
	}
}

func (cs *clientSession) writeMessage(ev transcript.FullMessage) {
	html, err := render.HTML(ev.Content)
	if err != nil {
		cs.logger.Error("failed to render message", slog.String(errLoggerKey, err.Error()))
		html = ""
	}

	payload := messagePayload{
		ID:             ev.ID,
		ConversationID: ev.ConversationID,
		Role:           string(ev.Role),
		Content:        ev.Content,
		HTML:           html,
		Kind:           string(render.Kind(ev.Role, ev.Content)),
		CreatedAt:      ev.CreatedAt,
		Done:           ev.Done,
		StreamingState: cs.reconciler.StreamingState(),
	}
	if ev.Role == models.RoleAssistant && cs.tracker.FirstReveal(ev.ID) {
		payload.RevealMS = reveal.StepFor(utf8.RuneCountInString(ev.Content)).Milliseconds()
	}
	cs.write("message", payload)
}

func (cs *clientSession) sendConversationUpdate(payload conversationUpdatePayload) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.write("conversation_update", payload)
}

func (cs *clientSession) sendError(msg string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.write("error", map[string]string{"error": msg})
}

// write marshals and sends one frame. Callers must hold mu.
func (cs *clientSession) write(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		cs.logger.Error("failed to marshal event", slog.String(errLoggerKey, err.Error()))
		return
	}
	if err := cs.conn.WriteJSON(socketEvent{Event: event, Data: raw}); err != nil {
		cs.logger.Error("failed to write event", slog.String(errLoggerKey, err.Error()))
	}
}

func (cs *clientSession) close() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	cs.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
	cs.conn.Close()
}
