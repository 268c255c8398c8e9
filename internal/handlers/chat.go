package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marcosvr/gemchat/internal/attachments"
	"github.com/marcosvr/gemchat/internal/models"
	"github.com/marcosvr/gemchat/internal/transcript"
)

// progressChunkSize is the approximate number of bytes buffered before a
// progress event is pushed to the realtime channel. Smaller flushes would
// flood slow clients with tiny frames.
const progressChunkSize = 50

const generationErrorContent = "Error: failed to generate a response. Please try again."

// HandleChat accepts a multipart message submission and starts a reply
// stream. The form carries the message text, an optional model name, an
// optional conversation id, and zero or more image attachments. A missing or
// empty conversation id creates a new conversation. The response reports the
// conversation id and whether it was created by this request; the reply
// itself arrives over the realtime channel.
func (m *Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := r.ParseMultipartForm(attachments.MaxFileSize + 1<<20); err != nil {
		m.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	text := strings.TrimSpace(r.FormValue("message"))
	model := r.FormValue("model")
	conversationID := r.FormValue("conversation_id")
	model = m.modelFor(model,
		r.FormValue("video_mode") == "true",
		r.FormValue("web_search") == "true")

	files, err := m.readAttachments(r)
	if err != nil {
		m.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	previews := attachments.Process(files, m.logger)

	if text == "" && len(previews) == 0 {
		m.respondError(w, http.StatusBadRequest, "message is empty")
		return
	}

	isNew := conversationID == ""
	var conv models.Conversation
	if isNew {
		conv = models.Conversation{Title: models.DefaultTitle}
		conv.ID, err = m.store.AddConversation(r.Context(), conv)
		if err != nil {
			m.logger.Error("failed to create conversation", slog.String(errLoggerKey, err.Error()))
			m.respondError(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
		conversationID = conv.ID
	} else {
		var ok bool
		conv, ok, err = m.store.Conversation(r.Context(), conversationID)
		if err != nil {
			m.logger.Error("failed to load conversation", slog.String(errLoggerKey, err.Error()))
			m.respondError(w, http.StatusInternalServerError, "failed to load conversation")
			return
		}
		if !ok {
			m.respondError(w, http.StatusNotFound, "conversation not found")
			return
		}
	}

	userMessage := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   userContent(text, previews),
		CreatedAt: time.Now(),
	}
	userMessage.ID, err = m.store.AddMessage(r.Context(), conversationID, userMessage)
	if err != nil {
		m.logger.Error("failed to save message", slog.String(errLoggerKey, err.Error()))
		m.respondError(w, http.StatusInternalServerError, "failed to save message")
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

	if conv.Title == models.DefaultTitle && text != "" {
		go m.generateConversationTitle(conv, text)
	}
	go m.respond(conversationID, m.llm(model))

	m.respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id":     conversationID,
		"is_new_conversation": isNew,
	})
}

// modelFor applies mode overrides to the requested model name. Video mode
// and web search each route to a dedicated registry entry when one is
// configured; otherwise the requested model is kept.
func (m *Main) modelFor(requested string, videoMode, webSearch bool) string {
	if videoMode {
		if _, ok := m.llms["video"]; ok {
			return "video"
		}
	}
	if webSearch {
		if _, ok := m.llms["web"]; ok {
			return "web"
		}
	}
	return requested
}

func (m *Main) readAttachments(r *http.Request) ([]attachments.File, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}

	var files []attachments.File
	for _, header := range r.MultipartForm.File["attachments"] {
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open attachment %q", header.Filename)
		}
		data, err := io.ReadAll(io.LimitReader(f, attachments.MaxFileSize+1))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %q", header.Filename)
		}

		mime := header.Header.Get("Content-Type")
		if mime == "" || mime == "application/octet-stream" {
			mime = http.DetectContentType(data)
		}
		files = append(files, attachments.File{
			Name: header.Filename,
			MIME: mime,
			Size: int64(len(data)),
			Data: data,
		})
	}
	return files, nil
}

// userContent combines the typed text with inline image references for each
// accepted attachment so the transcript keeps them.
func userContent(text string, previews []attachments.Preview) string {
	if len(previews) == 0 {
		return text
	}

	var sb strings.Builder
	sb.WriteString(text)
	for _, p := range previews {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "![%s](%s)", p.Name, p.DataURL)
	}
	return sb.String()
}

// respond streams a model reply into the store, publishing progress chunks
// to the realtime channel and a final full message when the stream ends.
func (m *Main) respond(conversationID string, llm LLM) {
	ctx := context.Background()
	logger := m.logger.With(slog.String("conversation", conversationID))

	history, err := m.store.Messages(ctx, conversationID)
	if err != nil {
		logger.Error("failed to load history", slog.String(errLoggerKey, err.Error()))
		return
	}

	assistant := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		CreatedAt: time.Now(),
	}
	assistant.ID, err = m.store.AddMessage(ctx, conversationID, assistant)
	if err != nil {
		logger.Error("failed to create reply message", slog.String(errLoggerKey, err.Error()))
		return
	}

	var full, pending strings.Builder
	flush := func() {
		if pending.Len() == 0 {
			return
		}
		m.dispatch(transcript.ProgressChunk{
			ConversationID:     conversationID,
			AssistantMessageID: assistant.ID,
			Content:            pending.String(),
		})
		pending.Reset()
	}

	var failed bool
	for chunk, err := range llm.Chat(ctx, history) {
		if err != nil {
			logger.Error("failed to generate response", slog.String(errLoggerKey, err.Error()))
			failed = true
			break
		}
		full.WriteString(chunk)
		pending.WriteString(chunk)
		if pending.Len() >= progressChunkSize {
			flush()
		}
	}
	flush()

	assistant.Content = full.String()
	if failed && assistant.Content == "" {
		assistant.Content = generationErrorContent
	}

	if err := m.store.UpdateMessage(ctx, conversationID, assistant); err != nil {
		logger.Error("failed to save reply", slog.String(errLoggerKey, err.Error()))
	}

	m.dispatch(transcript.FullMessage{
		ConversationID: conversationID,
		ID:             assistant.ID,
		Role:           assistant.Role,
		Content:        assistant.Content,
		CreatedAt:      assistant.CreatedAt,
		Done:           true,
	})
}

// generateConversationTitle asks the title generator for a name based on the
// first user message and publishes the result as a metadata event. Failures
// leave the default title in place.
func (m *Main) generateConversationTitle(conv models.Conversation, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	title, err := m.titleGenerator.GenerateTitle(ctx, message)
	if err != nil {
		m.logger.Error("failed to generate title",
			slog.String("conversation", conv.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if title == "" {
		return
	}

	// Re-fetch before saving: the starred flag may have changed while the
	// title was being generated, and the stale snapshot would revert it.
	current, ok, err := m.store.Conversation(ctx, conv.ID)
	if err != nil {
		m.logger.Error("failed to load conversation",
			slog.String("conversation", conv.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	if !ok {
		return
	}

	current.Title = title
	if err := m.store.UpdateConversation(ctx, current); err != nil {
		m.logger.Error("failed to save title",
			slog.String("conversation", conv.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	m.dispatch(transcript.ConversationMetadata{
		ConversationID: conv.ID,
		Title:          title,
	})
}
