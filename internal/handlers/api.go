package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/marcosvr/gemchat/internal/models"
	"github.com/marcosvr/gemchat/internal/transcript"
)

func (m *Main) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Error("failed to encode response", slog.String(errLoggerKey, err.Error()))
	}
}

func (m *Main) respondError(w http.ResponseWriter, status int, msg string) {
	m.respondJSON(w, status, map[string]string{"error": msg})
}

// HandleConversations serves the conversation collection: GET lists every
// conversation newest first, POST creates an empty one.
func (m *Main) HandleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		conversations, err := m.store.Conversations(r.Context())
		if err != nil {
			m.logger.Error("failed to list conversations", slog.String(errLoggerKey, err.Error()))
			m.respondError(w, http.StatusInternalServerError, "failed to list conversations")
			return
		}
		if conversations == nil {
			conversations = []models.Conversation{}
		}
		m.respondJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
	case http.MethodPost:
		conv, err := m.createConversation(r)
		if err != nil {
			m.logger.Error("failed to create conversation", slog.String(errLoggerKey, err.Error()))
			m.respondError(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
		m.respondJSON(w, http.StatusCreated, conv)
	default:
		m.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (m *Main) createConversation(r *http.Request) (models.Conversation, error) {
	conv := models.Conversation{Title: models.DefaultTitle}

	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err == nil && payload.Title != "" {
		conv.Title = payload.Title
	}

	id, err := m.store.AddConversation(r.Context(), conv)
	if err != nil {
		return models.Conversation{}, err
	}
	conv.ID = id
	return conv, nil
}

// HandleConversation serves a single conversation: GET returns it together
// with its messages.
func (m *Main) HandleConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := r.PathValue("id")
	conv, ok, err := m.store.Conversation(r.Context(), id)
	if err != nil {
		m.logger.Error("failed to load conversation", slog.String(errLoggerKey, err.Error()))
		m.respondError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if !ok {
		m.respondError(w, http.StatusNotFound, "conversation not found")
		return
	}

	messages, err := m.store.Messages(r.Context(), id)
	if err != nil {
		m.logger.Error("failed to load messages", slog.String(errLoggerKey, err.Error()))
		m.respondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	m.respondJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     messages,
	})
}

// HandleStar toggles or sets the starred flag of a conversation. A JSON body
// of the form {"starred": true} sets the flag explicitly; an empty body
// toggles the current value.
func (m *Main) HandleStar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := r.PathValue("id")
	conv, ok, err := m.store.Conversation(r.Context(), id)
	if err != nil {
		m.logger.Error("failed to load conversation", slog.String(errLoggerKey, err.Error()))
		m.respondError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if !ok {
		m.respondError(w, http.StatusNotFound, "conversation not found")
		return
	}

	starred := !conv.Starred

	var payload struct {
		Starred *bool `json:"starred"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		m.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Starred != nil {
		starred = *payload.Starred
	}

	conv.Starred = starred
	if err := m.store.UpdateConversation(r.Context(), conv); err != nil {
		m.logger.Error("failed to update conversation", slog.String(errLoggerKey, err.Error()))
		m.respondError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}

	m.dispatch(transcript.ConversationMetadata{
		ConversationID: conv.ID,
		Starred:        &starred,
	})

	m.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"id":      conv.ID,
		"starred": starred,
	})
}
