package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/marcosvr/gemchat/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// Groq provides an implementation of the LLM interface backed by Groq's
// OpenAI-compatible chat completion API.
type Groq struct {
	model        string
	systemPrompt string

	client *goopenai.Client
}

const groqAPIEndpoint = "https://api.groq.com/openai/v1"

// NewGroq creates a new Groq instance with the specified API key, model name,
// and system prompt.
func NewGroq(apiKey, model, systemPrompt string) Groq {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = groqAPIEndpoint

	return Groq{
		model:        model,
		systemPrompt: systemPrompt,
		client:       goopenai.NewClientWithConfig(cfg),
	}
}

func groqMessages(messages []models.Message) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return msgs
}

// Chat streams responses from the chat completion API for a given sequence
// of messages. It returns an iterator that yields response chunks and
// potential errors. The context can be used to cancel ongoing requests.
func (g Groq) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := groqMessages(messages)
		if g.systemPrompt != "" {
			msgs = slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: g.systemPrompt,
			})
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := g.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
			Model:    g.model,
			Messages: msgs,
			Stream:   true,
		})
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			if delta := response.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
	}
}

// GenerateTitle produces a conversation title from the first user message
// with a single non-streaming completion.
func (g Groq) GenerateTitle(ctx context.Context, message string) (string, error) {
	msgs := []goopenai.ChatCompletionMessage{
		{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: g.systemPrompt,
		},
		{
			Role:    goopenai.ChatMessageRoleUser,
			Content: message,
		},
	}

	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    g.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices found")
	}

	return resp.Choices[0].Message.Content, nil
}
