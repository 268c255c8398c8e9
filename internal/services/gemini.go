package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"

	"github.com/marcosvr/gemchat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Gemini provides an interface to the Google generative language API for
// chat completions. It implements the LLM interface and handles streaming
// responses over server-sent events.
type Gemini struct {
	apiKey       string
	model        string
	systemPrompt string

	client *http.Client
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

const geminiAPIEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// NewGemini creates a new Gemini instance with the specified API key, model
// name, and system prompt. It initializes an HTTP client for API
// communication and returns a configured instance ready for chat
// interactions.
func NewGemini(apiKey, model, systemPrompt string) Gemini {
	return Gemini{
		apiKey:       apiKey,
		model:        model,
		systemPrompt: systemPrompt,
		client:       &http.Client{},
	}
}

func geminiContents(messages []models.Message) []geminiContent {
	contents := make([]geminiContent, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		// The API names the assistant role "model".
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	return contents
}

// Chat streams responses from the generative language API for a given
// sequence of messages. It returns an iterator that yields response chunks
// and potential errors. The context can be used to cancel ongoing requests.
func (g Gemini) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reqBody := geminiRequest{
			Contents: geminiContents(messages),
		}
		if g.systemPrompt != "" {
			reqBody.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: g.systemPrompt}},
			}
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield("", fmt.Errorf("error marshaling request: %w", err))
			return
		}

		endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
			geminiAPIEndpoint, g.model, url.QueryEscape(g.apiKey))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonBody))
		if err != nil {
			yield("", fmt.Errorf("error creating request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			var res geminiResponse
			if err := json.NewDecoder(resp.Body).Decode(&res); err == nil && res.Error != nil {
				yield("", fmt.Errorf("gemini error %s: %s", res.Error.Status, res.Error.Message))
				return
			}
			yield("", fmt.Errorf("gemini returned status %d", resp.StatusCode))
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield("", fmt.Errorf("error reading response: %w", err))
				return
			}

			var res geminiResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				yield("", fmt.Errorf("error unmarshaling response: %w", err))
				return
			}
			if res.Error != nil {
				yield("", fmt.Errorf("gemini error %s: %s", res.Error.Status, res.Error.Message))
				return
			}
			for _, cand := range res.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					if !yield(part.Text, nil) {
						return
					}
				}
			}
		}
	}
}

// GenerateTitle produces a conversation title from the first user message
// using the non-streaming completion endpoint.
func (g Gemini) GenerateTitle(ctx context.Context, message string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: message}}},
		},
	}
	if g.systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: g.systemPrompt}},
		}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		geminiAPIEndpoint, g.model, url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	var res geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}
	if res.Error != nil {
		return "", fmt.Errorf("gemini error %s: %s", res.Error.Status, res.Error.Message)
	}
	if len(res.Candidates) == 0 || len(res.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no candidates found")
	}

	return res.Candidates[0].Content.Parts[0].Text, nil
}
