package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/llamachat/internal/models"
)

// LlamaCpp completes chats against an OpenAI-style chat completions endpoint such as the one exposed
// by llama.cpp. It always requests a single non-streaming completion.
type LlamaCpp struct {
	endpoint     string
	model        string
	systemPrompt string

	client *http.Client

	logger *slog.Logger
}

type llamaCppChatRequest struct {
	Model    string            `json:"model"`
	Messages []llamaCppMessage `json:"messages"`
	Stream   bool              `json:"stream"`
}

type llamaCppMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llamaCppResponse struct {
	Choices []llamaCppChoice `json:"choices"`
}

type llamaCppChoice struct {
	Message *llamaCppMessage `json:"message"`
}

// DefaultLlamaCppPath is the chat completions path of the local inference engine.
const DefaultLlamaCppPath = "/engines/llama.cpp/v1/chat/completions"

// NewLlamaCpp creates a new LlamaCpp instance posting to host+path. A nil client means
// http.DefaultClient.
func NewLlamaCpp(host, path, model, systemPrompt string, client *http.Client, logger *slog.Logger) LlamaCpp {
	if path == "" {
		path = DefaultLlamaCppPath
	}
	if client == nil {
		client = http.DefaultClient
	}
	return LlamaCpp{
		endpoint:     strings.TrimSuffix(host, "/") + "/" + strings.TrimPrefix(path, "/"),
		model:        model,
		systemPrompt: systemPrompt,
		client:       client,
		logger:       logger.With(slog.String("module", "llamacpp")),
	}
}

// Complete sends the system preamble followed by messages and returns the content of the first choice.
func (l LlamaCpp) Complete(ctx context.Context, messages []models.Message) (string, error) {
	msgs := make([]llamaCppMessage, 0, len(messages)+1)
	msgs = append(msgs, llamaCppMessage{
		Role:    string(models.RoleSystem),
		Content: l.systemPrompt,
	})
	for _, msg := range messages {
		msgs = append(msgs, llamaCppMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	reqBody, err := json.Marshal(llamaCppChatRequest{
		Model:    l.model,
		Messages: msgs,
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	l.logger.Debug("Request", slog.String("endpoint", l.endpoint), slog.Int("messages", len(msgs)))

	resp, err := l.client.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("error reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		l.logger.Error("API Error",
			slog.Int("status", resp.StatusCode),
			slog.String("statusText", resp.Status),
			slog.String("body", string(body)))
		return "", &UpstreamError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	var res llamaCppResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", &MalformedResponseError{Err: err}
	}
	if len(res.Choices) == 0 {
		return "", &MalformedResponseError{Err: errors.New("no choices found")}
	}
	if res.Choices[0].Message == nil {
		return "", &MalformedResponseError{Err: errors.New("first choice has no message")}
	}

	l.logger.Debug("API Response", slog.String("body", string(body)))

	return res.Choices[0].Message.Content, nil
}
