package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/llamachat/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama completes chats against an Ollama server. Responses are requested without streaming.
type Ollama struct {
	model        string
	systemPrompt string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name.
func NewOllama(host, model, systemPrompt string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

// Complete sends the conversation to Ollama's chat endpoint and returns the reply content.
func (o Ollama) Complete(ctx context.Context, messages []models.Message) (string, error) {
	msgs := make([]api.Message, 0, len(messages)+1)
	msgs = append(msgs, api.Message{
		Role:    string(models.RoleSystem),
		Content: o.systemPrompt,
	})
	for _, msg := range messages {
		msgs = append(msgs, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	f := false
	req := api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &f,
	}

	var content string
	received := false
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		content = res.Message.Content
		received = true
		return nil
	}); err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			o.logger.Error("API Error", slog.Int("status", statusErr.StatusCode), slog.String("body", statusErr.ErrorMessage))
			return "", &UpstreamError{
				StatusCode: statusErr.StatusCode,
				Status:     statusErr.Status,
				Body:       statusErr.ErrorMessage,
			}
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return "", &NetworkError{Err: err}
		}
		return "", fmt.Errorf("error sending request: %w", err)
	}

	if !received {
		return "", &MalformedResponseError{Err: errors.New("empty response")}
	}

	return content, nil
}
