package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/MegaGrindStone/llamachat/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI completes chats through any OpenAI-compatible API using the go-openai client.
type OpenAI struct {
	model        string
	systemPrompt string

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance. An empty baseURL keeps the client's default endpoint.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

// Complete is a wrapper around the OpenAI chat completion API.
func (o OpenAI) Complete(ctx context.Context, messages []models.Message) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	msgs = append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: o.systemPrompt,
	})
	for _, msg := range messages {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	})
	if err != nil {
		return "", o.mapError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &MalformedResponseError{Err: errors.New("no choices found")}
	}

	return resp.Choices[0].Message.Content, nil
}

func (o OpenAI) mapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		o.logger.Error("API Error", slog.Int("status", apiErr.HTTPStatusCode), slog.String("message", apiErr.Message))
		return &UpstreamError{
			StatusCode: apiErr.HTTPStatusCode,
			Status:     apiErr.HTTPStatus,
			Body:       apiErr.Message,
		}
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		o.logger.Error("API Error", slog.Int("status", reqErr.HTTPStatusCode), slog.String("body", string(reqErr.Body)))
		return &UpstreamError{
			StatusCode: reqErr.HTTPStatusCode,
			Status:     reqErr.HTTPStatus,
			Body:       string(reqErr.Body),
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &NetworkError{Err: err}
	}

	return fmt.Errorf("error sending request: %w", err)
}
