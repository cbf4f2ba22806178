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

// Anthropic completes chats with the Anthropic Messages API. The system preamble travels in the
// request's system field rather than as a message.
type Anthropic struct {
	endpoint     string
	apiKey       string
	model        string
	systemPrompt string
	maxTokens    int

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	// DefaultAnthropicBaseURL is the public Anthropic API.
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	// DefaultAnthropicMaxTokens caps replies when no limit is configured.
	DefaultAnthropicMaxTokens = 1024

	anthropicVersion = "2023-06-01"
)

// NewAnthropic creates a new Anthropic instance. An empty baseURL means DefaultAnthropicBaseURL and a
// non-positive maxTokens means DefaultAnthropicMaxTokens.
func NewAnthropic(apiKey, baseURL, model, systemPrompt string, maxTokens int, logger *slog.Logger) Anthropic {
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	return Anthropic{
		endpoint:     strings.TrimSuffix(baseURL, "/") + "/messages",
		apiKey:       apiKey,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "anthropic")),
	}
}

// Complete sends messages and returns the concatenated text blocks of the reply.
func (a Anthropic) Complete(ctx context.Context, messages []models.Message) (string, error) {
	msgs := make([]anthropicMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = anthropicMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	reqBody, err := json.Marshal(anthropicChatRequest{
		Model:     a.model,
		Messages:  msgs,
		System:    a.systemPrompt,
		MaxTokens: a.maxTokens,
		Stream:    false,
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Err: fmt.Errorf("error reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.logger.Error("API Error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return "", &UpstreamError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	var res anthropicResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", &MalformedResponseError{Err: err}
	}

	var sb strings.Builder
	found := false
	for _, c := range res.Content {
		if c.Type != "text" {
			continue
		}
		sb.WriteString(c.Text)
		found = true
	}
	if !found {
		return "", &MalformedResponseError{Err: errors.New("no text content found")}
	}

	return sb.String(), nil
}
