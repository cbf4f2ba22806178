package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MegaGrindStone/llamachat/internal/models"
	"github.com/MegaGrindStone/llamachat/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicComplete(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		System    string `json:"system"`
		MaxTokens int    `json:"max_tokens"`
		Stream    *bool  `json:"stream"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"Hello"},{"type":"tool_use"},{"type":"text","text":" world"}]}`)
	}))
	defer srv.Close()

	a := services.NewAnthropic("secret", srv.URL+"/v1", "claude", "You are a helpful AI assistant.", 0, discardLogger())

	reply, err := a.Complete(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", reply)

	assert.Equal(t, "claude", got.Model)
	assert.Equal(t, "You are a helpful AI assistant.", got.System)
	assert.Equal(t, services.DefaultAnthropicMaxTokens, got.MaxTokens)
	require.NotNil(t, got.Stream)
	assert.False(t, *got.Stream)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestAnthropicErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr any
	}{
		{name: "upstream", status: http.StatusTooManyRequests, body: `{"type":"error"}`, wantErr: &services.UpstreamError{}},
		{name: "bad json", status: http.StatusOK, body: `{`, wantErr: &services.MalformedResponseError{}},
		{name: "no text", status: http.StatusOK, body: `{"content":[]}`, wantErr: &services.MalformedResponseError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			a := services.NewAnthropic("k", srv.URL, "claude", "", 16, discardLogger())
			_, err := a.Complete(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}})
			require.Error(t, err)

			switch want := tt.wantErr.(type) {
			case *services.UpstreamError:
				assert.True(t, errors.As(err, &want))
				assert.Equal(t, "API Error: 429 Too Many Requests - "+tt.body, err.Error())
			case *services.MalformedResponseError:
				assert.True(t, errors.As(err, &want))
			}
		})
	}
}
