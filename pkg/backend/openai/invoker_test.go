package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/veyra/pkg/backend"
	"github.com/go-go-golems/veyra/pkg/chaterrors"
	"github.com/go-go-golems/veyra/pkg/conversation"
)

func TestToChatMessages(t *testing.T) {
	msgs := []backend.CompletionMessage{
		{Role: "user", Content: "look", Attachments: []conversation.Attachment{
			{Name: "cat.png", MimeType: "image/png", URL: "https://files/cat.png"},
			{Name: "notes.pdf", MimeType: "application/pdf", URL: "https://files/notes.pdf"},
		}},
		{Role: "assistant", Content: "a cat"},
	}

	out := ToChatMessages(msgs)
	require.Len(t, out, 2)
	require.Len(t, out[0].MultiContent, 2)
	assert.Equal(t, go_openai.ChatMessagePartTypeText, out[0].MultiContent[0].Type)
	assert.Contains(t, out[0].MultiContent[0].Text, "notes.pdf")
	assert.Equal(t, "https://files/cat.png", out[0].MultiContent[1].ImageURL.URL)
	assert.Equal(t, go_openai.ChatMessageRoleAssistant, out[1].Role)
	assert.Equal(t, "a cat", out[1].Content)
}

func TestCompleteAgainstFakeAPI(t *testing.T) {
	var gotAuth string
	var gotReq go_openai.ChatCompletionRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"gpt-4o-2024","choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}]}`))
	}))
	defer ts.Close()

	inv := NewInvoker("", ts.URL+"/v1")
	resp, err := inv.Complete(context.Background(), "user-key", &backend.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []backend.CompletionMessage{{Role: "user", Content: "Hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Content)
	assert.Equal(t, "gpt-4o-2024", resp.Model)
	assert.Equal(t, "Bearer user-key", gotAuth)
	assert.Equal(t, "gpt-4o", gotReq.Model)
}

func TestCompleteWithoutKey(t *testing.T) {
	inv := NewInvoker("", "http://127.0.0.1:1")
	_, err := inv.Complete(context.Background(), "", &backend.CompletionRequest{Model: "gpt-4"})
	assert.True(t, errors.Is(err, chaterrors.ErrUnauthenticated))
}

func TestCompleteUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer ts.Close()

	inv := NewInvoker("sk-test", ts.URL+"/v1")
	_, err := inv.Complete(context.Background(), "", &backend.CompletionRequest{
		Model:    "nope",
		Messages: []backend.CompletionMessage{{Role: "user", Content: "Hi"}},
	})
	assert.True(t, errors.Is(err, chaterrors.ErrUpstreamFailure))
}
