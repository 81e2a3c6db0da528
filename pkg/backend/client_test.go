package backend_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/veyra/pkg/backend"
	"github.com/go-go-golems/veyra/pkg/backend/mock"
	"github.com/go-go-golems/veyra/pkg/chaterrors"
	"github.com/go-go-golems/veyra/pkg/conversation"
)

func newTestClient(t *testing.T, options ...mock.Option) (*backend.Client, *mock.Server) {
	t.Helper()
	srv := mock.NewServer(options...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return backend.NewClient(ts.URL), srv
}

func bytesFile(name, mimeType string, data []byte) *backend.File {
	return &backend.File{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func TestCompleteRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	history := []*conversation.Message{conversation.NewMessage(conversation.RoleUser, "Hi")}

	resp, err := client.Complete(context.Background(), "tok", backend.NewCompletionRequest("", "gpt-4o", history))
	require.NoError(t, err)
	assert.Equal(t, "You said: Hi", resp.Content)
	assert.Equal(t, "gpt-4o", resp.Model)
}

func TestMissingTokenIsUnauthenticated(t *testing.T) {
	client, srv := newTestClient(t)
	_, err := client.ListMemories(context.Background(), "")
	assert.True(t, errors.Is(err, chaterrors.ErrUnauthenticated))
	assert.Equal(t, 0, srv.Requests(http.MethodGet, "/api/memories"))
}

func TestRejectedTokenIsUnauthenticated(t *testing.T) {
	client, _ := newTestClient(t, mock.WithTokens("good"))
	_, err := client.ListMemories(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, chaterrors.ErrUnauthenticated))
}

func TestUpstreamErrorCarriesServerMessage(t *testing.T) {
	client, srv := newTestClient(t)
	srv.FailNext(http.MethodPost, "/api/chat/completions", http.StatusBadRequest, "model not available")

	history := []*conversation.Message{conversation.NewMessage(conversation.RoleUser, "Hi")}
	_, err := client.Complete(context.Background(), "tok", backend.NewCompletionRequest("", "gpt-4", history))
	require.Error(t, err)
	assert.True(t, errors.Is(err, chaterrors.ErrUpstreamFailure))
	assert.Equal(t, "model not available", chaterrors.UserMessage(err))

	var se *backend.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Status)
}

func TestPostIsNotRetried(t *testing.T) {
	client, srv := newTestClient(t)
	srv.FailNext(http.MethodPost, "/api/chat/completions", http.StatusBadGateway, "upstream down")

	history := []*conversation.Message{conversation.NewMessage(conversation.RoleUser, "Hi")}
	_, err := client.Complete(context.Background(), "tok", backend.NewCompletionRequest("", "gpt-4", history))
	assert.True(t, errors.Is(err, chaterrors.ErrUpstreamFailure))
	assert.Equal(t, 1, srv.Requests(http.MethodPost, "/api/chat/completions"))
}

func TestGetIsRetriedOnServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"memories":[{"id":"m1","memory":"likes go","created_at":"2024-05-01T12:00:00Z"}]}`))
	}))
	defer ts.Close()

	client := backend.NewClient(ts.URL)
	memories, err := client.ListMemories(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "likes go", memories[0].Memory)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUploadFile(t *testing.T) {
	client, _ := newTestClient(t)
	att, err := client.Upload(context.Background(), "tok", bytesFile("notes.txt", "text/plain", []byte("hello")))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(att.ID, "file_"))
	assert.Equal(t, "notes.txt", att.Name)
	assert.Equal(t, "text/plain", att.MimeType)
	assert.Equal(t, int64(5), att.Size)
	assert.NotEmpty(t, att.URL)
}

func TestServerRejectsLargeUpload(t *testing.T) {
	client, _ := newTestClient(t)
	data := make([]byte, mock.DefaultMaxUploadSize+1)
	_, err := client.Upload(context.Background(), "tok", bytesFile("big.bin", "application/zip", data))
	assert.True(t, errors.Is(err, chaterrors.ErrPayloadTooLarge))
}

func TestMemories(t *testing.T) {
	client, srv := newTestClient(t, mock.WithMemories(
		backend.Memory{ID: "m1", Memory: "prefers dark mode", CreatedAt: time.Now()},
	))

	memories, err := client.ListMemories(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, memories, 1)

	require.NoError(t, client.DeleteAllMemories(context.Background(), "tok"))
	assert.Empty(t, srv.Memories())

	memories, err = client.ListMemories(context.Background(), "tok")
	require.NoError(t, err)
	assert.NotNil(t, memories)
	assert.Empty(t, memories)
}

func TestLogoutRevokesToken(t *testing.T) {
	client, _ := newTestClient(t)
	require.NoError(t, client.Logout(context.Background(), "tok"))

	_, err := client.ListMemories(context.Background(), "tok")
	assert.True(t, errors.Is(err, chaterrors.ErrUnauthenticated))
}

func TestConversationLifecycle(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	conv, err := client.CreateConversation(ctx, "tok", "gpt-4")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(conv.ID, "conv_"))

	history := []*conversation.Message{conversation.NewMessage(conversation.RoleUser, "What is Go?")}
	_, err = client.Complete(ctx, "tok", backend.NewCompletionRequest(conv.ID, "gpt-4", history))
	require.NoError(t, err)

	msgs, err := client.ListMessages(ctx, "tok", conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)

	list, err := client.ListConversations(ctx, "tok")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "What is Go?", list[0].Title)

	require.NoError(t, client.DeleteConversation(ctx, "tok", conv.ID))
	err = client.DeleteConversation(ctx, "tok", conv.ID)
	assert.True(t, errors.Is(err, chaterrors.ErrNotFound))
}

func TestRateLimitPacesRequests(t *testing.T) {
	client, srv := newTestClient(t)
	client.WithRateLimit(1, 1)

	ctx := context.Background()
	_, err := client.ListMemories(ctx, "tok")
	require.NoError(t, err)

	// the next token is a second away, past the deadline
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = client.ListMemories(short, "tok")
	assert.True(t, errors.Is(err, chaterrors.ErrUpstreamFailure))
	assert.Equal(t, 1, srv.Requests(http.MethodGet, "/api/memories"))
}
