package cmds

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/veyra/pkg/backend/mock"
)

func TestOpenAIInvokerUsesLocalConversations(t *testing.T) {
	srv := mock.NewServer(mock.WithTokens("tok"))
	s := newTestSettings(t, srv)
	s.OpenAI.APIKey = "sk-test"
	s.OpenAI.BaseURL = "http://localhost:11434/v1"

	app := NewApp(s)
	conv, err := app.Controller.NewConversation(context.Background())
	require.NoError(t, err)
	assert.True(t, conv.Provisional)
	assert.Equal(t, 0, srv.Requests("POST", "/api/conversations"))
}

func TestBackendConversationsByDefault(t *testing.T) {
	srv := mock.NewServer(mock.WithTokens("tok"))
	app := NewApp(newTestSettings(t, srv))

	conv, err := app.Controller.NewConversation(context.Background())
	require.NoError(t, err)
	assert.False(t, conv.Provisional)
	assert.Equal(t, 1, srv.Requests("POST", "/api/conversations"))
}
