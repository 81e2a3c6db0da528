// Package backend holds the contracts of the services the chat core talks to
// (model invocation, file storage, long-term memory, session invalidation and
// conversation persistence) and an HTTP client implementing all of them
// against the Veyra API.
//
// Every call takes the bearer credential explicitly. Nothing in this package
// looks a credential up on its own.
package backend

import (
	"context"
	"io"
	"time"

	"github.com/go-go-golems/veyra/pkg/conversation"
)

// CompletionMessage is one history entry of a completion request. Besides
// role, content and attachments it carries the message identity so that a
// backend recording the turn stores the history exactly as the client has it.
type CompletionMessage struct {
	ID          string                    `json:"id,omitempty"`
	Role        string                    `json:"role"`
	Content     string                    `json:"content"`
	Model       string                    `json:"model,omitempty"`
	Timestamp   time.Time                 `json:"timestamp"`
	IsEdited    bool                      `json:"is_edited,omitempty"`
	Attachments []conversation.Attachment `json:"attachments,omitempty"`
}

// Message rebuilds the conversation message described by m.
func (m CompletionMessage) Message() *conversation.Message {
	options := []conversation.MessageOption{conversation.WithAttachments(m.Attachments...)}
	if m.ID != "" {
		options = append(options, conversation.WithID(m.ID))
	}
	if !m.Timestamp.IsZero() {
		options = append(options, conversation.WithTimestamp(m.Timestamp))
	}
	ret := conversation.NewMessage(conversation.Role(m.Role), m.Content, options...)
	ret.Model = m.Model
	ret.IsEdited = m.IsEdited
	return ret
}

type CompletionRequest struct {
	ConversationID string              `json:"conversation_id,omitempty"`
	Model          string              `json:"model"`
	Messages       []CompletionMessage `json:"messages"`
}

// NewCompletionRequest builds a request from an ordered history.
func NewCompletionRequest(conversationID string, model string, history []*conversation.Message) *CompletionRequest {
	ret := &CompletionRequest{
		ConversationID: conversationID,
		Model:          model,
		Messages:       make([]CompletionMessage, 0, len(history)),
	}
	for _, m := range history {
		ret.Messages = append(ret.Messages, CompletionMessage{
			ID:          m.ID,
			Role:        string(m.Role),
			Content:     m.Content,
			Model:       m.Model,
			Timestamp:   m.Timestamp,
			IsEdited:    m.IsEdited,
			Attachments: append([]conversation.Attachment(nil), m.Attachments...),
		})
	}
	return ret
}

// CompletionResponse is the reply. A backend that records turns sets
// MessageID and CreatedAt to the identity it stored the reply under.
type CompletionResponse struct {
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	MessageID string    `json:"message_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type ModelInvoker interface {
	Complete(ctx context.Context, token string, req *CompletionRequest) (*CompletionResponse, error)
}

// File is a local file about to be uploaded. Open is only called once the
// local checks passed.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

type FileStore interface {
	Upload(ctx context.Context, token string, file *File) (*conversation.Attachment, error)
}

type Memory struct {
	ID        string    `json:"id" yaml:"id"`
	Memory    string    `json:"memory" yaml:"memory"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

type MemoryStore interface {
	ListMemories(ctx context.Context, token string) ([]Memory, error)
	DeleteAllMemories(ctx context.Context, token string) error
}

type SessionInvalidator interface {
	Logout(ctx context.Context, token string) error
}

type ConversationBackend interface {
	ListConversations(ctx context.Context, token string) ([]*conversation.Conversation, error)
	CreateConversation(ctx context.Context, token string, model string) (*conversation.Conversation, error)
	ListMessages(ctx context.Context, token string, conversationID string) ([]*conversation.Message, error)
	DeleteConversation(ctx context.Context, token string, conversationID string) error
}
