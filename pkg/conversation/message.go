package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// AttachmentsPlaceholder is the message body used when a message is sent with
// attachments but without any text.
const AttachmentsPlaceholder = "Here are the attached files:"

// Attachment is a stored file reference. All fields are assigned by the file
// storage backend and never change afterwards.
type Attachment struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	MimeType string `json:"mime_type" yaml:"mime_type"`
	Size     int64  `json:"size" yaml:"size"`
	URL      string `json:"url" yaml:"url"`
}

func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Model     string    `json:"model,omitempty" yaml:"model,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	IsEdited  bool      `json:"is_edited,omitempty" yaml:"is_edited,omitempty"`

	// Attachments are copied into the message when it is created and are not
	// touched by later edits of Content.
	Attachments []Attachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

type MessageOption func(*Message)

func WithID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTimestamp(t time.Time) MessageOption {
	return func(m *Message) {
		m.Timestamp = t
	}
}

func WithAttachments(attachments ...Attachment) MessageOption {
	return func(m *Message) {
		m.Attachments = append([]Attachment(nil), attachments...)
	}
}

func NewMessage(role Role, content string, options ...MessageOption) *Message {
	ret := &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// NewUserMessage builds the outgoing user message. Empty text with attachments
// gets the placeholder body.
func NewUserMessage(text string, attachments []Attachment, options ...MessageOption) *Message {
	content := strings.TrimSpace(text)
	if content == "" && len(attachments) > 0 {
		content = AttachmentsPlaceholder
	}
	options = append([]MessageOption{WithAttachments(attachments...)}, options...)
	return NewMessage(RoleUser, content, options...)
}

func NewAssistantMessage(content string, model string, options ...MessageOption) *Message {
	ret := NewMessage(RoleAssistant, content, options...)
	ret.Model = model
	return ret
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	return clone.Clone(m).(*Message)
}

// Preview returns the content collapsed to one line and cut to maxRunes.
func (m *Message) Preview(maxRunes int) string {
	return preview(m.Content, maxRunes)
}

func preview(s string, maxRunes int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
