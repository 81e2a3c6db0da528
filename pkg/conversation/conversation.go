package conversation

import (
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v3"
)

const (
	DefaultTitle = "New Conversation"

	// TitlePreviewLength is the number of runes of the first user message used
	// as a derived title.
	TitlePreviewLength = 50

	provisionalPrefix = "local_"
)

type Conversation struct {
	ID            string    `json:"id" yaml:"id"`
	Title         string    `json:"title,omitempty" yaml:"title,omitempty"`
	Model         string    `json:"model" yaml:"model"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	LastMessageAt time.Time `json:"last_message_at" yaml:"last_message_at"`

	// Provisional is set for ids assigned locally, before (or without) a
	// backend confirming the conversation.
	Provisional bool `json:"provisional,omitempty" yaml:"provisional,omitempty"`

	// titleSet is true once the title was chosen explicitly, which stops the
	// derivation from the first user message.
	titleSet bool
	seq      uint64
}

// NewProvisional returns a conversation with a locally generated id.
func NewProvisional(model string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:            provisionalPrefix + shortuuid.New(),
		Model:         model,
		CreatedAt:     now,
		LastMessageAt: now,
		Provisional:   true,
	}
}

func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// GetTitle returns the title, or DefaultTitle while the conversation has none.
func (c *Conversation) GetTitle() string {
	if c.Title == "" {
		return DefaultTitle
	}
	return c.Title
}

func (c *Conversation) clone() *Conversation {
	ret := *c
	return &ret
}

// DeriveTitle builds a sidebar title from the first user message content.
func DeriveTitle(content string) string {
	return preview(content, TitlePreviewLength)
}
