package cmds

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/veyra/pkg/conversation"
	"github.com/go-go-golems/veyra/pkg/events"
)

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// printer renders chat events on the terminal. Replies of conversations that
// are not active are prefixed with their title.
type printer struct {
	out   io.Writer
	convs *conversation.ConversationStore
}

var _ events.Handler = (*printer)(nil)

func (p *printer) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

func (p *printer) HandleNotification(_ context.Context, e *events.EventNotification) error {
	switch e.Level {
	case events.LevelError:
		p.printf("! %s\n", e.Message)
	default:
		p.printf("* %s\n", e.Message)
	}
	return nil
}

func (p *printer) HandleTurnState(_ context.Context, e *events.EventTurnState) error {
	log.Debug().Str("conversation_id", e.Metadata().ConversationID).Str("state", e.State).Msg("turn state")
	return nil
}

func (p *printer) HandleMessageAppended(_ context.Context, e *events.EventMessageAppended) error {
	if e.Role != string(conversation.RoleAssistant) {
		return nil
	}
	convID := e.Metadata().ConversationID
	if convID != p.convs.ActiveID() {
		title := convID
		if c, err := p.convs.Get(convID); err == nil {
			title = c.GetTitle()
		}
		p.printf("[%s] %s: %s\n", title, conversation.ModelDisplayName(e.Model), e.Content)
		return nil
	}
	p.printf("%s: %s\n", conversation.ModelDisplayName(e.Model), e.Content)
	return nil
}

func (p *printer) HandleUpload(_ context.Context, e *events.EventUpload) error {
	switch e.Status {
	case events.UploadStarted:
		p.printf("* uploading %s\n", e.Name)
	case events.UploadCompleted:
		p.printf("* attached %s (%s)\n", e.Name, e.AttachmentID)
	case events.UploadRemoved:
		p.printf("* removed %s\n", e.Name)
	case events.UploadFailed:
		// the notification carries the reason
	}
	return nil
}

func (p *printer) HandleConversation(_ context.Context, e *events.EventConversation) error {
	convID := e.Metadata().ConversationID
	switch e.Action {
	case events.ConversationCreated:
		p.printf("* new conversation %s\n", convID)
	case events.ConversationSelected:
		if c, err := p.convs.Get(convID); err == nil {
			p.printf("* switched to %s (%s)\n", c.GetTitle(), conversation.ModelDisplayName(c.Model))
		}
	case events.ConversationDeleted:
		p.printf("* deleted conversation %s\n", convID)
	case events.ConversationModel:
		p.printf("* model set to %s\n", conversation.ModelDisplayName(e.Model))
	}
	return nil
}
