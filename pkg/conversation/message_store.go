package conversation

import (
	"sync"

	"github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/veyra/pkg/chaterrors"
)

// MessageStore is the ordered message log of every loaded conversation.
//
// A conversation is "loaded" once ReplaceAll has been called for it (a freshly
// created conversation is loaded with an empty history). Appending to a
// conversation that is not loaded is an InvalidState error.
type MessageStore struct {
	mu   sync.RWMutex
	logs map[string][]*Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		logs: make(map[string][]*Message),
	}
}

// ReplaceAll bulk-loads the history of a conversation, replacing whatever was
// there before.
func (s *MessageStore) ReplaceAll(conversationID string, messages []*Message) {
	msgs := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		msgs = append(msgs, m.Clone())
	}

	s.mu.Lock()
	s.logs[conversationID] = msgs
	s.mu.Unlock()

	log.Debug().
		Str("conversation_id", conversationID).
		Int("message_count", len(msgs)).
		Msg("loaded conversation history")
}

func (s *MessageStore) Append(conversationID string, msg *Message) error {
	const op = "MessageStore.Append"
	if msg == nil {
		return chaterrors.New(chaterrors.KindInvalidState, op, "message is nil")
	}
	if !msg.Role.Valid() {
		return chaterrors.Newf(chaterrors.KindInvalidState, op, "invalid role %q", msg.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.logs[conversationID]
	if !ok {
		return chaterrors.Newf(chaterrors.KindInvalidState, op, "conversation %s is not loaded", conversationID)
	}
	if indexOf(msgs, msg.ID) >= 0 {
		return chaterrors.Newf(chaterrors.KindInvalidState, op, "message %s already exists", msg.ID)
	}
	s.logs[conversationID] = append(msgs, msg.Clone())

	log.Trace().
		Str("conversation_id", conversationID).
		Str("message_id", msg.ID).
		Str("role", string(msg.Role)).
		Int("message_count", len(msgs)+1).
		Msg("appended message")

	return nil
}

// Update replaces the content of a message in place. It reports whether the
// content actually changed; an unchanged content is a no-op and leaves
// IsEdited alone.
func (s *MessageStore) Update(conversationID string, messageID string, content string) (bool, error) {
	const op = "MessageStore.Update"

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.logs[conversationID]
	if !ok {
		return false, chaterrors.Newf(chaterrors.KindInvalidState, op, "conversation %s is not loaded", conversationID)
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return false, chaterrors.Newf(chaterrors.KindNotFound, op, "message %s not found", messageID)
	}

	msg := msgs[idx]
	if msg.Content == content {
		return false, nil
	}
	msg.Content = content
	if msg.Role == RoleUser {
		msg.IsEdited = true
	}
	return true, nil
}

// TruncateAfter removes every message strictly after messageID and returns the
// number of removed messages.
func (s *MessageStore) TruncateAfter(conversationID string, messageID string) (int, error) {
	const op = "MessageStore.TruncateAfter"

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.logs[conversationID]
	if !ok {
		return 0, chaterrors.Newf(chaterrors.KindInvalidState, op, "conversation %s is not loaded", conversationID)
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return 0, chaterrors.Newf(chaterrors.KindNotFound, op, "message %s not found", messageID)
	}

	removed := len(msgs) - idx - 1
	for i := idx + 1; i < len(msgs); i++ {
		msgs[i] = nil
	}
	s.logs[conversationID] = msgs[:idx+1]

	if removed > 0 {
		log.Debug().
			Str("conversation_id", conversationID).
			Str("message_id", messageID).
			Int("removed", removed).
			Msg("truncated conversation")
	}

	return removed, nil
}

// Messages returns a deep copy of the history of a loaded conversation.
func (s *MessageStore) Messages(conversationID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.logs[conversationID]
	if !ok {
		return nil, chaterrors.Newf(chaterrors.KindInvalidState, "MessageStore.Messages", "conversation %s is not loaded", conversationID)
	}
	return clone.Clone(msgs).([]*Message), nil
}

func (s *MessageStore) Get(conversationID string, messageID string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.logs[conversationID]
	if !ok {
		return nil, chaterrors.Newf(chaterrors.KindInvalidState, "MessageStore.Get", "conversation %s is not loaded", conversationID)
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return nil, chaterrors.Newf(chaterrors.KindNotFound, "MessageStore.Get", "message %s not found", messageID)
	}
	return msgs[idx].Clone(), nil
}

// IndexOf returns the position of messageID, or a NotFound error.
func (s *MessageStore) IndexOf(conversationID string, messageID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := indexOf(s.logs[conversationID], messageID)
	if idx < 0 {
		return -1, chaterrors.Newf(chaterrors.KindNotFound, "MessageStore.IndexOf", "message %s not found", messageID)
	}
	return idx, nil
}

func (s *MessageStore) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[conversationID])
}

func (s *MessageStore) IsLoaded(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.logs[conversationID]
	return ok
}

// Drop forgets a conversation's history entirely.
func (s *MessageStore) Drop(conversationID string) {
	s.mu.Lock()
	delete(s.logs, conversationID)
	s.mu.Unlock()
}

func indexOf(msgs []*Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}
