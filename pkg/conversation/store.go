package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/veyra/pkg/chaterrors"
)

// ConversationStore holds the set of known conversations and the active
// pointer. History lives in the MessageStore passed to NewConversationStore;
// creating and removing conversations keeps both in step.
type ConversationStore struct {
	mu       sync.RWMutex
	convs    map[string]*Conversation
	activeID string
	seq      uint64

	// lastModel is the most recently selected model, used as the default for
	// new conversations.
	lastModel string

	messages *MessageStore
}

func NewConversationStore(messages *MessageStore, defaultModel string) *ConversationStore {
	if messages == nil {
		messages = NewMessageStore()
	}
	return &ConversationStore{
		convs:     make(map[string]*Conversation),
		lastModel: defaultModel,
		messages:  messages,
	}
}

func (s *ConversationStore) Messages() *MessageStore {
	return s.messages
}

// DefaultModel is the model a new conversation starts with.
func (s *ConversationStore) DefaultModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastModel
}

// Create inserts c with an empty history and makes it the active
// conversation. A missing model defaults to the most recently used one.
func (s *ConversationStore) Create(c *Conversation) (*Conversation, error) {
	const op = "ConversationStore.Create"
	if c == nil || c.ID == "" {
		return nil, chaterrors.New(chaterrors.KindInvalidState, op, "conversation id is empty")
	}

	s.mu.Lock()
	if _, ok := s.convs[c.ID]; ok {
		s.mu.Unlock()
		return nil, chaterrors.Newf(chaterrors.KindInvalidState, op, "conversation %s already exists", c.ID)
	}
	c = c.clone()
	if c.Model == "" {
		c.Model = s.lastModel
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = c.CreatedAt
	}
	if c.Title != "" {
		c.titleSet = true
	}
	s.seq++
	c.seq = s.seq
	s.convs[c.ID] = c
	s.activeID = c.ID
	ret := c.clone()
	s.mu.Unlock()

	s.messages.ReplaceAll(c.ID, nil)

	log.Debug().
		Str("conversation_id", c.ID).
		Str("model", c.Model).
		Bool("provisional", c.Provisional).
		Msg("created conversation")

	return ret, nil
}

// NewProvisional creates and activates a conversation with a local id.
func (s *ConversationStore) NewProvisional() (*Conversation, error) {
	return s.Create(NewProvisional(s.DefaultModel()))
}

// Replace bulk-loads the conversation list, typically from the backend.
// Known conversations keep their local state; the active pointer survives
// if its conversation is still present.
func (s *ConversationStore) Replace(list []*Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*Conversation, len(list))
	for _, c := range list {
		if c == nil || c.ID == "" {
			continue
		}
		nc := c.clone()
		if old, ok := s.convs[c.ID]; ok {
			nc.seq = old.seq
			nc.titleSet = old.titleSet || nc.Title != ""
			if old.LastMessageAt.After(nc.LastMessageAt) {
				nc.LastMessageAt = old.LastMessageAt
			}
			// model switches are not persisted remotely
			if old.Model != "" {
				nc.Model = old.Model
			}
		} else {
			s.seq++
			nc.seq = s.seq
			nc.titleSet = nc.Title != ""
		}
		next[nc.ID] = nc
	}
	// Conversations not yet known to the backend stay around.
	for id, c := range s.convs {
		if _, ok := next[id]; !ok && c.Provisional {
			next[id] = c
		}
	}
	for id := range s.convs {
		if _, ok := next[id]; !ok {
			s.messages.Drop(id)
		}
	}
	s.convs = next
	if _, ok := s.convs[s.activeID]; !ok {
		s.activeID = ""
	}
}

func (s *ConversationStore) Select(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, chaterrors.Newf(chaterrors.KindNotFound, "ConversationStore.Select", "conversation %s not found", id)
	}
	s.activeID = id
	return c.clone(), nil
}

// Remove deletes a conversation and its history. The active pointer is
// cleared if it pointed at the removed conversation.
func (s *ConversationStore) Remove(id string) error {
	s.mu.Lock()
	if _, ok := s.convs[id]; !ok {
		s.mu.Unlock()
		return chaterrors.Newf(chaterrors.KindNotFound, "ConversationStore.Remove", "conversation %s not found", id)
	}
	delete(s.convs, id)
	if s.activeID == id {
		s.activeID = ""
	}
	s.mu.Unlock()

	s.messages.Drop(id)
	log.Debug().Str("conversation_id", id).Msg("removed conversation")
	return nil
}

// Touch records activity at ts. LastMessageAt never moves backwards. The
// title is derived from the first user message if none was set explicitly.
func (s *ConversationStore) Touch(id string, ts time.Time) error {
	s.mu.Lock()
	c, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return chaterrors.Newf(chaterrors.KindNotFound, "ConversationStore.Touch", "conversation %s not found", id)
	}
	if ts.After(c.LastMessageAt) {
		c.LastMessageAt = ts
	}
	needTitle := !c.titleSet && c.Title == ""
	s.mu.Unlock()

	if !needTitle {
		return nil
	}
	msgs, err := s.messages.Messages(id)
	if err != nil {
		return nil
	}
	for _, m := range msgs {
		if m.Role != RoleUser {
			continue
		}
		title := DeriveTitle(m.Content)
		if title == "" {
			break
		}
		s.mu.Lock()
		if c, ok := s.convs[id]; ok && c.Title == "" && !c.titleSet {
			c.Title = title
		}
		s.mu.Unlock()
		break
	}
	return nil
}

// SetModel changes the model of a conversation and records it as the most
// recently used model.
func (s *ConversationStore) SetModel(id string, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return chaterrors.Newf(chaterrors.KindNotFound, "ConversationStore.SetModel", "conversation %s not found", id)
	}
	c.Model = model
	s.lastModel = model
	return nil
}

func (s *ConversationStore) SetTitle(id string, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return chaterrors.Newf(chaterrors.KindNotFound, "ConversationStore.SetTitle", "conversation %s not found", id)
	}
	c.Title = title
	c.titleSet = title != ""
	return nil
}

func (s *ConversationStore) Get(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, chaterrors.Newf(chaterrors.KindNotFound, "ConversationStore.Get", "conversation %s not found", id)
	}
	return c.clone(), nil
}

func (s *ConversationStore) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Active returns the active conversation, or an InvalidState error if none
// is selected.
func (s *ConversationStore) Active() (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[s.activeID]
	if !ok {
		return nil, chaterrors.New(chaterrors.KindInvalidState, "ConversationStore.Active", "no active conversation")
	}
	return c.clone(), nil
}

// List returns the conversations, most recently active first. Ties are
// broken by creation order, newest first.
func (s *ConversationStore) List() []*Conversation {
	s.mu.RLock()
	ret := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		ret = append(ret, c.clone())
	}
	s.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].LastMessageAt.Equal(ret[j].LastMessageAt) {
			return ret[i].LastMessageAt.After(ret[j].LastMessageAt)
		}
		return ret[i].seq > ret[j].seq
	})
	return ret
}

func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}
