package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/veyra/pkg/auth"
	"github.com/go-go-golems/veyra/pkg/chaterrors"
	"github.com/go-go-golems/veyra/pkg/conversation"
	"github.com/go-go-golems/veyra/pkg/events"
)

// NewConversation creates a conversation with the most recently used model
// and makes it active. With a conversation backend the id is issued by the
// backend, otherwise a provisional local id is used.
func (c *Controller) NewConversation(ctx context.Context) (*conversation.Conversation, error) {
	const op = "session.NewConversation"

	var conv *conversation.Conversation
	if c.backend != nil {
		token, err := auth.Acquire(ctx, c.tokens)
		if err != nil {
			return nil, c.fail("", err)
		}
		created, err := c.backend.CreateConversation(ctx, token, c.conversations.DefaultModel())
		if err != nil {
			return nil, c.fail("", chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, err))
		}
		created.Provisional = false
		conv, err = c.conversations.Create(created)
		if err != nil {
			return nil, c.fail("", err)
		}
	} else {
		var err error
		conv, err = c.conversations.NewProvisional()
		if err != nil {
			return nil, c.fail("", err)
		}
	}

	c.mu.Lock()
	c.turnLocked(conv.ID)
	c.mu.Unlock()

	events.PublishAll(c.sinks, events.NewConversationEvent(conv.ID, events.ConversationCreated))
	return conv, nil
}

// Select makes a conversation active, loading its history from the backend
// the first time. In-flight requests of other conversations keep running.
func (c *Controller) Select(ctx context.Context, conversationID string) (*conversation.Conversation, error) {
	const op = "session.Select"

	conv, err := c.conversations.Get(conversationID)
	if err != nil {
		return nil, c.fail("", err)
	}

	if !c.messages.IsLoaded(conversationID) {
		if c.backend != nil && !conv.Provisional {
			token, err := auth.Acquire(ctx, c.tokens)
			if err != nil {
				return nil, c.fail(conversationID, err)
			}
			msgs, err := c.backend.ListMessages(ctx, token, conversationID)
			if err != nil {
				return nil, c.fail(conversationID, chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, err))
			}
			// a send may have loaded the conversation meanwhile
			if !c.messages.IsLoaded(conversationID) {
				c.messages.ReplaceAll(conversationID, msgs)
			}
		} else {
			c.messages.ReplaceAll(conversationID, nil)
		}
	}

	conv, err = c.conversations.Select(conversationID)
	if err != nil {
		return nil, c.fail("", err)
	}
	events.PublishAll(c.sinks, events.NewConversationEvent(conversationID, events.ConversationSelected))
	return conv, nil
}

// DeleteConversation removes a conversation, its history and its turn
// state. A pending reply for it is dropped when it arrives.
func (c *Controller) DeleteConversation(ctx context.Context, conversationID string) error {
	const op = "session.DeleteConversation"

	conv, err := c.conversations.Get(conversationID)
	if err != nil {
		return c.fail("", err)
	}

	if c.backend != nil && !conv.Provisional {
		token, err := auth.Acquire(ctx, c.tokens)
		if err != nil {
			return c.fail(conversationID, err)
		}
		if err := c.backend.DeleteConversation(ctx, token, conversationID); err != nil && !chaterrors.IsKind(err, chaterrors.KindNotFound) {
			return c.fail(conversationID, chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, err))
		}
	}

	if err := c.conversations.Remove(conversationID); err != nil {
		return c.fail("", err)
	}
	c.mu.Lock()
	delete(c.turns, conversationID)
	c.mu.Unlock()

	log.Debug().Str("conversation_id", conversationID).Msg("deleted conversation")
	events.PublishAll(c.sinks, events.NewConversationEvent(conversationID, events.ConversationDeleted))
	return nil
}

// LoadConversations refreshes the conversation list from the backend and
// returns it ordered by recency.
func (c *Controller) LoadConversations(ctx context.Context) ([]*conversation.Conversation, error) {
	const op = "session.LoadConversations"

	if c.backend != nil {
		token, err := auth.Acquire(ctx, c.tokens)
		if err != nil {
			return nil, c.fail("", err)
		}
		list, err := c.backend.ListConversations(ctx, token)
		if err != nil {
			return nil, c.fail("", chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, err))
		}
		c.conversations.Replace(list)
	}
	return c.conversations.List(), nil
}
