// Package session drives the conversation turns: sending a message, editing a
// sent message and regenerating the reply, switching models and
// conversations.
//
// Every conversation has its own turn state (idle, sending, failed). A send
// or edit on a conversation that is sending is rejected with Busy; other
// conversations are unaffected. A completion request captures its
// conversation id and model when it is dispatched and its result is applied
// to that conversation, whichever conversation is active by then.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/veyra/pkg/attachments"
	"github.com/go-go-golems/veyra/pkg/auth"
	"github.com/go-go-golems/veyra/pkg/backend"
	"github.com/go-go-golems/veyra/pkg/chaterrors"
	"github.com/go-go-golems/veyra/pkg/conversation"
	"github.com/go-go-golems/veyra/pkg/events"
)

type Controller struct {
	conversations *conversation.ConversationStore
	messages      *conversation.MessageStore
	attachments   *attachments.Manager
	invoker       backend.ModelInvoker
	tokens        auth.TokenSource

	// optional, conversations stay local without it
	backend backend.ConversationBackend

	sinks          []events.EventSink
	requestTimeout time.Duration

	mu    sync.Mutex
	turns map[string]*turn
}

type Option func(*Controller)

func WithConversationBackend(b backend.ConversationBackend) Option {
	return func(c *Controller) {
		c.backend = b
	}
}

func WithEventSinks(sinks ...events.EventSink) Option {
	return func(c *Controller) {
		c.sinks = append(c.sinks, sinks...)
	}
}

// WithRequestTimeout bounds each completion request. A request running
// past it fails like any other upstream failure.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.requestTimeout = d
	}
}

func NewController(
	conversations *conversation.ConversationStore,
	atts *attachments.Manager,
	invoker backend.ModelInvoker,
	tokens auth.TokenSource,
	options ...Option,
) *Controller {
	ret := &Controller{
		conversations: conversations,
		messages:      conversations.Messages(),
		attachments:   atts,
		invoker:       invoker,
		tokens:        tokens,
		turns:         make(map[string]*turn),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (c *Controller) Conversations() *conversation.ConversationStore {
	return c.conversations
}

func (c *Controller) Messages() *conversation.MessageStore {
	return c.messages
}

func (c *Controller) Attachments() *attachments.Manager {
	return c.attachments
}

// State returns the turn state of a conversation. Unknown conversations are
// idle.
func (c *Controller) State(conversationID string) TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.turns[conversationID]; ok {
		return t.state
	}
	return StateIdle
}

// LastError returns the error of a failed conversation, nil otherwise.
func (c *Controller) LastError(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.turns[conversationID]; ok && t.state == StateFailed {
		return t.err
	}
	return nil
}

// Active returns the in-flight request of a conversation, if any.
func (c *Controller) Active(conversationID string) *ExecutionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.turns[conversationID]; ok && t.active != nil && t.active.IsRunning() {
		return t.active
	}
	return nil
}

// Send sends text (plus every staged attachment) to the active conversation
// and dispatches a completion request. Empty text without attachments is a
// no-op and returns a nil handle.
func (c *Controller) Send(ctx context.Context, text string) (*ExecutionHandle, error) {
	const op = "session.Send"

	convID, err := c.activeLoadedConversation(op)
	if err != nil {
		return nil, c.fail("", err)
	}
	if err := c.claim(op, convID); err != nil {
		return nil, c.fail(convID, err)
	}
	dispatched := false
	defer func() {
		if !dispatched {
			c.release(convID)
		}
	}()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" && (c.attachments == nil || !c.attachments.HasStaged()) {
		return nil, nil
	}

	token, err := auth.Acquire(ctx, c.tokens)
	if err != nil {
		return nil, c.fail(convID, err)
	}

	var staged []conversation.Attachment
	if c.attachments != nil {
		staged = c.attachments.DrainForSend()
	}
	if trimmed == "" && len(staged) == 0 {
		return nil, nil
	}

	msg := conversation.NewUserMessage(trimmed, staged)
	if err := c.messages.Append(convID, msg); err != nil {
		return nil, c.fail(convID, err)
	}
	_ = c.conversations.Touch(convID, msg.Timestamp)
	events.PublishAll(c.sinks, events.NewMessageAppendedEvent(convID, msg.ID, string(msg.Role), "", msg.Content))

	handle, err := c.dispatch(ctx, op, convID, msg.ID, token)
	if err != nil {
		return nil, c.fail(convID, err)
	}
	dispatched = true
	return handle, nil
}

// Edit replaces the content of a user message of the active conversation,
// drops every message after it and requests a new reply. Unchanged (or
// empty) content is a no-op and returns a nil handle.
func (c *Controller) Edit(ctx context.Context, messageID string, newContent string) (*ExecutionHandle, error) {
	const op = "session.Edit"

	convID, err := c.activeLoadedConversation(op)
	if err != nil {
		return nil, c.fail("", err)
	}
	if err := c.claim(op, convID); err != nil {
		return nil, c.fail(convID, err)
	}
	dispatched := false
	defer func() {
		if !dispatched {
			c.release(convID)
		}
	}()

	msg, err := c.messages.Get(convID, messageID)
	if err != nil {
		return nil, c.fail(convID, err)
	}
	if msg.Role != conversation.RoleUser {
		return nil, c.fail(convID, chaterrors.New(chaterrors.KindInvalidState, op, "only user messages can be edited"))
	}

	trimmed := strings.TrimSpace(newContent)
	if trimmed == "" || trimmed == msg.Content {
		return nil, nil
	}

	token, err := auth.Acquire(ctx, c.tokens)
	if err != nil {
		return nil, c.fail(convID, err)
	}

	changed, err := c.messages.Update(convID, messageID, trimmed)
	if err != nil {
		return nil, c.fail(convID, err)
	}
	if !changed {
		return nil, nil
	}
	removed, err := c.messages.TruncateAfter(convID, messageID)
	if err != nil {
		return nil, c.fail(convID, err)
	}

	log.Debug().
		Str("conversation_id", convID).
		Str("message_id", messageID).
		Int("removed", removed).
		Msg("edited message, regenerating")

	handle, err := c.dispatch(ctx, op, convID, messageID, token)
	if err != nil {
		return nil, c.fail(convID, err)
	}
	dispatched = true
	return handle, nil
}

// SetModel changes the model of a conversation. Requests already in flight
// keep the model they were dispatched with.
func (c *Controller) SetModel(conversationID string, model string) error {
	if err := c.conversations.SetModel(conversationID, model); err != nil {
		return c.fail(conversationID, err)
	}
	ev := events.NewConversationEvent(conversationID, events.ConversationModel)
	ev.Model = model
	events.PublishAll(c.sinks, ev)
	return nil
}

func (c *Controller) activeLoadedConversation(op string) (string, error) {
	convID := c.conversations.ActiveID()
	if convID == "" {
		return "", chaterrors.New(chaterrors.KindInvalidState, op, "no active conversation")
	}
	if !c.messages.IsLoaded(convID) {
		return "", chaterrors.Newf(chaterrors.KindInvalidState, op, "conversation %s is not loaded", convID)
	}
	return convID, nil
}

func (c *Controller) claim(op string, convID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.turnLocked(convID)
	if t.busy() {
		return chaterrors.Newf(chaterrors.KindBusy, op, "conversation %s is waiting for a response", convID)
	}
	t.claimed = true
	return nil
}

func (c *Controller) release(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.turns[convID]; ok {
		t.claimed = false
	}
}

func (c *Controller) turnLocked(convID string) *turn {
	t, ok := c.turns[convID]
	if !ok {
		t = &turn{state: StateIdle}
		c.turns[convID] = t
	}
	return t
}

// dispatch moves the conversation to sending and runs the completion on a
// goroutine. It must be called with the conversation claimed.
func (c *Controller) dispatch(ctx context.Context, op string, convID string, messageID string, token string) (*ExecutionHandle, error) {
	conv, err := c.conversations.Get(convID)
	if err != nil {
		return nil, err
	}
	history, err := c.messages.Messages(convID)
	if err != nil {
		return nil, err
	}

	model := conv.Model
	requestID := uuid.NewString()
	handle := newExecutionHandle(convID, requestID, model, messageID)
	req := backend.NewCompletionRequest(convID, model, history)

	c.mu.Lock()
	t := c.turnLocked(convID)
	t.claimed = false
	t.state = StateSending
	t.err = nil
	t.active = handle
	c.mu.Unlock()

	events.PublishAll(c.sinks, events.NewTurnStateEvent(convID, string(StateSending), nil))
	log.Debug().
		Str("conversation_id", convID).
		Str("request_id", requestID).
		Str("model", model).
		Int("history", len(history)).
		Msg("dispatching completion")

	// not cancelled with the caller, only the request timeout bounds it
	runCtx := WithRequestMeta(context.WithoutCancel(ctx), convID, requestID)
	go func() {
		reqCtx, cancel := runCtx, func() {}
		if c.requestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(runCtx, c.requestTimeout)
		}
		defer cancel()

		resp, err := c.invoker.Complete(reqCtx, token, req)
		if err != nil {
			c.onFailure(op, handle, err)
			return
		}
		c.onSuccess(op, handle, resp)
	}()

	return handle, nil
}

func (c *Controller) onSuccess(op string, h *ExecutionHandle, resp *backend.CompletionResponse) {
	convID := h.ConversationID
	var options []conversation.MessageOption
	if resp.MessageID != "" {
		options = append(options, conversation.WithID(resp.MessageID))
	}
	if !resp.CreatedAt.IsZero() {
		options = append(options, conversation.WithTimestamp(resp.CreatedAt))
	}
	msg := conversation.NewAssistantMessage(resp.Content, h.Model, options...)

	if err := c.messages.Append(convID, msg); err != nil {
		// the conversation was deleted while the request was in flight
		log.Debug().Err(err).Str("conversation_id", convID).Msg("dropping completion")
		c.finish(convID, h, StateIdle, nil)
		h.setResult(nil, chaterrors.Newf(chaterrors.KindNotFound, op, "conversation %s no longer exists", convID))
		return
	}
	_ = c.conversations.Touch(convID, msg.Timestamp)
	events.PublishAll(c.sinks, events.NewMessageAppendedEvent(convID, msg.ID, string(msg.Role), msg.Model, msg.Content))

	c.finish(convID, h, StateIdle, nil)
	h.setResult(msg, nil)
}

func (c *Controller) onFailure(op string, h *ExecutionHandle, cause error) {
	err := chaterrors.Wrap(chaterrors.KindUpstreamFailure, op, cause)
	log.Warn().Err(err).Str("conversation_id", h.ConversationID).Str("request_id", h.RequestID).Msg("completion failed")

	c.finish(h.ConversationID, h, StateFailed, err)
	events.PublishAll(c.sinks, events.NewNotificationEvent(h.ConversationID, events.LevelError, chaterrors.UserMessage(err)))
	h.setResult(nil, err)
}

func (c *Controller) finish(convID string, h *ExecutionHandle, state TurnState, err error) {
	c.mu.Lock()
	t, ok := c.turns[convID]
	if ok && t.active == h {
		t.state = state
		t.err = err
		t.active = nil
	}
	c.mu.Unlock()

	if ok {
		events.PublishAll(c.sinks, events.NewTurnStateEvent(convID, string(state), err))
	}
}

// fail publishes err as a notification and returns it.
func (c *Controller) fail(convID string, err error) error {
	if err == nil {
		return nil
	}
	ev := events.NewNotificationEvent(convID, events.LevelError, chaterrors.UserMessage(err))
	ev.Kind = string(chaterrors.KindOf(err))
	events.PublishAll(c.sinks, ev)
	return err
}
