package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeNotification    EventType = "notification"
	EventTypeTurnState       EventType = "turn-state"
	EventTypeMessageAppended EventType = "message-appended"
	EventTypeUpload          EventType = "upload"
	EventTypeConversation    EventType = "conversation"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventMetadata struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewEventMetadata(conversationID string) EventMetadata {
	return EventMetadata{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Timestamp:      time.Now(),
	}
}

func (m EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", m.ID.String())
	if m.ConversationID != "" {
		e.Str("conversation_id", m.ConversationID)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// raw JSON when the event was decoded with NewEventFromJson
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelError   NotificationLevel = "error"
)

// EventNotification is a transient, user facing message.
type EventNotification struct {
	EventImpl
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
	Kind    string            `json:"kind,omitempty"`
}

func NewNotificationEvent(conversationID string, level NotificationLevel, message string) *EventNotification {
	return &EventNotification{
		EventImpl: EventImpl{Type_: EventTypeNotification, Metadata_: NewEventMetadata(conversationID)},
		Level:     level,
		Message:   message,
	}
}

// EventTurnState is published on every turn state transition of a
// conversation.
type EventTurnState struct {
	EventImpl
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func NewTurnStateEvent(conversationID string, state string, err error) *EventTurnState {
	ret := &EventTurnState{
		EventImpl: EventImpl{Type_: EventTypeTurnState, Metadata_: NewEventMetadata(conversationID)},
		State:     state,
	}
	if err != nil {
		ret.Error = err.Error()
	}
	return ret
}

type EventMessageAppended struct {
	EventImpl
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Model     string `json:"model,omitempty"`
	Content   string `json:"content"`
}

func NewMessageAppendedEvent(conversationID, messageID, role, model, content string) *EventMessageAppended {
	return &EventMessageAppended{
		EventImpl: EventImpl{Type_: EventTypeMessageAppended, Metadata_: NewEventMetadata(conversationID)},
		MessageID: messageID,
		Role:      role,
		Model:     model,
		Content:   content,
	}
}

type UploadStatus string

const (
	UploadStarted   UploadStatus = "started"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
	UploadRemoved   UploadStatus = "removed"
)

type EventUpload struct {
	EventImpl
	Handle       string       `json:"handle"`
	Name         string       `json:"name"`
	Status       UploadStatus `json:"status"`
	AttachmentID string       `json:"attachment_id,omitempty"`
	Error        string       `json:"error,omitempty"`
}

func NewUploadEvent(handle, name string, status UploadStatus) *EventUpload {
	return &EventUpload{
		EventImpl: EventImpl{Type_: EventTypeUpload, Metadata_: NewEventMetadata("")},
		Handle:    handle,
		Name:      name,
		Status:    status,
	}
}

type ConversationAction string

const (
	ConversationCreated  ConversationAction = "created"
	ConversationSelected ConversationAction = "selected"
	ConversationDeleted  ConversationAction = "deleted"
	ConversationModel    ConversationAction = "model"
)

type EventConversation struct {
	EventImpl
	Action ConversationAction `json:"action"`
	Model  string             `json:"model,omitempty"`
}

func NewConversationEvent(conversationID string, action ConversationAction) *EventConversation {
	return &EventConversation{
		EventImpl: EventImpl{Type_: EventTypeConversation, Metadata_: NewEventMetadata(conversationID)},
		Action:    action,
	}
}

// NewEventFromJson decodes a serialized event into its concrete type.
func NewEventFromJson(b []byte) (Event, error) {
	var impl EventImpl
	if err := json.Unmarshal(b, &impl); err != nil {
		return nil, errors.Wrap(err, "could not decode event")
	}

	var ret Event
	switch impl.Type_ {
	case EventTypeNotification:
		ret = &EventNotification{}
	case EventTypeTurnState:
		ret = &EventTurnState{}
	case EventTypeMessageAppended:
		ret = &EventMessageAppended{}
	case EventTypeUpload:
		ret = &EventUpload{}
	case EventTypeConversation:
		ret = &EventConversation{}
	default:
		return nil, errors.Errorf("unknown event type %q", impl.Type_)
	}
	if err := json.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrapf(err, "could not decode %s event", impl.Type_)
	}
	if p, ok := ret.(interface{ setPayload([]byte) }); ok {
		p.setPayload(b)
	}
	return ret, nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}
