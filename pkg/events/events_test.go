package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventFromJson(t *testing.T) {
	ev := NewTurnStateEvent("c1", "failed", errors.New("boom"))
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	decoded, err := NewEventFromJson(b)
	require.NoError(t, err)
	ts, ok := decoded.(*EventTurnState)
	require.True(t, ok)
	assert.Equal(t, "c1", ts.Metadata().ConversationID)
	assert.Equal(t, "failed", ts.State)
	assert.Equal(t, "boom", ts.Error)
	assert.Equal(t, b, ts.Payload())

	_, err = NewEventFromJson([]byte(`{"type":"nope"}`))
	assert.Error(t, err)
}

type collectingHandler struct {
	notifications chan *EventNotification
	states        chan *EventTurnState
}

func (c *collectingHandler) HandleNotification(_ context.Context, e *EventNotification) error {
	c.notifications <- e
	return nil
}

func (c *collectingHandler) HandleTurnState(_ context.Context, e *EventTurnState) error {
	c.states <- e
	return nil
}

func (c *collectingHandler) HandleMessageAppended(context.Context, *EventMessageAppended) error {
	return nil
}

func (c *collectingHandler) HandleUpload(context.Context, *EventUpload) error { return nil }

func (c *collectingHandler) HandleConversation(context.Context, *EventConversation) error {
	return nil
}

func TestRouterDispatchesEvents(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	h := &collectingHandler{
		notifications: make(chan *EventNotification, 1),
		states:        make(chan *EventTurnState, 1),
	}
	router.AddEventHandler("test", TopicChat, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()
	defer func() { _ = router.Close() }()

	sink := router.Sink(TopicChat)
	require.NoError(t, sink.PublishEvent(NewNotificationEvent("c1", LevelError, "File size must be less than 10MB")))
	require.NoError(t, sink.PublishEvent(NewTurnStateEvent("c1", "sending", nil)))

	select {
	case n := <-h.notifications:
		assert.Equal(t, LevelError, n.Level)
		assert.Equal(t, "File size must be less than 10MB", n.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
	select {
	case s := <-h.states:
		assert.Equal(t, "sending", s.State)
	case <-time.After(5 * time.Second):
		t.Fatal("turn state not delivered")
	}
}

func TestFanoutNumbersEventsAcrossTargets(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 10}, watermill.NopLogger{})
	defer func() { _ = pubSub.Close() }()

	msgs, err := pubSub.Subscribe(context.Background(), TopicChat)
	require.NoError(t, err)

	var buf bytes.Buffer
	eventLog := NewEventLog(&buf)
	fanout := NewFanout().
		AddPublisher(TopicChat, pubSub).
		AddPublisher(TopicEventLog, eventLog)

	require.NoError(t, fanout.PublishEvent(NewNotificationEvent("", LevelInfo, "one")))
	require.NoError(t, fanout.PublishEvent(NewTurnStateEvent("c1", "sending", nil)))

	var got []*message.Message
	for i := 0; i < 2; i++ {
		select {
		case m := <-msgs:
			m.Ack()
			got = append(got, m)
		case <-time.After(5 * time.Second):
			t.Fatal("message not delivered")
		}
	}
	assert.Equal(t, "0", got[0].Metadata.Get(MetadataSequence))
	assert.Equal(t, "1", got[1].Metadata.Get(MetadataSequence))
	assert.Equal(t, string(EventTypeTurnState), got[1].Metadata.Get(MetadataEventType))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var entry EventLogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, TopicEventLog, entry.Topic)
	assert.Equal(t, uint64(1), entry.Sequence)
	assert.Equal(t, EventTypeTurnState, entry.Type)
	ev, err := NewEventFromJson(entry.Event)
	require.NoError(t, err)
	assert.Equal(t, "c1", ev.Metadata().ConversationID)

	require.NoError(t, eventLog.Close())
	assert.Error(t, fanout.PublishEvent(NewNotificationEvent("", LevelInfo, "late")))
}

func TestRecordingSink(t *testing.T) {
	var r RecordingSink
	PublishAll([]EventSink{&r, NopSink{}}, NewUploadEvent("h1", "a.png", UploadStarted))
	require.Len(t, r.Events(), 1)
	assert.Equal(t, EventTypeUpload, r.Events()[0].Type())
}
