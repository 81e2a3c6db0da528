package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// TopicChat is the topic chat events are published on by default.
const TopicChat = "chat"

// Handler receives decoded chat events from an EventRouter.
type Handler interface {
	HandleNotification(ctx context.Context, e *EventNotification) error
	HandleTurnState(ctx context.Context, e *EventTurnState) error
	HandleMessageAppended(ctx context.Context, e *EventMessageAppended) error
	HandleUpload(ctx context.Context, e *EventUpload) error
	HandleConversation(ctx context.Context, e *EventConversation) error
}

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		if verbose {
			r.logger = NewWatermillLogger(log.Logger)
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

// Sink returns an EventSink publishing on topic through this router.
func (e *EventRouter) Sink(topic string) EventSink {
	return NewWatermillSink(e.Publisher, topic)
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddEventHandler decodes every message on topic and dispatches it to h.
func (e *EventRouter) AddEventHandler(name string, topic string, h Handler) {
	e.AddHandler(name, topic, dispatchHandler(h))
}

func dispatchHandler(h Handler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ev, err := NewEventFromJson(msg.Payload)
		if err != nil {
			// a bad message should not stop the router
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("Failed to parse chat event")
			return nil
		}

		ctx := msg.Context()
		switch ev := ev.(type) {
		case *EventNotification:
			return h.HandleNotification(ctx, ev)
		case *EventTurnState:
			return h.HandleTurnState(ctx, ev)
		case *EventMessageAppended:
			return h.HandleMessageAppended(ctx, ev)
		case *EventUpload:
			return h.HandleUpload(ctx, ev)
		case *EventConversation:
			return h.HandleConversation(ctx, ev)
		}
		log.Warn().Str("event_type", string(ev.Type())).Msg("Unhandled chat event type")
		return nil
	}
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}

	log.Debug().Msg("Closing router")
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}

	return nil
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
