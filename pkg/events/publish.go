package events

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

const (
	MetadataSequence  = "sequence_number"
	MetadataEventType = "event_type"
)

type fanoutTarget struct {
	topic     string
	publisher message.Publisher
}

// Fanout is an EventSink delivering each event to several watermill
// publishers, each with its own topic. Events are numbered in the order they
// were published; the number and the event type travel in the message
// metadata.
type Fanout struct {
	mu       sync.Mutex
	targets  []fanoutTarget
	sequence uint64
}

func NewFanout() *Fanout {
	return &Fanout{}
}

// AddPublisher registers publisher for topic. Targets receive events in
// registration order.
func (f *Fanout) AddPublisher(topic string, publisher message.Publisher) *Fanout {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, fanoutTarget{topic: topic, publisher: publisher})
	return f
}

// PublishEvent hands event to every target. A failing target does not keep
// the others from receiving it; the last error is returned.
func (f *Fanout) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataSequence, strconv.FormatUint(f.sequence, 10))
	msg.Metadata.Set(MetadataEventType, string(event.Type()))
	f.sequence++

	var lastErr error
	for _, t := range f.targets {
		// gochannel acks are per message instance
		if err := t.publisher.Publish(t.topic, msg.Copy()); err != nil {
			log.Warn().Err(err).Str("topic", t.topic).Str("event_type", string(event.Type())).Msg("failed to publish event")
			lastErr = err
		}
	}
	return lastErr
}
