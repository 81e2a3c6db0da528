package events

import (
	"encoding/json"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TopicEventLog is the topic events are written to the event log under.
const TopicEventLog = "event-log"

// EventLogEntry is one line of an event log.
type EventLogEntry struct {
	Topic    string          `json:"topic"`
	Sequence uint64          `json:"sequence"`
	Type     EventType       `json:"type"`
	LoggedAt time.Time       `json:"logged_at"`
	Event    json.RawMessage `json:"event"`
}

// EventLog is a watermill publisher appending every message as a JSON line.
type EventLog struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	closed bool
}

func NewEventLog(w io.Writer) *EventLog {
	ret := &EventLog{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		ret.closer = c
	}
	return ret
}

// OpenEventLog appends to the file at path, rotating it once it grows past
// maxSizeMB.
func OpenEventLog(path string, maxSizeMB int) *EventLog {
	return NewEventLog(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
	})
}

func (l *EventLog) Publish(topic string, messages ...*message.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("event log is closed")
	}

	for _, msg := range messages {
		entry := EventLogEntry{
			Topic:    topic,
			Type:     EventType(msg.Metadata.Get(MetadataEventType)),
			LoggedAt: time.Now(),
			Event:    json.RawMessage(msg.Payload),
		}
		if seq := msg.Metadata.Get(MetadataSequence); seq != "" {
			n, err := strconv.ParseUint(seq, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid sequence number %q", seq)
			}
			entry.Sequence = n
		}
		if err := l.enc.Encode(entry); err != nil {
			return errors.Wrap(err, "could not write event log entry")
		}
	}
	return nil
}

func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

var _ message.Publisher = (*EventLog)(nil)
