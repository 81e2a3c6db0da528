package session

import (
	"errors"
	"sync"

	"github.com/go-go-golems/veyra/pkg/conversation"
)

var ErrExecutionHandleNil = errors.New("execution handle is nil")

// ExecutionHandle is one in-flight completion request. It captures the
// conversation and model at dispatch time.
type ExecutionHandle struct {
	ConversationID string
	RequestID      string
	Model          string

	// MessageID is the user message the request answers.
	MessageID string

	done chan struct{}

	mu  sync.Mutex
	out *conversation.Message
	err error
}

func newExecutionHandle(conversationID, requestID, model, messageID string) *ExecutionHandle {
	return &ExecutionHandle{
		ConversationID: conversationID,
		RequestID:      requestID,
		Model:          model,
		MessageID:      messageID,
		done:           make(chan struct{}),
	}
}

func (h *ExecutionHandle) setResult(out *conversation.Message, err error) {
	h.mu.Lock()
	h.out = out
	h.err = err
	close(h.done)
	h.mu.Unlock()
}

// Wait blocks until the request resolved and returns the appended assistant
// message.
func (h *ExecutionHandle) Wait() (*conversation.Message, error) {
	if h == nil {
		return nil, ErrExecutionHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out.Clone(), h.err
}

func (h *ExecutionHandle) Done() <-chan struct{} {
	return h.done
}

func (h *ExecutionHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
