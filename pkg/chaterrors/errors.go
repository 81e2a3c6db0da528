// Package chaterrors defines the error taxonomy shared by the chat state core.
//
// Every error surfaced by the stores, the attachment manager, the session
// controller and the memory client carries a Kind. Callers branch on the kind
// with errors.Is against the exported sentinels:
//
//	if errors.Is(err, chaterrors.ErrBusy) { ... }
//
// The underlying cause (an HTTP failure, a context deadline) stays reachable
// through errors.Cause / errors.Unwrap.
package chaterrors

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindUnauthenticated      Kind = "unauthenticated"
	KindPayloadTooLarge      Kind = "payload-too-large"
	KindUnsupportedMediaType Kind = "unsupported-media-type"
	KindBusy                 Kind = "busy"
	KindNotFound             Kind = "not-found"
	KindUpstreamFailure      Kind = "upstream-failure"
	KindInvalidState         Kind = "invalid-state"
)

// Local reports whether errors of this kind are detected before any network
// call is made. Local errors never mutate shared state.
func (k Kind) Local() bool {
	switch k {
	case KindPayloadTooLarge, KindUnsupportedMediaType, KindBusy, KindInvalidState, KindNotFound:
		return true
	case KindUnauthenticated, KindUpstreamFailure:
		return false
	}
	return false
}

// Error is the concrete error type. Op names the operation that failed
// (e.g. "session.Send"), Message is human readable.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Cause() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so that the sentinels below can be
// used with errors.Is regardless of Op and Message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

var (
	ErrUnauthenticated      = &Error{Kind: KindUnauthenticated}
	ErrPayloadTooLarge      = &Error{Kind: KindPayloadTooLarge}
	ErrUnsupportedMediaType = &Error{Kind: KindUnsupportedMediaType}
	ErrBusy                 = &Error{Kind: KindBusy}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrUpstreamFailure      = &Error{Kind: KindUpstreamFailure}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
)

func New(kind Kind, op string, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Newf(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. If err already carries a kind it is returned
// with the op prefixed instead of being reclassified.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return errors.Wrap(err, op)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind carried by err, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// UserMessage is the short text shown in a transient notification.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	switch e.Kind {
	case KindUnauthenticated:
		return "Authentication required"
	case KindPayloadTooLarge:
		return "File size must be less than 10MB"
	case KindUnsupportedMediaType:
		return "Unsupported file type"
	case KindBusy:
		return "A response is already being generated"
	case KindNotFound:
		return "Not found"
	case KindInvalidState:
		return "No conversation selected"
	case KindUpstreamFailure:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "Request failed"
	}
	return e.Error()
}
