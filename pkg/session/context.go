package session

import "context"

type requestMetaContextKey string

const (
	conversationIDContextKey requestMetaContextKey = "conversation_id"
	requestIDContextKey      requestMetaContextKey = "request_id"
)

// WithRequestMeta stores the conversation and request identifiers of a
// completion so the invoker can correlate its logs.
func WithRequestMeta(ctx context.Context, conversationID, requestID string) context.Context {
	if conversationID != "" {
		ctx = context.WithValue(ctx, conversationIDContextKey, conversationID)
	}
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDContextKey, requestID)
	}
	return ctx
}

func ConversationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(conversationIDContextKey).(string)
	return id
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}
