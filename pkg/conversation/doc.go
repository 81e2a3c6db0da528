// Package conversation holds the conversation, message and attachment state of
// the chat client.
//
// A Conversation is owned by the ConversationStore. Its messages live in the
// MessageStore, keyed by conversation id, so that a completion resolving after
// the user switched away is still applied to the conversation it was sent from.
//
// Both stores are safe for concurrent use. Every read returns a copy; callers
// never hold references into the stores' internal slices.
package conversation
