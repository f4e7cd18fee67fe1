// Package chat defines the transport-agnostic ingress pipeline:
// allowlist, abort detection, dedupe, and the per-chat sequential lock
// with a visible cancellable queue.
package chat

import "context"

// Message is one inbound chat message, already normalised by the
// transport adapter.
type Message struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Text      string
}

// Transport is the outbound side of a chat channel. Implementations
// live under plugin/chat/<channel>.
type Transport interface {
	// Send delivers text to a chat and returns the new message id.
	Send(ctx context.Context, chatID int64, text string) (int, error)
	// SendWithCancel delivers text with an inline cancel button
	// carrying callbackData, replying to replyTo when nonzero.
	SendWithCancel(ctx context.Context, chatID int64, text, callbackData string, replyTo int) (int, error)
	// Edit replaces the text of an existing message.
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
	// Delete removes a message.
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// Handler consumes a message that passed the pipeline.
type Handler func(ctx context.Context, msg Message) error

// Interceptor handles a message before the per-chat lock. Returning
// true stops further processing.
type Interceptor func(ctx context.Context, msg Message) bool
