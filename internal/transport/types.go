package transport

import "context"

// ChatTarget identifies where a message goes.
type ChatTarget struct {
	ChatID int64
}

// Message is one incoming text message, normalized away from the
// underlying bot library.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Adapter is the messenger capability consumed by the rest of the bot.
//
// SendText delivers one message; errors are returned as-is and never
// retried here. ChatName resolves a human-readable name for a chat,
// best-effort: callers must tolerate failure.
type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string) error
	ChatName(ctx context.Context, chatID int64) (string, error)
}
