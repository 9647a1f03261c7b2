package queue

import (
	"context"
	"time"
)

// Message is the envelope delivered to the consumer. Only JobID and TraceID
// are meaningful to handlers; everything mutable is re-read from the job
// store, never trusted from the message.
type Message struct {
	ID           string
	JobID        string
	TraceID      string
	ReceiveCount int
	EnqueuedAt   time.Time
}

// Result records the outcome of handling one message. A nil Err means the
// message was processed (including idempotent no-ops) and may be removed
// from the queue.
type Result struct {
	MessageID string
	Err       error
}

// Handler processes a single message.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Source is the at-least-once message source the consumer drains. Received
// messages stay invisible until Delete, Release, or visibility expiry.
type Source interface {
	Receive(ctx context.Context, max int) ([]Message, error)
	Delete(ctx context.Context, messageID string) error
	Release(ctx context.Context, messageID string) error
}
