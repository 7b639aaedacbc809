package errorbus

import "context"

// Handler processes one inbound bus message.
type Handler func(payload []byte, headers map[string]string)

// Bus defines the operations of the asynchronous error channel. Delivery is
// at-least-once; payloads are opaque bytes.
type Bus interface {
	// Publish sends the payload to the configured error topic with optional headers.
	Publish(ctx context.Context, payload []byte, headers map[string]string) error
	// Subscribe consumes the error topic, invoking the handler per message.
	// It blocks until the context is canceled or the subscription fails.
	Subscribe(ctx context.Context, handler Handler) error
	// Close cleans up any resources (connections).
	Close() error
}
