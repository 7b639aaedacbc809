package errorbus

import (
	"context"
	"errors"
	"sync"
)

type busMessage struct {
	payload []byte
	headers map[string]string
}

// channelBus is the in-process bus backend for single-node deployments and
// tests. Publish blocks until the message is buffered; Subscribe runs until
// the context ends or the bus closes.
type channelBus struct {
	messages  chan busMessage
	closeOnce sync.Once
	closed    chan struct{}
}

// NewChannelBus creates an in-process bus with the given buffer size.
func NewChannelBus(buffer int) Bus {
	return &channelBus{
		messages: make(chan busMessage, buffer),
		closed:   make(chan struct{}),
	}
}

func (c *channelBus) Publish(ctx context.Context, payload []byte, headers map[string]string) error {
	select {
	case <-c.closed:
		return errors.New("bus is closed")
	case <-ctx.Done():
		return ctx.Err()
	case c.messages <- busMessage{payload: payload, headers: headers}:
		return nil
	}
}

func (c *channelBus) Subscribe(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-c.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case message := <-c.messages:
			handler(message.payload, message.headers)
		}
	}
}

func (c *channelBus) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
