package errorbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sbtg-data/flowmirror/pkg/mailbox"
	"github.com/sbtg-data/flowmirror/schema"
)

// Consumer subscribes to the error bus and deposits a human-readable message
// into the mailbox of the affected user. Processing is at-least-once: a
// duplicate delivery produces a duplicate mailbox entry. Events that cannot
// be decoded or routed are logged and dropped, never retried.
type Consumer struct {
	bus     Bus
	mailbox *mailbox.Store
	tracer  trace.Tracer
}

func NewConsumer(bus Bus, mailboxStore *mailbox.Store) *Consumer {
	return &Consumer{
		bus:     bus,
		mailbox: mailboxStore,
		tracer:  otel.Tracer("flowmirror"),
	}
}

// Run consumes the bus until the context ends.
func (c *Consumer) Run(ctx context.Context) error {
	return c.bus.Subscribe(ctx, func(payload []byte, headers map[string]string) {
		c.handle(ctx, payload)
	})
}

func (c *Consumer) handle(ctx context.Context, payload []byte) {
	_, span := c.tracer.Start(ctx, "ConsumeErrorEvent")
	defer span.End()

	var event schema.ErrorEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("Failed to decode error event: %v", err)
		span.RecordError(err)
		return
	}

	if event.UserID == "" {
		log.Printf("Dropping error event without user id (flow_id=%q)", event.FlowID)
		return
	}

	c.mailbox.Enqueue(event.UserID, formatMessage(&event))
}

func formatMessage(event *schema.ErrorEvent) string {
	text := event.Message
	if text == "" {
		text = "unknown error"
	}
	message := "Error: " + text
	if event.FlowID != "" {
		message += fmt.Sprintf(" (Flow ID: %s)", event.FlowID)
	}
	return message
}
