package errorbus

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sbtg-data/flowmirror/schema"
)

// Publisher emits ErrorEvents onto the bus. Publishing is best-effort: the
// returned error exists so the orchestration boundary can log it, never so
// it can propagate. A reporting failure must not fail the operation being
// reported on.
type Publisher struct {
	bus    Bus
	tracer trace.Tracer
}

func NewPublisher(bus Bus) *Publisher {
	return &Publisher{
		bus:    bus,
		tracer: otel.Tracer("flowmirror"),
	}
}

// Publish builds an ErrorEvent stamped with the publish time and sends it.
// Any subset of correlationID, flowID and userID may be empty.
func (p *Publisher) Publish(ctx context.Context, correlationID, flowID, userID, message string) error {
	ctx, span := p.tracer.Start(ctx, "PublishError")
	defer span.End()

	event := schema.NewErrorEvent(correlationID, flowID, userID, message)

	payload, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := p.bus.Publish(ctx, payload, nil); err != nil {
		span.RecordError(err)
		return err
	}

	return nil
}
