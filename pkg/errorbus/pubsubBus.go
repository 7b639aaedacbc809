package errorbus

import (
	"context"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/sbtg-data/flowmirror/pkg/config"
)

// PubSubBusCreator defines a function type for creating Pub/Sub buses.
type PubSubBusCreator func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (Bus, error)

// NewPubSubBus is the default implementation of PubSubBusCreator.
var NewPubSubBus PubSubBusCreator = func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (Bus, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return &pubSubBus{client: client, topic: settings.Topic}, nil
}

type pubSubBus struct {
	client *pubsub.Client
	topic  string
}

func (p *pubSubBus) Publish(ctx context.Context, payload []byte, headers map[string]string) error {
	tracer := otel.Tracer("flowmirror")
	ctx, span := tracer.Start(ctx, "PublishErrorEvent",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(p.topic),
		),
	)
	defer span.End()

	// Inject the trace context into the message attributes
	propagator := otel.GetTextMapPropagator()
	attributes := make(map[string]string)
	propagator.Inject(ctx, propagation.MapCarrier(attributes))

	// Merge headers into attributes
	for key, value := range headers {
		attributes[key] = value
	}

	message := &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	}

	res := p.client.Topic(p.topic).Publish(ctx, message)
	_, err := res.Get(ctx) // wait for server ack
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	)

	return nil
}

func (p *pubSubBus) Subscribe(ctx context.Context, handler Handler) error {
	sub := p.client.Subscription(p.topic + "-consumer")
	return sub.Receive(ctx, func(ctx context.Context, message *pubsub.Message) {
		handler(message.Data, message.Attributes)
		message.Ack()
	})
}

func (p *pubSubBus) Close() error {
	return p.client.Close()
}
