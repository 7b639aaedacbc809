package errorbus

import (
	"context"
	"fmt"

	"github.com/sbtg-data/flowmirror/pkg/config"
)

const defaultChannelBuffer = 256

// NewBus builds the error bus for the configured broker backend.
func NewBus(ctx context.Context, cfg *config.BrokerSettings) (Bus, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewRabbitMqBus(ctx, cfg)
	case "gcp-pubsub":
		return NewPubSubBus(ctx, cfg)
	case "channel":
		return NewChannelBus(defaultChannelBuffer), nil
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}
}
