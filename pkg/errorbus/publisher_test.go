package errorbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sbtg-data/flowmirror/schema"
)

type capturingBus struct {
	payloads [][]byte
	fail     bool
}

func (c *capturingBus) Publish(ctx context.Context, payload []byte, headers map[string]string) error {
	if c.fail {
		return errors.New("broker unavailable")
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *capturingBus) Subscribe(ctx context.Context, handler Handler) error { return nil }
func (c *capturingBus) Close() error                                         { return nil }

func TestPublish_BuildsTimestampedEvent(t *testing.T) {
	bus := &capturingBus{}
	publisher := NewPublisher(bus)

	before := time.Now()
	err := publisher.Publish(context.Background(), "corr-1", "flow-1", "user-1", "endpoint returned status 500")
	assert.NoError(t, err)
	assert.Len(t, bus.payloads, 1)

	var event schema.ErrorEvent
	assert.NoError(t, json.Unmarshal(bus.payloads[0], &event))
	assert.Equal(t, "corr-1", event.Data)
	assert.Equal(t, "flow-1", event.FlowID)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, "endpoint returned status 500", event.Message)

	stamp, err := time.Parse(time.RFC3339Nano, event.Timestamp)
	assert.NoError(t, err)
	assert.False(t, stamp.Before(before.Truncate(time.Second)))
}

func TestPublish_OmitsAbsentOptionalFields(t *testing.T) {
	bus := &capturingBus{}
	publisher := NewPublisher(bus)

	err := publisher.Publish(context.Background(), "", "", "", "orphan failure")
	assert.NoError(t, err)

	var raw map[string]any
	assert.NoError(t, json.Unmarshal(bus.payloads[0], &raw))
	assert.NotContains(t, raw, "data")
	assert.NotContains(t, raw, "flow_id")
	assert.NotContains(t, raw, "user_id")
	assert.Equal(t, "orphan failure", raw["blad"])
}

func TestPublish_ReturnsBusErrorForCallerToSwallow(t *testing.T) {
	publisher := NewPublisher(&capturingBus{fail: true})

	err := publisher.Publish(context.Background(), "", "flow-1", "user-1", "boom")
	assert.Error(t, err)
}
