package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/followverify-worker/internal/processor"
)

const DefaultEventsChannel = "verification:decisions"

// EventPublisher publishes decision events on a Redis pub/sub channel
type EventPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewEventPublisher creates a publisher. An empty channel selects
// DefaultEventsChannel.
func NewEventPublisher(client redis.UniversalClient, channel string) *EventPublisher {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &EventPublisher{client: client, channel: channel}
}

// PublishDecision sends the event as JSON
func (p *EventPublisher) PublishDecision(ctx context.Context, event *processor.DecisionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal decision event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish decision event to %s: %w", p.channel, err)
	}
	return nil
}
