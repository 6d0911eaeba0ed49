package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/dref-api/internal/models"
)

// redisPublisher is the subset of *redis.Client used to fan events out.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// EventBusRepository publishes lifecycle events to a Redis pub/sub channel.
type EventBusRepository struct {
	client  redisPublisher
	channel string
}

// NewEventBusRepository constructs the publisher. A nil client disables publishing.
func NewEventBusRepository(client redisPublisher, channel string) *EventBusRepository {
	return &EventBusRepository{client: client, channel: channel}
}

// Channel returns the channel events are published on.
func (r *EventBusRepository) Channel() string {
	return r.channel
}

// Publish serialises the event and returns the number of subscribers that received it.
func (r *EventBusRepository) Publish(ctx context.Context, event models.LifecycleEvent) (int64, error) {
	if r.client == nil {
		return 0, nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshal lifecycle event %s: %w", event.ID, err)
	}
	receivers, err := r.client.Publish(ctx, r.channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return receivers, nil
}
