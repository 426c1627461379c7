// Package messaging publishes committed session events to Redis Streams
// for the downstream notification, chat, and search consumers.
package messaging

import (
	"context"
	"fmt"
	"strings"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Stream names. Events are routed by their type prefix so consumers can
// subscribe to one aggregate kind.
const (
	StreamConnectionEvents  = "session:connection"
	StreamAppointmentEvents = "session:appointment"
	StreamDefaultEvents     = "session:events"
)

// RedisProducer implements out.EventPublisher over Redis Streams.
// XADD is atomic per stream, so per-aggregate FIFO holds as long as the
// dispatcher publishes in outbox id order.
type RedisProducer struct {
	client *redis.Client
}

var _ out.EventPublisher = (*RedisProducer)(nil)

func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

func (p *RedisProducer) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", event.ID, err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamFor(event.EventType),
		ID:     "*",
		Values: map[string]interface{}{
			"event_id":     event.ID,
			"event_type":   string(event.EventType),
			"aggregate_id": event.AggregateID,
			"data":         string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish event %d to %s: %w", event.ID, streamFor(event.EventType), err)
	}
	return nil
}

func streamFor(eventType domain.EventType) string {
	switch {
	case strings.HasPrefix(string(eventType), "connection."):
		return StreamConnectionEvents
	case strings.HasPrefix(string(eventType), "session."):
		return StreamAppointmentEvents
	default:
		return StreamDefaultEvents
	}
}
