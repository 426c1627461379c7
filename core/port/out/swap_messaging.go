package out

import (
	"context"

	"skillswap_server/core/domain"
)

// EventPublisher pushes committed outbox events to the stream broker for
// downstream subscribers (notifications, chat, search). At-least-once.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.OutboxEvent) error
}

// EventArchive keeps a long-term copy of dispatched events for audit and
// replay. Write failures are logged, never fatal to dispatch.
type EventArchive interface {
	Archive(ctx context.Context, event *domain.OutboxEvent) error
}
