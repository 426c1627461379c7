package mongodb

import (
	"context"
	"fmt"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const eventCollection = "session_events"

// EventArchive keeps a long-term copy of every dispatched outbox event
// for audit and replay. Dispatch treats archive failures as non-fatal.
type EventArchive struct {
	collection *mongo.Collection
}

var _ out.EventArchive = (*EventArchive)(nil)

func NewEventArchive(client *mongo.Client, database string) *EventArchive {
	return &EventArchive{
		collection: client.Database(database).Collection(eventCollection),
	}
}

type archivedEvent struct {
	EventID     int64     `bson:"event_id"`
	EventType   string    `bson:"event_type"`
	AggregateID int64     `bson:"aggregate_id"`
	Payload     string    `bson:"payload"`
	CreatedAt   time.Time `bson:"created_at"`
	ArchivedAt  time.Time `bson:"archived_at"`
}

func (a *EventArchive) Archive(ctx context.Context, event *domain.OutboxEvent) error {
	doc := archivedEvent{
		EventID:     event.ID,
		EventType:   string(event.EventType),
		AggregateID: event.AggregateID,
		Payload:     string(event.Payload),
		CreatedAt:   event.CreatedAt,
		ArchivedAt:  time.Now().UTC(),
	}

	// upsert keyed on event id keeps redelivery idempotent
	_, err := a.collection.ReplaceOne(ctx,
		bson.M{"event_id": event.ID}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("archive event %d: %w", event.ID, err)
	}
	return nil
}
