package worker

import (
	"context"
	"fmt"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/in"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// MirrorWorker consumes appointment events off the stream and keeps the
// parties' external calendars in step: scheduled and rescheduled
// appointments are pushed out, terminal ones are withdrawn. Implements
// messaging.EventHandler.
type MirrorWorker struct {
	calendars in.CalendarService
	log       zerolog.Logger
}

func NewMirrorWorker(calendars in.CalendarService, log zerolog.Logger) *MirrorWorker {
	return &MirrorWorker{
		calendars: calendars,
		log:       log.With().Str("component", "mirror_worker").Logger(),
	}
}

func (w *MirrorWorker) Handle(ctx context.Context, stream string, data []byte) error {
	var event domain.OutboxEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	switch event.EventType {
	case domain.EventSessionScheduled, domain.EventSessionRescheduled:
		if err := w.calendars.MirrorAppointment(ctx, event.AggregateID); err != nil {
			return fmt.Errorf("mirror appointment %d: %w", event.AggregateID, err)
		}

	case domain.EventSessionCancelled, domain.EventSessionCompleted, domain.EventSessionNoShow:
		if err := w.calendars.RemoveMirror(ctx, event.AggregateID); err != nil {
			return fmt.Errorf("remove mirror %d: %w", event.AggregateID, err)
		}

	default:
		// other event types belong to other consumers
	}
	return nil
}
