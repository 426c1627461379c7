package in

import (
	"context"

	"skillswap_server/core/domain"

	"github.com/google/uuid"
)

// ReminderService manages per-user reminder preferences and exposes the
// reminder rows for inspection.
type ReminderService interface {
	GetSettings(ctx context.Context, userID uuid.UUID) (*domain.ReminderSettings, error)
	SetSettings(ctx context.Context, settings *domain.ReminderSettings) (*domain.ReminderSettings, error)
	ListByAppointment(ctx context.Context, appointmentID int64, userID uuid.UUID) ([]*domain.ScheduledReminder, error)
}
