// Package reminder owns the reminder surface: per-user preferences and the
// background processor that delivers due reminders.
package reminder

import (
	"context"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/in"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"
	"skillswap_server/pkg/clock"

	"github.com/google/uuid"
)

// Service implements in.ReminderService
type Service struct {
	uow out.UnitOfWork
	clk clock.Clock

	// offsets reported for users who never saved preferences
	defaultOffsets []int
}

var _ in.ReminderService = (*Service)(nil)

func NewService(uow out.UnitOfWork, clk clock.Clock, defaultOffsets []int) *Service {
	return &Service{uow: uow, clk: clk, defaultOffsets: defaultOffsets}
}

// GetSettings returns the saved preferences, or the defaults when the user
// never saved any.
func (s *Service) GetSettings(ctx context.Context, userID uuid.UUID) (*domain.ReminderSettings, error) {
	settings, err := s.uow.Read().ReminderSettings().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return domain.DefaultReminderSettings(userID, s.defaultOffsets), nil
	}
	return settings, nil
}

func (s *Service) SetSettings(ctx context.Context, settings *domain.ReminderSettings) (*domain.ReminderSettings, error) {
	if settings.UserID == uuid.Nil {
		return nil, apperr.MissingField("user_id")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now

	err := s.uow.WithinTx(ctx, func(tx out.RepositoryTx) error {
		return tx.ReminderSettings().Upsert(ctx, settings)
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// ListByAppointment returns the reminder rows of one appointment. Only a
// session party may look.
func (s *Service) ListByAppointment(ctx context.Context, appointmentID int64, userID uuid.UUID) ([]*domain.ScheduledReminder, error) {
	read := s.uow.Read()

	appt, err := read.Appointments().GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return nil, apperr.NotFound("appointment")
	}
	if !appt.IsParty(userID) {
		return nil, apperr.Forbidden("not a party of this appointment")
	}

	return read.ScheduledReminders().ListByAppointment(ctx, appointmentID)
}
