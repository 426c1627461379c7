package calendar

import (
	"context"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"
	"skillswap_server/pkg/logger"

	"github.com/google/uuid"
)

// MirrorAppointment pushes the appointment into the linked calendars of
// both parties, updating the copies that already exist. Best-effort per
// integration: one provider failing does not block the others.
func (s *Service) MirrorAppointment(ctx context.Context, appointmentID int64) error {
	read := s.uow.Read()

	appt, err := read.Appointments().GetByID(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appt == nil {
		return apperr.NotFound("appointment")
	}

	existing, err := read.CalendarEventMirrors().ListByAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	byIntegration := make(map[int64]*out.CalendarEventMirror, len(existing))
	for _, m := range existing {
		byIntegration[m.IntegrationID] = m
	}

	event := providerEvent(appt)

	for _, userID := range []uuid.UUID{appt.OrganizerID, appt.ParticipantID} {
		integrations, err := read.CalendarIntegrations().ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, integration := range integrations {
			if err := s.mirrorOne(ctx, integration, byIntegration[integration.ID], appt, event); err != nil {
				logger.WithError(err).
					WithField("appointment_id", appt.ID).
					WithField("provider", string(integration.Provider)).
					Warn("calendar mirror failed")
			}
		}
	}
	return nil
}

func (s *Service) mirrorOne(ctx context.Context, integration *domain.CalendarIntegration, mirror *out.CalendarEventMirror, appt *domain.SessionAppointment, event *out.ProviderEvent) error {
	adapter, err := s.providers.Get(integration.Provider)
	if err != nil {
		return err
	}

	token := tokenOf(integration)
	if integration.NeedsRefresh(s.clk.Now()) {
		if token, err = s.refreshToken(ctx, adapter, integration); err != nil {
			return err
		}
	}

	if mirror != nil {
		return adapter.UpdateEvent(ctx, token, mirror.ExternalEventID, event, integration.CalendarID)
	}

	externalID, err := adapter.CreateEvent(ctx, token, event, integration.CalendarID)
	if err != nil {
		return err
	}
	return s.uow.WithinTx(ctx, func(tx out.RepositoryTx) error {
		return tx.CalendarEventMirrors().Save(ctx, &out.CalendarEventMirror{
			AppointmentID:   appt.ID,
			IntegrationID:   integration.ID,
			ExternalEventID: externalID,
		})
	})
}

// RemoveMirror deletes the external copies of an appointment, typically
// after cancellation.
func (s *Service) RemoveMirror(ctx context.Context, appointmentID int64) error {
	read := s.uow.Read()

	mirrors, err := read.CalendarEventMirrors().ListByAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}

	for _, mirror := range mirrors {
		integration, err := read.CalendarIntegrations().GetByID(ctx, mirror.IntegrationID)
		if err != nil {
			return err
		}
		if integration != nil {
			if err := s.deleteExternal(ctx, integration, mirror.ExternalEventID); err != nil {
				logger.WithError(err).
					WithField("appointment_id", appointmentID).
					WithField("provider", string(integration.Provider)).
					Warn("external event deletion failed")
				continue
			}
		}
		err = s.uow.WithinTx(ctx, func(tx out.RepositoryTx) error {
			return tx.CalendarEventMirrors().Delete(ctx, mirror.ID)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deleteExternal(ctx context.Context, integration *domain.CalendarIntegration, externalEventID string) error {
	adapter, err := s.providers.Get(integration.Provider)
	if err != nil {
		return err
	}

	token := tokenOf(integration)
	if integration.NeedsRefresh(s.clk.Now()) {
		if token, err = s.refreshToken(ctx, adapter, integration); err != nil {
			return err
		}
	}
	return adapter.DeleteEvent(ctx, token, externalEventID, integration.CalendarID)
}

// providerEvent renders the appointment as a provider-neutral event.
func providerEvent(appt *domain.SessionAppointment) *out.ProviderEvent {
	event := &out.ProviderEvent{
		Title:       appt.Title,
		Description: "SkillSwap session",
		Start:       appt.ScheduledDate,
		End:         appt.EndTime(),
	}
	if appt.MeetingLink != nil {
		event.MeetingURL = *appt.MeetingLink
		event.Location = *appt.MeetingLink
	}
	return event
}
