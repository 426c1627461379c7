package session

import (
	"context"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"
	"skillswap_server/pkg/logger"

	"github.com/google/uuid"
)

// reminderContext is the display data baked into reminder snapshots:
// partner names keyed by recipient, plus the skill name.
type reminderContext struct {
	partnerNames map[uuid.UUID]string
	skillName    string
}

// loadReminderContext resolves the external display names for both parties
// of an appointment. Lookup failures degrade to raw identifiers so reminder
// creation never blocks on the collaborator services.
func (s *Service) loadReminderContext(ctx context.Context, appointmentID int64) (*reminderContext, error) {
	read := s.uow.Read()

	appt, err := read.Appointments().GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return nil, apperr.NotFound("appointment")
	}
	series, err := read.Series().GetByID(ctx, appt.SessionSeriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, apperr.NotFound("session series")
	}

	rc := &reminderContext{
		partnerNames: map[uuid.UUID]string{
			// each recipient sees the other party's name
			appt.OrganizerID:   s.contactName(ctx, appt.ParticipantID),
			appt.ParticipantID: s.contactName(ctx, appt.OrganizerID),
		},
	}
	rc.skillName, err = s.skillName(ctx, series.SkillID)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func (s *Service) contactName(ctx context.Context, userID uuid.UUID) string {
	if s.contacts == nil {
		return userID.String()
	}
	contact, err := s.contacts.GetContact(ctx, userID)
	if err != nil || contact == nil {
		logger.WithError(err).WithField("user_id", userID).Warn("contact lookup failed")
		return userID.String()
	}
	return contact.DisplayName
}

// createReminders expands both parties' settings against the appointment
// snapshot. Users without saved settings get the configured defaults.
func (s *Service) createReminders(ctx context.Context, tx out.RepositoryTx, appt *domain.SessionAppointment, rc *reminderContext) error {
	now := s.clock.Now()

	var all []*domain.ScheduledReminder
	for _, userID := range []uuid.UUID{appt.OrganizerID, appt.ParticipantID} {
		settings, err := tx.ReminderSettings().Get(ctx, userID)
		if err != nil {
			return err
		}
		if settings == nil {
			settings = domain.DefaultReminderSettings(userID, s.defaultOffsets)
		}
		all = append(all, domain.BuildReminders(appt, userID, settings, rc.partnerNames[userID], rc.skillName, now)...)
	}

	return tx.ScheduledReminders().CreateBatch(ctx, all)
}

// AttachMeetingLink generates and stores the meeting link for one
// appointment and creates its reminders. Reminders are deliberately created
// only here: an appointment is announced once it is joinable. On failure a
// MeetingLinkGenerationFailed event is emitted and the background retry
// loop takes over. Safe to call repeatedly.
func (s *Service) AttachMeetingLink(ctx context.Context, appointmentID int64) {
	link, err := s.meetingLink.GenerateMeetingLink(ctx, appointmentID)
	if err != nil {
		logger.WithError(err).WithField("appointment_id", appointmentID).Warn("meeting link generation failed")
		s.recordLinkFailure(ctx, appointmentID, err)
		return
	}

	rc, err := s.loadReminderContext(ctx, appointmentID)
	if err != nil {
		logger.WithError(err).WithField("appointment_id", appointmentID).Error("reminder context load failed")
		return
	}

	err = s.uow.WithinTx(ctx, func(tx out.RepositoryTx) error {
		appt, err := tx.Appointments().GetByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt == nil {
			return apperr.NotFound("appointment")
		}
		if appt.IsTerminal() || appt.MeetingLink != nil {
			return nil
		}

		appt.MeetingLink = &link
		if err := tx.Appointments().Update(ctx, appt); err != nil {
			return err
		}
		return s.createReminders(ctx, tx, appt, rc)
	})
	if err != nil {
		logger.WithError(err).WithField("appointment_id", appointmentID).Error("meeting link persist failed")
	}
}

func (s *Service) recordLinkFailure(ctx context.Context, appointmentID int64, cause error) {
	event, err := domain.NewMeetingLinkFailedEvent(appointmentID, cause.Error())
	if err != nil {
		logger.WithError(err).Error("encode meeting link failed event")
		return
	}
	err = s.uow.WithinTx(ctx, func(tx out.RepositoryTx) error {
		return tx.Outbox().Append(ctx, event)
	})
	if err != nil {
		logger.WithError(err).WithField("appointment_id", appointmentID).Error("record meeting link failure")
	}
}
