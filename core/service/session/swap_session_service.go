// Package session implements the orchestrator: the single entry point for
// every write on the Connection → SessionSeries → SessionAppointment
// hierarchy. Each command runs in one transaction; the Connection row is
// locked first, then the walk descends, which keeps lock ordering
// consistent across concurrent commands.
package session

import (
	"context"
	"fmt"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/in"
	"skillswap_server/core/port/out"
	"skillswap_server/core/service/scheduling"
	"skillswap_server/pkg/apperr"
	"skillswap_server/pkg/clock"
	"skillswap_server/pkg/logger"

	"github.com/google/uuid"
)

// BusySource supplies the merged busy intervals of one user: linked
// calendars plus already-scheduled appointments.
type BusySource interface {
	Busy(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]domain.BusyInterval, error)
}

// Service implements in.SessionService
type Service struct {
	uow         out.UnitOfWork
	meetingLink out.MeetingLinkPort
	contacts    out.UserContactPort
	skills      out.SkillLookupPort
	chat        out.ChatThreadPort
	busy        BusySource
	clock       clock.Clock

	// fallback offsets for users without saved reminder settings
	defaultOffsets []int
}

var _ in.SessionService = (*Service)(nil)

func NewService(
	uow out.UnitOfWork,
	meetingLink out.MeetingLinkPort,
	contacts out.UserContactPort,
	skills out.SkillLookupPort,
	chat out.ChatThreadPort,
	busy BusySource,
	clk clock.Clock,
	defaultOffsets []int,
) *Service {
	return &Service{
		uow:            uow,
		meetingLink:    meetingLink,
		contacts:       contacts,
		skills:         skills,
		chat:           chat,
		busy:           busy,
		clock:          clk,
		defaultOffsets: defaultOffsets,
	}
}

// =============================================================================
// CreateSessionHierarchyFromMatch
// =============================================================================

func (s *Service) CreateSessionHierarchyFromMatch(ctx context.Context, req *in.CreateHierarchyRequest) (*in.HierarchyResult, error) {
	now := s.clock.Now()
	if req.Preferences == nil {
		return nil, apperr.MissingField("preferences")
	}

	conn := &domain.Connection{
		MatchRequestID:       req.MatchRequestID,
		RequesterID:          req.RequesterID,
		TargetUserID:         req.TargetUserID,
		ConnectionType:       req.ConnectionType,
		SkillID:              req.SkillID,
		ExchangeSkillID:      req.ExchangeSkillID,
		PaymentRatePerHour:   req.RatePerHour,
		Currency:             req.Currency,
		TotalSessionsPlanned: req.Preferences.TotalSessions,
		CreatedAt:            now,
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}

	// Busy lookup and slot generation happen before the transaction; the
	// generator is pure and the calendars are external anyway.
	slots, warning, err := s.generateSlots(ctx, conn, req.Preferences, now)
	if err != nil {
		return nil, err
	}

	result := &in.HierarchyResult{Warning: warning}

	err = s.uow.WithinTx(ctx, func(tx out.RepositoryTx) error {
		existing, err := tx.Connections().GetByMatchRequestID(ctx, req.MatchRequestID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Conflict("match request is already materialized").
				WithDetail("connection_id", existing.ID)
		}

		if err := tx.Connections().Create(ctx, conn); err != nil {
			return err
		}

		series, err := s.createSeries(ctx, tx, conn, req.Preferences)
		if err != nil {
			return err
		}

		appts, err := s.createAppointments(ctx, tx, conn, series, slots)
		if err != nil {
			return err
		}

		event, err := domain.NewConnectionCreatedEvent(conn)
		if err != nil {
			return apperr.Fatal("encode connection created event", err)
		}
		if err := tx.Outbox().Append(ctx, event); err != nil {
			return err
		}
		for _, appt := range appts {
			scheduled, err := domain.NewSessionScheduledEvent(appt)
			if err != nil {
				return apperr.Fatal("encode session scheduled event", err)
			}
			if err := tx.Outbox().Append(ctx, scheduled); err != nil {
				return err
			}
		}

		result.Connection = conn
		result.Series = series
		result.Appointments = appts
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Post-commit best-effort work: chat thread and meeting links. Link
	// failures are recorded and retried by the background loop.
	if s.chat != nil {
		if _, err := s.chat.CreateThread(ctx, conn.ID, conn.RequesterID, conn.TargetUserID); err != nil {
			logger.WithError(err).WithField("connection_id", conn.ID).Warn("chat thread creation failed")
		}
	}
	for _, appt := range result.Appointments {
		s.AttachMeetingLink(ctx, appt.ID)
	}

	return result, nil
}

func (s *Service) generateSlots(ctx context.Context, conn *domain.Connection, prefs *domain.SchedulePreferences, now time.Time) ([]domain.CandidateSlot, string, error) {
	if prefs.EarliestStartDate.IsZero() {
		prefs.EarliestStartDate = now
	}

	windowEnd := prefs.EarliestStartDate.AddDate(1, 0, 0)
	busyA, err := s.partyBusy(ctx, conn.RequesterID, prefs.EarliestStartDate, windowEnd)
	if err != nil {
		return nil, "", err
	}
	busyB, err := s.partyBusy(ctx, conn.TargetUserID, prefs.EarliestStartDate, windowEnd)
	if err != nil {
		return nil, "", err
	}

	slots, err := scheduling.GenerateSlots(&scheduling.Input{
		Preferences:        *prefs,
		Busy:               domain.MergeBusy(busyA, busyB),
		OrganizerID:        conn.RequesterID,
		ParticipantID:      conn.TargetUserID,
		AlternateOrganizer: conn.ConnectionType == domain.ConnectionTypeSkillExchange,
	})
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNoFeasibleSchedule) {
			// The hierarchy is still created; sessions get scheduled
			// manually later.
			return nil, apperr.CodeNoFeasibleSchedule, nil
		}
		return nil, "", err
	}
	return slots, "", nil
}

func (s *Service) partyBusy(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]domain.BusyInterval, error) {
	if s.busy == nil {
		return nil, nil
	}
	intervals, err := s.busy.Busy(ctx, userID, start, end)
	if err != nil {
		// Calendar trouble must not block materializing the match.
		logger.WithError(err).WithField("user_id", userID).Warn("busy lookup failed, scheduling without calendar data")
		return nil, nil
	}
	return intervals, nil
}

func (s *Service) createSeries(ctx context.Context, tx out.RepositoryTx, conn *domain.Connection, prefs *domain.SchedulePreferences) ([]*domain.SessionSeries, error) {
	primaryName, err := s.skillName(ctx, conn.SkillID)
	if err != nil {
		return nil, err
	}

	if conn.ConnectionType != domain.ConnectionTypeSkillExchange {
		series := &domain.SessionSeries{
			ConnectionID:           conn.ID,
			TeacherID:              conn.TargetUserID,
			LearnerID:              conn.RequesterID,
			SkillID:                conn.SkillID,
			TotalSessions:          prefs.TotalSessions,
			DefaultDurationMinutes: prefs.DurationMinutes,
			Title:                  primaryName,
		}
		if err := series.Validate(); err != nil {
			return nil, err
		}
		if err := tx.Series().Create(ctx, series); err != nil {
			return nil, err
		}
		return []*domain.SessionSeries{series}, nil
	}

	exchangeName, err := s.skillName(ctx, *conn.ExchangeSkillID)
	if err != nil {
		return nil, err
	}

	firstCount, secondCount := domain.SplitSessions(prefs.TotalSessions)

	// Series one: the requester teaches the primary skill.
	first := &domain.SessionSeries{
		ConnectionID:           conn.ID,
		TeacherID:              conn.RequesterID,
		LearnerID:              conn.TargetUserID,
		SkillID:                conn.SkillID,
		TotalSessions:          firstCount,
		DefaultDurationMinutes: prefs.DurationMinutes,
		Title:                  primaryName,
	}
	second := &domain.SessionSeries{
		ConnectionID:           conn.ID,
		TeacherID:              conn.TargetUserID,
		LearnerID:              conn.RequesterID,
		SkillID:                *conn.ExchangeSkillID,
		TotalSessions:          secondCount,
		DefaultDurationMinutes: prefs.DurationMinutes,
		Title:                  exchangeName,
	}

	series := []*domain.SessionSeries{first, second}
	for _, sr := range series {
		if sr.TotalSessions == 0 {
			continue
		}
		if err := sr.Validate(); err != nil {
			return nil, err
		}
	}
	for _, sr := range series {
		if err := tx.Series().Create(ctx, sr); err != nil {
			return nil, err
		}
	}
	return series, nil
}

func (s *Service) skillName(ctx context.Context, skillID string) (string, error) {
	if s.skills == nil {
		return skillID, nil
	}
	name, err := s.skills.GetSkillName(ctx, skillID)
	if err != nil {
		logger.WithError(err).WithField("skill_id", skillID).Warn("skill lookup failed, using raw id")
		return skillID, nil
	}
	return name, nil
}

// createAppointments assigns slot i (1-based) to the first series when odd,
// to the second when even. The session number is the global sequence, which
// stays unique within each series.
func (s *Service) createAppointments(ctx context.Context, tx out.RepositoryTx, conn *domain.Connection, series []*domain.SessionSeries, slots []domain.CandidateSlot) ([]*domain.SessionAppointment, error) {
	appts := make([]*domain.SessionAppointment, 0, len(slots))

	for i, slot := range slots {
		target := series[0]
		if conn.ConnectionType == domain.ConnectionTypeSkillExchange && i%2 == 1 {
			target = series[1]
		}

		appt := &domain.SessionAppointment{
			SessionSeriesID: target.ID,
			SessionNumber:   i + 1,
			Title:           fmt.Sprintf("%s - Session %d", target.Title, i+1),
			ScheduledDate:   slot.ScheduledDate,
			DurationMinutes: slot.DurationMinutes,
			OrganizerID:     slot.OrganizerID,
			ParticipantID:   slot.ParticipantID,
			Status:          domain.AppointmentScheduled,
			IsAutoCreated:   true,
		}
		if err := appt.Validate(); err != nil {
			return nil, err
		}
		if err := tx.Appointments().Create(ctx, appt); err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, nil
}

// =============================================================================
// ScheduleSession
// =============================================================================

func (s *Service) ScheduleSession(ctx context.Context, req *in.ScheduleSessionRequest) (*domain.SessionAppointment, error) {
	now := s.clock.Now()
	if req.ScheduledDate.Before(now) {
		return nil, apperr.InvalidInput("scheduled_date", "must be in the future")
	}

	var appt *domain.SessionAppointment

	err := s.uow.WithinTx(ctx, func(tx out.RepositoryTx) error {
		series, err := tx.Series().GetByID(ctx, req.SeriesID)
		if err != nil {
			return err
		}
		if series == nil {
			return apperr.NotFound("session series")
		}

		conn, err := tx.Connections().GetByIDForUpdate(ctx, series.ConnectionID)
		if err != nil {
			return err
		}
		if conn == nil {
			return apperr.NotFound("connection")
		}
		if !conn.IsParty(req.RequestedBy) {
			return apperr.Forbidden("only a connection party may schedule sessions")
		}
		if series.IsComplete() {
			return apperr.Conflict("all sessions of this series are completed")
		}

		number, err := tx.Appointments().NextSessionNumber(ctx, series.ID)
		if err != nil {
			return err
		}

		duration := req.DurationMinutes
		if duration == 0 {
			duration = series.DefaultDurationMinutes
		}
		title := req.Title
		if title == "" {
			title = fmt.Sprintf("%s - Session %d", series.Title, number)
		}

		appt = &domain.SessionAppointment{
			SessionSeriesID: series.ID,
			SessionNumber:   number,
			Title:           title,
			ScheduledDate:   req.ScheduledDate,
			DurationMinutes: duration,
			OrganizerID:     series.TeacherID,
			ParticipantID:   series.LearnerID,
			Status:          domain.AppointmentScheduled,
		}
		if err := appt.Validate(); err != nil {
			return err
		}
		if err := tx.Appointments().Create(ctx, appt); err != nil {
			return err
		}

		event, err := domain.NewSessionScheduledEvent(appt)
		if err != nil {
			return apperr.Fatal("encode session scheduled event", err)
		}
		return tx.Outbox().Append(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.AttachMeetingLink(ctx, appt.ID)
	return appt, nil
}

// =============================================================================
// Lifecycle transitions
// =============================================================================

func (s *Service) ConfirmSession(ctx context.Context, appointmentID int64, userID uuid.UUID) (*domain.SessionAppointment, error) {
	return s.transition(ctx, appointmentID, userID, func(appt *domain.SessionAppointment, _ *apptScope) (*domain.OutboxEvent, error) {
		if err := appt.Apply(domain.EventConfirm, s.clock.Now()); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (s *Service) StartSession(ctx context.Context, appointmentID int64, userID uuid.UUID) (*domain.SessionAppointment, error) {
	return s.transition(ctx, appointmentID, userID, func(appt *domain.SessionAppointment, _ *apptScope) (*domain.OutboxEvent, error) {
		if err := appt.Apply(domain.EventStart, s.clock.Now()); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (s *Service) CompleteSession(ctx context.Context, appointmentID int64, userID uuid.UUID) (*domain.SessionAppointment, error) {
	return s.transition(ctx, appointmentID, userID, func(appt *domain.SessionAppointment, scope *apptScope) (*domain.OutboxEvent, error) {
		now := s.clock.Now()
		if err := appt.Apply(domain.EventFinish, now); err != nil {
			return nil, err
		}
		if err := scope.series.RecordCompletion(now); err != nil {
			return nil, err
		}
		if err := scope.conn.RecordCompletion(scope.series.TeacherID, appt.DurationMinutes, now); err != nil {
			return nil, err
		}
		scope.seriesDirty = true
		scope.connDirty = true
		scope.cancelReminders = true

		event, err := domain.NewSessionCompletedEvent(appt)
		if err != nil {
			return nil, apperr.Fatal("encode session completed event", err)
		}
		return event, nil
	})
}

func (s *Service) CancelSession(ctx context.Context, req *in.CancelSessionRequest) (*domain.SessionAppointment, error) {
	return s.transition(ctx, req.AppointmentID, req.CancelledBy, func(appt *domain.SessionAppointment, scope *apptScope) (*domain.OutboxEvent, error) {
		if err := appt.Cancel(req.CancelledBy, req.Reason, s.clock.Now()); err != nil {
			return nil, err
		}
		scope.cancelReminders = true

		event, err := domain.NewSessionCancelledEvent(appt)
		if err != nil {
			return nil, apperr.Fatal("encode session cancelled event", err)
		}
		return event, nil
	})
}

func (s *Service) RequestReschedule(ctx context.Context, req *in.RescheduleRequest) (*domain.SessionAppointment, error) {
	return s.transition(ctx, req.AppointmentID, req.RequestedBy, func(appt *domain.SessionAppointment, _ *apptScope) (*domain.OutboxEvent, error) {
		err := appt.RequestReschedule(req.RequestedBy, req.ProposedDate, req.ProposedDuration, req.Reason, s.clock.Now())
		if err != nil {
			return nil, err
		}
		event, err := domain.NewSessionRescheduleRequestedEvent(appt)
		if err != nil {
			return nil, apperr.Fatal("encode reschedule requested event", err)
		}
		return event, nil
	})
}

func (s *Service) ApproveReschedule(ctx context.Context, appointmentID int64, approverID uuid.UUID) (*domain.SessionAppointment, error) {
	// Contact and skill names for the regenerated reminder snapshots are
	// resolved before the transaction opens.
	snapshot, err := s.loadReminderContext(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	return s.transition(ctx, appointmentID, approverID, func(appt *domain.SessionAppointment, scope *apptScope) (*domain.OutboxEvent, error) {
		now := s.clock.Now()
		oldDate, err := appt.ApproveReschedule(approverID, now)
		if err != nil {
			return nil, err
		}
		scope.cancelReminders = true
		scope.rebuildReminders = snapshot

		event, err := domain.NewSessionRescheduledEvent(appt, oldDate, approverID)
		if err != nil {
			return nil, apperr.Fatal("encode session rescheduled event", err)
		}
		return event, nil
	})
}

func (s *Service) RejectReschedule(ctx context.Context, appointmentID int64, approverID uuid.UUID) (*domain.SessionAppointment, error) {
	return s.transition(ctx, appointmentID, approverID, func(appt *domain.SessionAppointment, _ *apptScope) (*domain.OutboxEvent, error) {
		if err := appt.RejectReschedule(approverID, s.clock.Now()); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (s *Service) MarkNoShow(ctx context.Context, req *in.MarkNoShowRequest) (*domain.SessionAppointment, error) {
	return s.transition(ctx, req.AppointmentID, req.ReportedBy, func(appt *domain.SessionAppointment, scope *apptScope) (*domain.OutboxEvent, error) {
		if err := appt.MarkNoShow(req.ReportedBy, req.NoShowUserIDs, s.clock.Now()); err != nil {
			return nil, err
		}
		scope.cancelReminders = true

		event, err := domain.NewSessionNoShowEvent(appt)
		if err != nil {
			return nil, apperr.Fatal("encode no show event", err)
		}
		return event, nil
	})
}

// =============================================================================
// Shared transition plumbing
// =============================================================================

// apptScope carries the locked aggregate walk of one transition and the
// side effects the mutation requested.
type apptScope struct {
	conn   *domain.Connection
	series *domain.SessionSeries

	connDirty        bool
	seriesDirty      bool
	cancelReminders  bool
	rebuildReminders *reminderContext
}

type mutateFunc func(appt *domain.SessionAppointment, scope *apptScope) (*domain.OutboxEvent, error)

// transition loads the appointment, locks its Connection, applies the
// mutation, persists whatever changed, and appends the event. The caller's
// mutation sees the post-lock state, so concurrent commands serialize on
// the Connection row and losers observe the winner's transition.
func (s *Service) transition(ctx context.Context, appointmentID int64, userID uuid.UUID, mutate mutateFunc) (*domain.SessionAppointment, error) {
	var result *domain.SessionAppointment

	err := s.uow.WithinTx(ctx, func(tx out.RepositoryTx) error {
		probe, err := tx.Appointments().GetByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if probe == nil {
			return apperr.NotFound("appointment")
		}

		series, err := tx.Series().GetByID(ctx, probe.SessionSeriesID)
		if err != nil {
			return err
		}
		if series == nil {
			return apperr.NotFound("session series")
		}

		// Lock the root first, then re-read the appointment under the lock.
		conn, err := tx.Connections().GetByIDForUpdate(ctx, series.ConnectionID)
		if err != nil {
			return err
		}
		if conn == nil {
			return apperr.NotFound("connection")
		}

		appt, err := tx.Appointments().GetByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt == nil {
			return apperr.NotFound("appointment")
		}
		if !appt.IsParty(userID) {
			return apperr.Forbidden("only a session party may modify the appointment")
		}

		scope := &apptScope{conn: conn, series: series}
		event, err := mutate(appt, scope)
		if err != nil {
			return err
		}

		if err := tx.Appointments().Update(ctx, appt); err != nil {
			return err
		}
		if scope.seriesDirty {
			if err := tx.Series().Update(ctx, series); err != nil {
				return err
			}
		}
		if scope.connDirty {
			if err := tx.Connections().Update(ctx, conn); err != nil {
				return err
			}
		}
		if scope.cancelReminders {
			if err := tx.ScheduledReminders().CancelPending(ctx, appt.ID); err != nil {
				return err
			}
		}
		if scope.rebuildReminders != nil {
			if err := s.createReminders(ctx, tx, appt, scope.rebuildReminders); err != nil {
				return err
			}
		}
		if event != nil {
			if err := tx.Outbox().Append(ctx, event); err != nil {
				return err
			}
		}

		result = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// Queries
// =============================================================================

func (s *Service) GetConnection(ctx context.Context, connectionID int64, userID uuid.UUID) (*in.ConnectionDetail, error) {
	read := s.uow.Read()

	conn, err := read.Connections().GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, apperr.NotFound("connection")
	}
	if !conn.IsParty(userID) {
		return nil, apperr.Forbidden("not a party of this connection")
	}

	series, err := read.Series().ListByConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	detail := &in.ConnectionDetail{Connection: conn, Series: series}
	for _, sr := range series {
		appts, err := read.Appointments().ListBySeries(ctx, sr.ID)
		if err != nil {
			return nil, err
		}
		detail.Appointments = append(detail.Appointments, appts...)
	}
	return detail, nil
}

func (s *Service) ListConnections(ctx context.Context, userID uuid.UUID, page *domain.PageRequest) ([]*domain.Connection, *domain.PageResponse, error) {
	if page == nil {
		page = &domain.PageRequest{Page: 1, PageSize: 20}
	}

	conns, total, err := s.uow.Read().Connections().ListByUser(ctx, userID, page)
	if err != nil {
		return nil, nil, err
	}
	return conns, domain.NewPageResponse(page.Page, page.Limit(), total), nil
}

func (s *Service) GetAppointment(ctx context.Context, appointmentID int64, userID uuid.UUID) (*domain.SessionAppointment, error) {
	appt, err := s.uow.Read().Appointments().GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return nil, apperr.NotFound("appointment")
	}
	if !appt.IsParty(userID) {
		return nil, apperr.Forbidden("not a party of this appointment")
	}
	return appt, nil
}

func (s *Service) ListAppointments(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.SessionAppointment, error) {
	return s.uow.Read().Appointments().ListByUser(ctx, userID, from, to)
}
