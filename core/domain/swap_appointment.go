package domain

import (
	"time"

	"github.com/google/uuid"

	"skillswap_server/pkg/apperr"
)

// AppointmentStatus is the lifecycle state of a single scheduled meeting.
type AppointmentStatus string

const (
	AppointmentScheduled           AppointmentStatus = "scheduled"
	AppointmentConfirmed           AppointmentStatus = "confirmed"
	AppointmentInProgress          AppointmentStatus = "in_progress"
	AppointmentCompleted           AppointmentStatus = "completed"
	AppointmentCancelled           AppointmentStatus = "cancelled"
	AppointmentNoShow              AppointmentStatus = "no_show"
	AppointmentRescheduleRequested AppointmentStatus = "reschedule_requested"
)

// AppointmentEvent names a lifecycle trigger applied to an appointment.
type AppointmentEvent string

const (
	EventConfirm           AppointmentEvent = "confirm"
	EventStart             AppointmentEvent = "start"
	EventFinish            AppointmentEvent = "finish"
	EventCancel            AppointmentEvent = "cancel"
	EventRequestReschedule AppointmentEvent = "request_reschedule"
	EventApproveReschedule AppointmentEvent = "approve_reschedule"
	EventRejectReschedule  AppointmentEvent = "reject_reschedule"
	EventMarkNoShow        AppointmentEvent = "mark_no_show"
)

// transitions is the closed set of allowed (state, event) pairs. Anything
// not listed is rejected with IllegalTransition.
var transitions = map[AppointmentStatus]map[AppointmentEvent]AppointmentStatus{
	AppointmentScheduled: {
		EventConfirm:           AppointmentConfirmed,
		EventStart:             AppointmentInProgress,
		EventCancel:            AppointmentCancelled,
		EventRequestReschedule: AppointmentRescheduleRequested,
		EventFinish:            AppointmentCompleted,
		EventMarkNoShow:        AppointmentNoShow,
	},
	AppointmentConfirmed: {
		EventStart:             AppointmentInProgress,
		EventCancel:            AppointmentCancelled,
		EventRequestReschedule: AppointmentRescheduleRequested,
		EventFinish:            AppointmentCompleted,
		EventMarkNoShow:        AppointmentNoShow,
	},
	AppointmentInProgress: {
		EventFinish:     AppointmentCompleted,
		EventCancel:     AppointmentCancelled,
		EventMarkNoShow: AppointmentNoShow,
	},
	AppointmentRescheduleRequested: {
		EventApproveReschedule: AppointmentScheduled,
		EventCancel:            AppointmentCancelled,
		EventMarkNoShow:        AppointmentNoShow,
		// reject returns to the pre-request status, resolved in Apply.
		EventRejectReschedule: AppointmentScheduled,
	},
}

// SessionAppointment is one scheduled meeting of a series.
type SessionAppointment struct {
	ID              int64             `json:"id"`
	SessionSeriesID int64             `json:"session_series_id"`
	SessionNumber   int               `json:"session_number"`
	Title           string            `json:"title"`
	ScheduledDate   time.Time         `json:"scheduled_date"`
	DurationMinutes int               `json:"duration_minutes"`
	OrganizerID     uuid.UUID         `json:"organizer_user_id"`
	ParticipantID   uuid.UUID         `json:"participant_user_id"`
	MeetingLink     *string           `json:"meeting_link,omitempty"`
	Status          AppointmentStatus `json:"status"`

	// Status held before a reschedule request, restored on reject.
	PreviousStatus *AppointmentStatus `json:"-"`

	CancelledBy  *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelReason *string    `json:"cancel_reason,omitempty"`

	RescheduleRequestedBy *uuid.UUID `json:"reschedule_requested_by,omitempty"`
	ProposedDate          *time.Time `json:"proposed_date,omitempty"`
	ProposedDuration      *int       `json:"proposed_duration,omitempty"`
	RescheduleReason      *string    `json:"reschedule_reason,omitempty"`

	NoShowUserIDs      []uuid.UUID `json:"no_show_user_ids,omitempty"`
	NoShowReportedBy   *uuid.UUID  `json:"no_show_reported_by,omitempty"`
	IsAutoCreated      bool        `json:"is_auto_created"`
	IsLateCancellation bool        `json:"is_late_cancellation"`

	TerminatedAt *time.Time `json:"terminated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IsDeleted bool       `json:"-"`
	DeletedAt *time.Time `json:"-"`
}

func (a *SessionAppointment) Validate() error {
	if a.SessionNumber < 1 {
		return apperr.InvalidInput("session_number", "must be at least 1")
	}
	if a.DurationMinutes <= 0 {
		return apperr.InvalidInput("duration_minutes", "must be positive")
	}
	if a.OrganizerID == a.ParticipantID {
		return apperr.InvalidInput("participant_user_id", "organizer and participant must be distinct")
	}
	return nil
}

// IsTerminal reports whether the appointment has reached a final state.
func (a *SessionAppointment) IsTerminal() bool {
	switch a.Status {
	case AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

// EndTime is the instant the meeting is over.
func (a *SessionAppointment) EndTime() time.Time {
	return a.ScheduledDate.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// IsParty reports whether the user is organizer or participant.
func (a *SessionAppointment) IsParty(userID uuid.UUID) bool {
	return userID == a.OrganizerID || userID == a.ParticipantID
}

// CanApply reports whether the event is legal from the current status.
func (a *SessionAppointment) CanApply(event AppointmentEvent) bool {
	allowed, ok := transitions[a.Status]
	if !ok {
		return false
	}
	_, ok = allowed[event]
	return ok
}

// Apply advances the state machine. On reject-reschedule the appointment
// returns to whatever non-terminal status it held before the request.
// Terminal entry stamps TerminatedAt.
func (a *SessionAppointment) Apply(event AppointmentEvent, now time.Time) error {
	allowed, ok := transitions[a.Status]
	if !ok {
		return apperr.IllegalTransition(string(a.Status), string(event))
	}
	next, ok := allowed[event]
	if !ok {
		return apperr.IllegalTransition(string(a.Status), string(event))
	}

	switch event {
	case EventRequestReschedule:
		prev := a.Status
		a.PreviousStatus = &prev
	case EventRejectReschedule:
		if a.PreviousStatus != nil {
			next = *a.PreviousStatus
		}
		a.PreviousStatus = nil
	case EventApproveReschedule:
		a.PreviousStatus = nil
	}

	a.Status = next
	a.UpdatedAt = now
	if a.IsTerminal() {
		t := now
		a.TerminatedAt = &t
	}
	return nil
}

// Cancel applies the cancel transition and records who and why. A cancel
// within 24h of the scheduled start is flagged as late.
func (a *SessionAppointment) Cancel(by uuid.UUID, reason string, now time.Time) error {
	if err := a.Apply(EventCancel, now); err != nil {
		return err
	}
	a.CancelledBy = &by
	if reason != "" {
		a.CancelReason = &reason
	}
	a.IsLateCancellation = a.ScheduledDate.Sub(now) < 24*time.Hour
	return nil
}

// RequestReschedule stores the proposal and moves to RescheduleRequested.
// The proposed date must be more than one hour in the future.
func (a *SessionAppointment) RequestReschedule(by uuid.UUID, proposedDate time.Time, proposedDuration int, reason string, now time.Time) error {
	if !a.IsParty(by) {
		return apperr.Forbidden("only a session party may request a reschedule")
	}
	if !proposedDate.After(now.Add(time.Hour)) {
		return apperr.InvalidInput("proposed_date", "must be more than one hour in the future")
	}
	if proposedDuration <= 0 {
		proposedDuration = a.DurationMinutes
	}
	if err := a.Apply(EventRequestReschedule, now); err != nil {
		return err
	}
	a.RescheduleRequestedBy = &by
	a.ProposedDate = &proposedDate
	a.ProposedDuration = &proposedDuration
	if reason != "" {
		a.RescheduleReason = &reason
	}
	return nil
}

// ApproveReschedule moves the schedule to the proposed values and returns
// the appointment to Scheduled. The approver must be the other party.
func (a *SessionAppointment) ApproveReschedule(by uuid.UUID, now time.Time) (oldDate time.Time, err error) {
	if a.Status != AppointmentRescheduleRequested {
		return time.Time{}, apperr.IllegalTransition(string(a.Status), string(EventApproveReschedule))
	}
	if a.RescheduleRequestedBy != nil && *a.RescheduleRequestedBy == by {
		return time.Time{}, apperr.IllegalTransition(string(a.Status), "self_approval")
	}
	if !a.IsParty(by) {
		return time.Time{}, apperr.Forbidden("only a session party may approve a reschedule")
	}
	if a.ProposedDate == nil {
		return time.Time{}, apperr.Fatal("reschedule request without a proposed date", nil)
	}

	oldDate = a.ScheduledDate
	if err := a.Apply(EventApproveReschedule, now); err != nil {
		return time.Time{}, err
	}
	a.ScheduledDate = *a.ProposedDate
	if a.ProposedDuration != nil {
		a.DurationMinutes = *a.ProposedDuration
	}
	a.clearProposal()
	return oldDate, nil
}

// RejectReschedule clears the proposal and restores the prior status.
func (a *SessionAppointment) RejectReschedule(by uuid.UUID, now time.Time) error {
	if a.Status != AppointmentRescheduleRequested {
		return apperr.IllegalTransition(string(a.Status), string(EventRejectReschedule))
	}
	if a.RescheduleRequestedBy != nil && *a.RescheduleRequestedBy == by {
		return apperr.IllegalTransition(string(a.Status), "self_approval")
	}
	if !a.IsParty(by) {
		return apperr.Forbidden("only a session party may reject a reschedule")
	}
	if err := a.Apply(EventRejectReschedule, now); err != nil {
		return err
	}
	a.clearProposal()
	return nil
}

// MarkNoShow records the absent parties. Only allowed once the meeting's
// end time has passed.
func (a *SessionAppointment) MarkNoShow(reportedBy uuid.UUID, absent []uuid.UUID, now time.Time) error {
	if now.Before(a.EndTime()) {
		return apperr.InvalidInput("appointment", "cannot report a no-show before the session end time")
	}
	if err := a.Apply(EventMarkNoShow, now); err != nil {
		return err
	}
	a.NoShowReportedBy = &reportedBy
	a.NoShowUserIDs = absent
	return nil
}

func (a *SessionAppointment) clearProposal() {
	a.RescheduleRequestedBy = nil
	a.ProposedDate = nil
	a.ProposedDuration = nil
	a.RescheduleReason = nil
}
