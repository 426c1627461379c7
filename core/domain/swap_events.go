package domain

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// EventType names a domain event carried through the outbox.
type EventType string

const (
	EventConnectionCreated           EventType = "connection.created"
	EventSessionScheduled            EventType = "session.scheduled"
	EventSessionConfirmed            EventType = "session.confirmed"
	EventSessionStarted              EventType = "session.started"
	EventSessionCompleted            EventType = "session.completed"
	EventSessionCancelled            EventType = "session.cancelled"
	EventSessionRescheduleRequested  EventType = "session.reschedule_requested"
	EventSessionRescheduled          EventType = "session.rescheduled"
	EventSessionNoShow               EventType = "session.no_show"
	EventMeetingLinkGenerationFailed EventType = "session.meeting_link_failed"
)

// OutboxStatus is the dispatch state of an outbox row.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxDispatched OutboxStatus = "dispatched"
	OutboxFailed     OutboxStatus = "failed"
)

// OutboxEvent is a domain event persisted in the same transaction as the
// state change that produced it, dispatched at-least-once afterwards.
// AggregateID keys per-aggregate FIFO ordering.
type OutboxEvent struct {
	ID          int64           `json:"id"`
	EventType   EventType       `json:"event_type"`
	AggregateID int64           `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	Status      OutboxStatus    `json:"status"`

	Attempts     int        `json:"attempts"`
	LastError    *string    `json:"last_error,omitempty"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func newOutboxEvent(eventType EventType, aggregateID int64, payload any) (*OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     raw,
		Status:      OutboxPending,
	}, nil
}

// =============================================================================
// Event payloads
// =============================================================================

type ConnectionCreatedPayload struct {
	ConnectionID         int64          `json:"connection_id"`
	RequesterID          uuid.UUID      `json:"requester_id"`
	TargetUserID         uuid.UUID      `json:"target_user_id"`
	ConnectionType       ConnectionType `json:"connection_type"`
	SkillID              string         `json:"skill_id"`
	TotalSessionsPlanned int            `json:"total_sessions_planned"`
}

func NewConnectionCreatedEvent(c *Connection) (*OutboxEvent, error) {
	return newOutboxEvent(EventConnectionCreated, c.ID, ConnectionCreatedPayload{
		ConnectionID:         c.ID,
		RequesterID:          c.RequesterID,
		TargetUserID:         c.TargetUserID,
		ConnectionType:       c.ConnectionType,
		SkillID:              c.SkillID,
		TotalSessionsPlanned: c.TotalSessionsPlanned,
	})
}

type SessionScheduledPayload struct {
	AppointmentID   int64     `json:"appointment_id"`
	SessionSeriesID int64     `json:"session_series_id"`
	ScheduledDate   time.Time `json:"scheduled_date"`
	OrganizerID     uuid.UUID `json:"organizer_user_id"`
	ParticipantID   uuid.UUID `json:"participant_user_id"`
}

func NewSessionScheduledEvent(a *SessionAppointment) (*OutboxEvent, error) {
	return newOutboxEvent(EventSessionScheduled, a.ID, SessionScheduledPayload{
		AppointmentID:   a.ID,
		SessionSeriesID: a.SessionSeriesID,
		ScheduledDate:   a.ScheduledDate,
		OrganizerID:     a.OrganizerID,
		ParticipantID:   a.ParticipantID,
	})
}

type SessionCompletedPayload struct {
	AppointmentID   int64     `json:"appointment_id"`
	SessionSeriesID int64     `json:"session_series_id"`
	ScheduledDate   time.Time `json:"scheduled_date"`
	OrganizerID     uuid.UUID `json:"organizer_user_id"`
	ParticipantID   uuid.UUID `json:"participant_user_id"`
	DurationMinutes int       `json:"duration_minutes"`
}

func NewSessionCompletedEvent(a *SessionAppointment) (*OutboxEvent, error) {
	return newOutboxEvent(EventSessionCompleted, a.ID, SessionCompletedPayload{
		AppointmentID:   a.ID,
		SessionSeriesID: a.SessionSeriesID,
		ScheduledDate:   a.ScheduledDate,
		OrganizerID:     a.OrganizerID,
		ParticipantID:   a.ParticipantID,
		DurationMinutes: a.DurationMinutes,
	})
}

type SessionCancelledPayload struct {
	AppointmentID      int64      `json:"appointment_id"`
	SessionSeriesID    int64      `json:"session_series_id"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	Reason             string     `json:"reason,omitempty"`
	IsLateCancellation bool       `json:"is_late_cancellation"`
}

func NewSessionCancelledEvent(a *SessionAppointment) (*OutboxEvent, error) {
	reason := ""
	if a.CancelReason != nil {
		reason = *a.CancelReason
	}
	return newOutboxEvent(EventSessionCancelled, a.ID, SessionCancelledPayload{
		AppointmentID:      a.ID,
		SessionSeriesID:    a.SessionSeriesID,
		CancelledBy:        a.CancelledBy,
		Reason:             reason,
		IsLateCancellation: a.IsLateCancellation,
	})
}

type SessionRescheduleRequestedPayload struct {
	AppointmentID    int64      `json:"appointment_id"`
	SessionSeriesID  int64      `json:"session_series_id"`
	RequestedBy      *uuid.UUID `json:"requested_by,omitempty"`
	ProposedDate     *time.Time `json:"proposed_date,omitempty"`
	ProposedDuration *int       `json:"proposed_duration,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

func NewSessionRescheduleRequestedEvent(a *SessionAppointment) (*OutboxEvent, error) {
	reason := ""
	if a.RescheduleReason != nil {
		reason = *a.RescheduleReason
	}
	return newOutboxEvent(EventSessionRescheduleRequested, a.ID, SessionRescheduleRequestedPayload{
		AppointmentID:    a.ID,
		SessionSeriesID:  a.SessionSeriesID,
		RequestedBy:      a.RescheduleRequestedBy,
		ProposedDate:     a.ProposedDate,
		ProposedDuration: a.ProposedDuration,
		Reason:           reason,
	})
}

type SessionRescheduledPayload struct {
	AppointmentID   int64     `json:"appointment_id"`
	SessionSeriesID int64     `json:"session_series_id"`
	OldDate         time.Time `json:"old_date"`
	NewDate         time.Time `json:"new_date"`
	ApprovedBy      uuid.UUID `json:"approved_by"`
}

func NewSessionRescheduledEvent(a *SessionAppointment, oldDate time.Time, approvedBy uuid.UUID) (*OutboxEvent, error) {
	return newOutboxEvent(EventSessionRescheduled, a.ID, SessionRescheduledPayload{
		AppointmentID:   a.ID,
		SessionSeriesID: a.SessionSeriesID,
		OldDate:         oldDate,
		NewDate:         a.ScheduledDate,
		ApprovedBy:      approvedBy,
	})
}

type SessionNoShowPayload struct {
	AppointmentID   int64       `json:"appointment_id"`
	SessionSeriesID int64       `json:"session_series_id"`
	NoShowUserIDs   []uuid.UUID `json:"no_show_user_ids"`
	ReportedBy      *uuid.UUID  `json:"reported_by,omitempty"`
}

func NewSessionNoShowEvent(a *SessionAppointment) (*OutboxEvent, error) {
	return newOutboxEvent(EventSessionNoShow, a.ID, SessionNoShowPayload{
		AppointmentID:   a.ID,
		SessionSeriesID: a.SessionSeriesID,
		NoShowUserIDs:   a.NoShowUserIDs,
		ReportedBy:      a.NoShowReportedBy,
	})
}

type MeetingLinkFailedPayload struct {
	AppointmentID int64  `json:"appointment_id"`
	Error         string `json:"error"`
}

func NewMeetingLinkFailedEvent(appointmentID int64, cause string) (*OutboxEvent, error) {
	return newOutboxEvent(EventMeetingLinkGenerationFailed, appointmentID, MeetingLinkFailedPayload{
		AppointmentID: appointmentID,
		Error:         cause,
	})
}
