package in

import (
	"context"
	"time"

	"skillswap_server/core/domain"

	"github.com/google/uuid"
)

// SessionService is the inbound port of the session orchestrator. Every
// command runs in one transaction and publishes its domain events through
// the outbox.
type SessionService interface {
	CreateSessionHierarchyFromMatch(ctx context.Context, req *CreateHierarchyRequest) (*HierarchyResult, error)

	ScheduleSession(ctx context.Context, req *ScheduleSessionRequest) (*domain.SessionAppointment, error)
	ConfirmSession(ctx context.Context, appointmentID int64, userID uuid.UUID) (*domain.SessionAppointment, error)
	StartSession(ctx context.Context, appointmentID int64, userID uuid.UUID) (*domain.SessionAppointment, error)
	CompleteSession(ctx context.Context, appointmentID int64, userID uuid.UUID) (*domain.SessionAppointment, error)
	CancelSession(ctx context.Context, req *CancelSessionRequest) (*domain.SessionAppointment, error)
	RequestReschedule(ctx context.Context, req *RescheduleRequest) (*domain.SessionAppointment, error)
	ApproveReschedule(ctx context.Context, appointmentID int64, approverID uuid.UUID) (*domain.SessionAppointment, error)
	RejectReschedule(ctx context.Context, appointmentID int64, approverID uuid.UUID) (*domain.SessionAppointment, error)
	MarkNoShow(ctx context.Context, req *MarkNoShowRequest) (*domain.SessionAppointment, error)

	// Queries
	GetConnection(ctx context.Context, connectionID int64, userID uuid.UUID) (*ConnectionDetail, error)
	ListConnections(ctx context.Context, userID uuid.UUID, page *domain.PageRequest) ([]*domain.Connection, *domain.PageResponse, error)
	GetAppointment(ctx context.Context, appointmentID int64, userID uuid.UUID) (*domain.SessionAppointment, error)
	ListAppointments(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.SessionAppointment, error)
}

// CreateHierarchyRequest materializes an accepted match.
type CreateHierarchyRequest struct {
	MatchRequestID  string                     `json:"match_request_id"`
	RequesterID     uuid.UUID                  `json:"requester_id"`
	TargetUserID    uuid.UUID                  `json:"target_user_id"`
	ConnectionType  domain.ConnectionType      `json:"connection_type"`
	SkillID         string                     `json:"skill_id"`
	ExchangeSkillID *string                    `json:"exchange_skill_id,omitempty"`
	RatePerHour     *float64                   `json:"payment_rate_per_hour,omitempty"`
	Currency        *string                    `json:"currency,omitempty"`
	Preferences     *domain.SchedulePreferences `json:"preferences"`
}

// HierarchyResult reports what one CreateSessionHierarchyFromMatch commit
// produced. Warning carries "NO_FEASIBLE_SCHEDULE" when the hierarchy was
// created without appointments.
type HierarchyResult struct {
	Connection   *domain.Connection           `json:"connection"`
	Series       []*domain.SessionSeries      `json:"series"`
	Appointments []*domain.SessionAppointment `json:"appointments"`
	Warning      string                       `json:"warning,omitempty"`
}

type ScheduleSessionRequest struct {
	SeriesID        int64     `json:"series_id"`
	RequestedBy     uuid.UUID `json:"requested_by"`
	ScheduledDate   time.Time `json:"scheduled_date"`
	DurationMinutes int       `json:"duration_minutes"`
	Title           string    `json:"title,omitempty"`
}

type CancelSessionRequest struct {
	AppointmentID int64     `json:"appointment_id"`
	CancelledBy   uuid.UUID `json:"cancelled_by"`
	Reason        string    `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	AppointmentID    int64     `json:"appointment_id"`
	RequestedBy      uuid.UUID `json:"requested_by"`
	ProposedDate     time.Time `json:"proposed_date"`
	ProposedDuration int       `json:"proposed_duration,omitempty"`
	Reason           string    `json:"reason,omitempty"`
}

type MarkNoShowRequest struct {
	AppointmentID int64       `json:"appointment_id"`
	ReportedBy    uuid.UUID   `json:"reported_by"`
	NoShowUserIDs []uuid.UUID `json:"no_show_user_ids"`
}

// ConnectionDetail is the connection with its series and appointments.
type ConnectionDetail struct {
	Connection   *domain.Connection           `json:"connection"`
	Series       []*domain.SessionSeries      `json:"series"`
	Appointments []*domain.SessionAppointment `json:"appointments"`
}
