// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"skillswap_server/core/domain"

	"github.com/google/uuid"
)

// ConnectionRepository persists the agreement aggregate.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *domain.Connection) error
	GetByID(ctx context.Context, id int64) (*domain.Connection, error)
	// GetByIDForUpdate takes the row-level write lock that heads the
	// Connection → Series → Appointment lock order.
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.Connection, error)
	GetByMatchRequestID(ctx context.Context, matchRequestID string) (*domain.Connection, error)
	ListByUser(ctx context.Context, userID uuid.UUID, page *domain.PageRequest) ([]*domain.Connection, int64, error)
	Update(ctx context.Context, conn *domain.Connection) error
}

// SeriesRepository persists session series.
type SeriesRepository interface {
	Create(ctx context.Context, series *domain.SessionSeries) error
	GetByID(ctx context.Context, id int64) (*domain.SessionSeries, error)
	ListByConnection(ctx context.Context, connectionID int64) ([]*domain.SessionSeries, error)
	Update(ctx context.Context, series *domain.SessionSeries) error
}

// AppointmentRepository persists session appointments.
type AppointmentRepository interface {
	Create(ctx context.Context, appt *domain.SessionAppointment) error
	CreateBatch(ctx context.Context, appts []*domain.SessionAppointment) error
	GetByID(ctx context.Context, id int64) (*domain.SessionAppointment, error)
	ListBySeries(ctx context.Context, seriesID int64) ([]*domain.SessionAppointment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.SessionAppointment, error)
	// NextSessionNumber returns max(sessionNumber)+1 within the series.
	NextSessionNumber(ctx context.Context, seriesID int64) (int, error)
	// ListWithoutMeetingLink feeds the meeting-link retry loop.
	ListWithoutMeetingLink(ctx context.Context, limit int) ([]*domain.SessionAppointment, error)
	Update(ctx context.Context, appt *domain.SessionAppointment) error
}

// ReminderSettingsRepository persists per-user reminder preferences.
type ReminderSettingsRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.ReminderSettings, error)
	Upsert(ctx context.Context, settings *domain.ReminderSettings) error
}

// ScheduledReminderRepository persists individual reminder rows.
type ScheduledReminderRepository interface {
	CreateBatch(ctx context.Context, reminders []*domain.ScheduledReminder) error
	GetByID(ctx context.Context, id int64) (*domain.ScheduledReminder, error)
	ListByAppointment(ctx context.Context, appointmentID int64) ([]*domain.ScheduledReminder, error)
	// ClaimDue atomically moves up to limit due Pending rows to Dispatching,
	// stamping the worker identity. Rows already claimed by another worker
	// are skipped, not blocked on.
	ClaimDue(ctx context.Context, now time.Time, limit int, workerID string) ([]*domain.ScheduledReminder, error)
	CountDue(ctx context.Context, now time.Time) (int64, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	// CancelPending cancels every non-sent reminder of the appointment.
	CancelPending(ctx context.Context, appointmentID int64) error
	Update(ctx context.Context, reminder *domain.ScheduledReminder) error
}

// CalendarIntegrationRepository persists linked external calendars. Token
// columns are encrypted by the adapter before they reach the database.
type CalendarIntegrationRepository interface {
	Upsert(ctx context.Context, integration *domain.CalendarIntegration) error
	Get(ctx context.Context, userID uuid.UUID, provider domain.CalendarProvider) (*domain.CalendarIntegration, error)
	GetByID(ctx context.Context, id int64) (*domain.CalendarIntegration, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.CalendarIntegration, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error
	Delete(ctx context.Context, userID uuid.UUID, provider domain.CalendarProvider) error
}

// OutboxRepository persists domain events inside the producing transaction.
type OutboxRepository interface {
	Append(ctx context.Context, event *domain.OutboxEvent) error
	AppendBatch(ctx context.Context, events []*domain.OutboxEvent) error
	// FetchPending returns undispatched events in id order, which preserves
	// per-aggregate FIFO.
	FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, cause string) error
}

// CalendarEventMirrorRepository tracks external calendar events created for
// appointments, one row per (appointment, integration).
type CalendarEventMirrorRepository interface {
	Save(ctx context.Context, mirror *CalendarEventMirror) error
	ListByAppointment(ctx context.Context, appointmentID int64) ([]*CalendarEventMirror, error)
	Delete(ctx context.Context, id int64) error
}

// CalendarEventMirror links an appointment to its copy in a user's
// external calendar.
type CalendarEventMirror struct {
	ID              int64
	AppointmentID   int64
	IntegrationID   int64
	ExternalEventID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RepositoryTx bundles every repository bound to one open transaction.
type RepositoryTx interface {
	Connections() ConnectionRepository
	Series() SeriesRepository
	Appointments() AppointmentRepository
	ReminderSettings() ReminderSettingsRepository
	ScheduledReminders() ScheduledReminderRepository
	CalendarIntegrations() CalendarIntegrationRepository
	Outbox() OutboxRepository
	CalendarEventMirrors() CalendarEventMirrorRepository
}

// UnitOfWork runs fn inside one REPEATABLE READ transaction, retrying on
// serialization failure. fn must be safe to re-execute.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(tx RepositoryTx) error) error
	// Read exposes the same repositories outside a transaction.
	Read() RepositoryTx
}
