package in

import (
	"context"
	"time"

	"skillswap_server/core/domain"

	"github.com/google/uuid"
)

// CalendarService manages external calendar links and busy lookups.
type CalendarService interface {
	// ConnectCalendar returns the provider's authorization URL. For Apple
	// the flow is credential submission instead; see ConnectApple.
	ConnectCalendar(ctx context.Context, userID uuid.UUID, provider domain.CalendarProvider) (string, error)
	// CompleteOAuth exchanges the callback code and stores the integration.
	CompleteOAuth(ctx context.Context, req *OAuthCallbackRequest) (*domain.CalendarIntegration, error)
	// ConnectApple stores an app-specific password credential.
	ConnectApple(ctx context.Context, userID uuid.UUID, appleID, appPassword string) (*domain.CalendarIntegration, error)
	DisconnectCalendar(ctx context.Context, userID uuid.UUID, provider domain.CalendarProvider) error
	ListIntegrations(ctx context.Context, userID uuid.UUID) ([]*domain.CalendarIntegration, error)

	// Busy returns the merged occupied intervals of the user across every
	// linked calendar plus already-scheduled appointments.
	Busy(ctx context.Context, userID uuid.UUID, start, end time.Time) ([]domain.BusyInterval, error)

	// MirrorAppointment pushes (or refreshes) the appointment into both
	// parties' linked calendars. Best-effort.
	MirrorAppointment(ctx context.Context, appointmentID int64) error
	// RemoveMirror deletes the external copies of a cancelled appointment.
	RemoveMirror(ctx context.Context, appointmentID int64) error
}

// OAuthCallbackRequest carries the provider redirect parameters.
type OAuthCallbackRequest struct {
	UserID   uuid.UUID               `json:"user_id"`
	Provider domain.CalendarProvider `json:"provider"`
	Code     string                  `json:"code"`
	State    string                  `json:"state"`
}
