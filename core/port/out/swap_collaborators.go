package out

import (
	"context"

	"skillswap_server/core/domain"

	"github.com/google/uuid"
)

// MeetingLinkPort maps an appointment to an opaque join URL. Transient
// failures are surfaced as apperr.Transient and retried by the background
// loop with exponential backoff.
type MeetingLinkPort interface {
	GenerateMeetingLink(ctx context.Context, appointmentID int64) (string, error)
}

// UserContact is the slice of the identity service the engine needs.
type UserContact struct {
	UserID      uuid.UUID
	DisplayName string
	Email       string
	PhoneNumber string
	PushToken   string
}

// UserContactPort resolves recipient contact info from the user service.
type UserContactPort interface {
	GetContact(ctx context.Context, userID uuid.UUID) (*UserContact, error)
}

// SkillLookupPort resolves skill display names from the catalog service.
type SkillLookupPort interface {
	GetSkillName(ctx context.Context, skillID string) (string, error)
}

// NotificationRequest is one outgoing reminder delivery.
type NotificationRequest struct {
	UserID  uuid.UUID
	Channel domain.ReminderChannel
	Title   string
	Body    string
	Data    map[string]string
}

// NotificationPort hands a formatted message to the notification
// orchestrator on the requested channel.
type NotificationPort interface {
	Send(ctx context.Context, req *NotificationRequest) error
}

// ChatThreadPort asks the chat service to open a thread for a new
// connection. Best-effort; failures do not abort the command.
type ChatThreadPort interface {
	CreateThread(ctx context.Context, connectionID int64, userA, userB uuid.UUID) (string, error)
}
