package out

import (
	"context"
	"time"

	"skillswap_server/core/domain"
)

// =============================================================================
// Calendar Provider Port (Google, Microsoft Graph, Apple CalDAV)
// =============================================================================

// CalendarToken is the plaintext credential handed to a provider adapter.
// For Apple the access token is base64(appleId:appPassword) and there is no
// refresh token.
type CalendarToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// ProviderEvent is the provider-neutral shape of one calendar event.
type ProviderEvent struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	MeetingURL  string
	Attendees   []string // email addresses
}

// CalendarProviderPort is the single capability surface all three providers
// implement. Methods returning Unauthorized signal an expired credential;
// callers refresh and retry once.
type CalendarProviderPort interface {
	Provider() domain.CalendarProvider

	// OAuth / credential handling. Apple returns a setup URL from
	// AuthorizationURL and reports refresh as not required.
	AuthorizationURL(state, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*CalendarToken, string, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*CalendarToken, error)
	Revoke(ctx context.Context, accessToken string) error

	// Event operations. calendarID may be empty for the provider default.
	CreateEvent(ctx context.Context, token *CalendarToken, event *ProviderEvent, calendarID string) (string, error)
	UpdateEvent(ctx context.Context, token *CalendarToken, externalEventID string, event *ProviderEvent, calendarID string) error
	DeleteEvent(ctx context.Context, token *CalendarToken, externalEventID string, calendarID string) error

	// Busy returns occupied intervals in [start, end).
	Busy(ctx context.Context, token *CalendarToken, start, end time.Time, calendarID string) ([]domain.BusyInterval, error)

	UserEmail(ctx context.Context, token *CalendarToken) (string, error)
}

// CalendarProviderFactory resolves the adapter for a provider.
type CalendarProviderFactory interface {
	Get(provider domain.CalendarProvider) (CalendarProviderPort, error)
}
