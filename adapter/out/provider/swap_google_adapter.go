// Package provider implements the three external calendar adapters:
// Google Calendar, Microsoft Graph, and Apple CalDAV.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const googleRevokeURL = "https://oauth2.googleapis.com/revoke"

// GoogleAdapter implements out.CalendarProviderPort against the Google
// Calendar API.
type GoogleAdapter struct {
	oauth      *oauth2.Config
	httpClient *http.Client
}

var _ out.CalendarProviderPort = (*GoogleAdapter)(nil)

func NewGoogleAdapter(clientID, clientSecret, redirectURL string, httpClient *http.Client) *GoogleAdapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GoogleAdapter{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				calendar.CalendarEventsScope,
				calendar.CalendarReadonlyScope,
				"https://www.googleapis.com/auth/userinfo.email",
			},
		},
		httpClient: httpClient,
	}
}

func (a *GoogleAdapter) Provider() domain.CalendarProvider {
	return domain.ProviderGoogle
}

func (a *GoogleAdapter) config(redirectURI string) *oauth2.Config {
	if redirectURI == "" || redirectURI == a.oauth.RedirectURL {
		return a.oauth
	}
	cfg := *a.oauth
	cfg.RedirectURL = redirectURI
	return &cfg
}

func (a *GoogleAdapter) AuthorizationURL(state, redirectURI string) string {
	return a.config(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (a *GoogleAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*out.CalendarToken, string, error) {
	token, err := a.config(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, "", apperr.OAuthFailed("google", err)
	}

	calToken := fromOAuth2Token(token)
	email, err := a.UserEmail(ctx, calToken)
	if err != nil {
		return nil, "", err
	}
	return calToken, email, nil
}

func (a *GoogleAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*out.CalendarToken, error) {
	source := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, apperr.Unauthorized("google token refresh failed").WithError(err)
	}
	return fromOAuth2Token(token), nil
}

func (a *GoogleAdapter) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleRevokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return apperr.Transient("google", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke failed with status %d", resp.StatusCode)
	}
	return nil
}

func (a *GoogleAdapter) service(ctx context.Context, token *out.CalendarToken) (*calendar.Service, error) {
	client := a.oauth.Client(ctx, toOAuth2Token(token))
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

func (a *GoogleAdapter) CreateEvent(ctx context.Context, token *out.CalendarToken, event *out.ProviderEvent, calendarID string) (string, error) {
	svc, err := a.service(ctx, token)
	if err != nil {
		return "", err
	}
	if calendarID == "" {
		calendarID = "primary"
	}

	created, err := svc.Events.Insert(calendarID, toGoogleEvent(event)).
		SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return "", mapGoogleError("create event", err)
	}
	return created.Id, nil
}

func (a *GoogleAdapter) UpdateEvent(ctx context.Context, token *out.CalendarToken, externalEventID string, event *out.ProviderEvent, calendarID string) error {
	svc, err := a.service(ctx, token)
	if err != nil {
		return err
	}
	if calendarID == "" {
		calendarID = "primary"
	}

	_, err = svc.Events.Update(calendarID, externalEventID, toGoogleEvent(event)).
		SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return mapGoogleError("update event", err)
	}
	return nil
}

func (a *GoogleAdapter) DeleteEvent(ctx context.Context, token *out.CalendarToken, externalEventID string, calendarID string) error {
	svc, err := a.service(ctx, token)
	if err != nil {
		return err
	}
	if calendarID == "" {
		calendarID = "primary"
	}

	if err := svc.Events.Delete(calendarID, externalEventID).Context(ctx).Do(); err != nil {
		// already gone is success for a delete
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			return nil
		}
		return mapGoogleError("delete event", err)
	}
	return nil
}

// Busy queries the freeBusy endpoint for [start, end).
func (a *GoogleAdapter) Busy(ctx context.Context, token *out.CalendarToken, start, end time.Time, calendarID string) ([]domain.BusyInterval, error) {
	svc, err := a.service(ctx, token)
	if err != nil {
		return nil, err
	}
	if calendarID == "" {
		calendarID = "primary"
	}

	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: start.UTC().Format(time.RFC3339),
		TimeMax: end.UTC().Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleError("freebusy query", err)
	}

	var intervals []domain.BusyInterval
	for _, cal := range resp.Calendars {
		for _, period := range cal.Busy {
			ivStart, err := time.Parse(time.RFC3339, period.Start)
			if err != nil {
				continue
			}
			ivEnd, err := time.Parse(time.RFC3339, period.End)
			if err != nil {
				continue
			}
			intervals = append(intervals, domain.BusyInterval{Start: ivStart.UTC(), End: ivEnd.UTC()})
		}
	}
	return domain.MergeBusy(intervals), nil
}

func (a *GoogleAdapter) UserEmail(ctx context.Context, token *out.CalendarToken) (string, error) {
	svc, err := a.service(ctx, token)
	if err != nil {
		return "", err
	}

	// the primary calendar id is the account email
	cal, err := svc.CalendarList.Get("primary").Context(ctx).Do()
	if err != nil {
		return "", mapGoogleError("get primary calendar", err)
	}
	return cal.Id, nil
}

// =============================================================================
// Mapping helpers
// =============================================================================

func toOAuth2Token(token *out.CalendarToken) *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    "Bearer",
	}
	if token.ExpiresAt != nil {
		t.Expiry = *token.ExpiresAt
	}
	return t
}

func fromOAuth2Token(token *oauth2.Token) *out.CalendarToken {
	calToken := &out.CalendarToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		calToken.ExpiresAt = &expiry
	}
	return calToken
}

func toGoogleEvent(event *out.ProviderEvent) *calendar.Event {
	gcal := &calendar.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		Start: &calendar.EventDateTime{
			DateTime: event.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: event.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
	if event.MeetingURL != "" {
		if gcal.Description != "" {
			gcal.Description += "\n\n"
		}
		gcal.Description += "Join: " + event.MeetingURL
	}
	for _, email := range event.Attendees {
		gcal.Attendees = append(gcal.Attendees, &calendar.EventAttendee{Email: email})
	}
	return gcal
}

func mapGoogleError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return apperr.Unauthorized("google credential rejected").WithError(err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return apperr.Transient("google calendar", err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
