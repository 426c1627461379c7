package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"

	"github.com/goccy/go-json"
)

const (
	msGraphBaseURL  = "https://graph.microsoft.com/v1.0"
	msAuthorityBase = "https://login.microsoftonline.com"

	msScopes = "offline_access Calendars.ReadWrite User.Read"
)

// MicrosoftAdapter implements out.CalendarProviderPort against the
// Microsoft Graph API. Graph has no freeBusy equivalent scoped to one
// account token, so Busy reads the calendarView and drops entries the
// user marked free.
type MicrosoftAdapter struct {
	clientID     string
	clientSecret string
	tenantID     string
	redirectURL  string
	httpClient   *http.Client

	graphBaseURL    string
	authorityFormat string
}

var _ out.CalendarProviderPort = (*MicrosoftAdapter)(nil)

func NewMicrosoftAdapter(clientID, clientSecret, tenantID, redirectURL string, httpClient *http.Client) *MicrosoftAdapter {
	if tenantID == "" {
		tenantID = "common"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &MicrosoftAdapter{
		clientID:        clientID,
		clientSecret:    clientSecret,
		tenantID:        tenantID,
		redirectURL:     redirectURL,
		httpClient:      httpClient,
		graphBaseURL:    msGraphBaseURL,
		authorityFormat: msAuthorityBase + "/%s/oauth2/v2.0/%s",
	}
}

func (a *MicrosoftAdapter) Provider() domain.CalendarProvider {
	return domain.ProviderMicrosoft
}

func (a *MicrosoftAdapter) authority(path string) string {
	return fmt.Sprintf(a.authorityFormat, a.tenantID, path)
}

func (a *MicrosoftAdapter) redirect(redirectURI string) string {
	if redirectURI != "" {
		return redirectURI
	}
	return a.redirectURL
}

func (a *MicrosoftAdapter) AuthorizationURL(state, redirectURI string) string {
	params := url.Values{
		"client_id":     {a.clientID},
		"response_type": {"code"},
		"redirect_uri":  {a.redirect(redirectURI)},
		"response_mode": {"query"},
		"scope":         {msScopes},
		"state":         {state},
	}
	return a.authority("authorize") + "?" + params.Encode()
}

// msTokenResponse is the OAuth token payload from the Microsoft identity
// platform.
type msTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (a *MicrosoftAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*out.CalendarToken, string, error) {
	form := url.Values{
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {a.redirect(redirectURI)},
		"scope":         {msScopes},
	}

	token, err := a.requestToken(ctx, form)
	if err != nil {
		return nil, "", apperr.OAuthFailed("microsoft", err)
	}

	email, err := a.UserEmail(ctx, token)
	if err != nil {
		return nil, "", err
	}
	return token, email, nil
}

func (a *MicrosoftAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*out.CalendarToken, error) {
	form := url.Values{
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {msScopes},
	}

	token, err := a.requestToken(ctx, form)
	if err != nil {
		return nil, apperr.Unauthorized("microsoft token refresh failed").WithError(err)
	}
	return token, nil
}

func (a *MicrosoftAdapter) requestToken(ctx context.Context, form url.Values) (*out.CalendarToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authority("token"),
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload msTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	token := &out.CalendarToken{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if payload.ExpiresIn > 0 {
		expiry := time.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
		token.ExpiresAt = &expiry
	}
	return token, nil
}

// Revoke is a no-op: the Microsoft identity platform has no endpoint for
// revoking a single refresh token, the grant lapses when it expires.
func (a *MicrosoftAdapter) Revoke(ctx context.Context, accessToken string) error {
	return nil
}

// =============================================================================
// Graph calls
// =============================================================================

func (a *MicrosoftAdapter) graphRequest(ctx context.Context, token *out.CalendarToken, method, requestURL string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode graph request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Transient("microsoft graph", err)
	}
	if err := mapGraphStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func mapGraphStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.Unauthorized("microsoft credential rejected")
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound("graph resource")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperr.Transient("microsoft graph",
			fmt.Errorf("graph returned status %d", resp.StatusCode))
	default:
		return fmt.Errorf("graph returned status %d", resp.StatusCode)
	}
}

func (a *MicrosoftAdapter) eventsBase(calendarID string) string {
	if calendarID == "" {
		return a.graphBaseURL + "/me/events"
	}
	return a.graphBaseURL + "/me/calendars/" + url.PathEscape(calendarID) + "/events"
}

// msEvent mirrors the subset of the Graph event resource this adapter
// reads and writes.
type msEvent struct {
	ID      string `json:"id,omitempty"`
	Subject string `json:"subject"`
	Body    *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body,omitempty"`
	Start    msDateTime `json:"start"`
	End      msDateTime `json:"end"`
	Location *struct {
		DisplayName string `json:"displayName"`
	} `json:"location,omitempty"`
	ShowAs string `json:"showAs,omitempty"`
}

type msDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

const msTimeLayout = "2006-01-02T15:04:05.9999999"

func toMSEvent(event *out.ProviderEvent) *msEvent {
	ms := &msEvent{
		Subject: event.Title,
		Start:   msDateTime{DateTime: event.Start.UTC().Format(msTimeLayout), TimeZone: "UTC"},
		End:     msDateTime{DateTime: event.End.UTC().Format(msTimeLayout), TimeZone: "UTC"},
	}
	content := event.Description
	if event.MeetingURL != "" {
		if content != "" {
			content += "\n\n"
		}
		content += "Join: " + event.MeetingURL
	}
	if content != "" {
		ms.Body = &struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		}{ContentType: "text", Content: content}
	}
	if event.Location != "" {
		ms.Location = &struct {
			DisplayName string `json:"displayName"`
		}{DisplayName: event.Location}
	}
	return ms
}

func (a *MicrosoftAdapter) CreateEvent(ctx context.Context, token *out.CalendarToken, event *out.ProviderEvent, calendarID string) (string, error) {
	resp, err := a.graphRequest(ctx, token, http.MethodPost, a.eventsBase(calendarID), toMSEvent(event))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created msEvent
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode created event: %w", err)
	}
	return created.ID, nil
}

func (a *MicrosoftAdapter) UpdateEvent(ctx context.Context, token *out.CalendarToken, externalEventID string, event *out.ProviderEvent, calendarID string) error {
	requestURL := a.graphBaseURL + "/me/events/" + url.PathEscape(externalEventID)
	resp, err := a.graphRequest(ctx, token, http.MethodPatch, requestURL, toMSEvent(event))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (a *MicrosoftAdapter) DeleteEvent(ctx context.Context, token *out.CalendarToken, externalEventID string, calendarID string) error {
	requestURL := a.graphBaseURL + "/me/events/" + url.PathEscape(externalEventID)
	resp, err := a.graphRequest(ctx, token, http.MethodDelete, requestURL, nil)
	if err != nil {
		// deleting an event that is already gone is fine
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// Busy reads the calendarView for [start, end) and reports every entry
// the user has not marked free. "free" and "workingElsewhere" do not
// block scheduling.
func (a *MicrosoftAdapter) Busy(ctx context.Context, token *out.CalendarToken, start, end time.Time, calendarID string) ([]domain.BusyInterval, error) {
	base := a.graphBaseURL + "/me/calendarView"
	if calendarID != "" {
		base = a.graphBaseURL + "/me/calendars/" + url.PathEscape(calendarID) + "/calendarView"
	}
	params := url.Values{
		"startDateTime": {start.UTC().Format(time.RFC3339)},
		"endDateTime":   {end.UTC().Format(time.RFC3339)},
		"$select":       {"start,end,showAs"},
		"$top":          {"100"},
	}
	next := base + "?" + params.Encode()

	var intervals []domain.BusyInterval
	for next != "" {
		resp, err := a.graphRequest(ctx, token, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}

		var page struct {
			Value    []msEvent `json:"value"`
			NextLink string    `json:"@odata.nextLink"`
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode calendar view: %w", err)
		}

		for _, event := range page.Value {
			if event.ShowAs == "free" || event.ShowAs == "workingElsewhere" {
				continue
			}
			ivStart, err := parseMSTime(event.Start)
			if err != nil {
				continue
			}
			ivEnd, err := parseMSTime(event.End)
			if err != nil {
				continue
			}
			intervals = append(intervals, domain.BusyInterval{Start: ivStart, End: ivEnd})
		}
		next = page.NextLink
	}
	return domain.MergeBusy(intervals), nil
}

func parseMSTime(dt msDateTime) (time.Time, error) {
	loc := time.UTC
	if dt.TimeZone != "" && dt.TimeZone != "UTC" {
		if parsed, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = parsed
		}
	}
	t, err := time.ParseInLocation(msTimeLayout, dt.DateTime, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (a *MicrosoftAdapter) UserEmail(ctx context.Context, token *out.CalendarToken) (string, error) {
	resp, err := a.graphRequest(ctx, token, http.MethodGet, a.graphBaseURL+"/me", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", fmt.Errorf("decode profile: %w", err)
	}
	if me.Mail != "" {
		return me.Mail, nil
	}
	return me.UserPrincipalName, nil
}
