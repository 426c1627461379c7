package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"
	"skillswap_server/pkg/ical"
	"skillswap_server/pkg/logger"

	"github.com/google/uuid"
)

const appleSetupURL = "https://account.apple.com/account/manage/section/security"

// AppleAdapter implements out.CalendarProviderPort over CalDAV against
// iCloud. There is no OAuth flow: the access token is the base64 of
// "appleID:appSpecificPassword" and never expires or refreshes. The
// calendar collection is discovered through the standard PROPFIND chain
// (principal, then calendar home, then the first VEVENT-capable child).
type AppleAdapter struct {
	baseURL    string
	httpClient *http.Client
}

var _ out.CalendarProviderPort = (*AppleAdapter)(nil)

func NewAppleAdapter(baseURL string, httpClient *http.Client) *AppleAdapter {
	if baseURL == "" {
		baseURL = "https://caldav.icloud.com"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AppleAdapter{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (a *AppleAdapter) Provider() domain.CalendarProvider {
	return domain.ProviderApple
}

// AuthorizationURL points the user at Apple's app-specific password page;
// there is no redirect-based flow to start.
func (a *AppleAdapter) AuthorizationURL(state, redirectURI string) string {
	return appleSetupURL
}

func (a *AppleAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*out.CalendarToken, string, error) {
	return nil, "", apperr.InvalidInput("provider", "apple uses app-specific passwords, not OAuth")
}

// RefreshAccessToken is a no-op: app-specific passwords never expire, so
// there is nothing to rotate. A nil token tells the caller to keep using
// the stored credential.
func (a *AppleAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*out.CalendarToken, error) {
	logger.Debug("apple token refresh not required")
	return nil, nil
}

// Revoke is a no-op; app-specific passwords are revoked by the user on
// their Apple account page.
func (a *AppleAdapter) Revoke(ctx context.Context, accessToken string) error {
	logger.Info("apple credential revocation is managed on the Apple account page")
	return nil
}

// =============================================================================
// WebDAV plumbing
// =============================================================================

func (a *AppleAdapter) davRequest(ctx context.Context, token *out.CalendarToken, method, requestURL, depth, body string) (*http.Response, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build caldav request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+token.AccessToken)
	if depth != "" {
		req.Header.Set("Depth", depth)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Transient("apple caldav", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, apperr.Unauthorized("apple credential rejected")
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, apperr.NotFound("caldav resource")
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, apperr.Transient("apple caldav",
			fmt.Errorf("caldav returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, fmt.Errorf("caldav returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// davMultistatus is the subset of a DAV:multistatus response the
// discovery chain reads. Namespace prefixes vary between servers, so
// matching is on local names only.
type davMultistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string    `xml:"href"`
	Propstat []davProp `xml:"propstat>prop"`
}

type davProp struct {
	PrincipalHref  string   `xml:"current-user-principal>href"`
	HomeHref       string   `xml:"calendar-home-set>href"`
	AddressHrefs   []string `xml:"calendar-user-address-set>href"`
	ResourceTypes  []string `xml:"resourcetype>calendar"`
	ComponentAttrs []struct {
		Name string `xml:"name,attr"`
	} `xml:"supported-calendar-component-set>comp"`
	CalendarData string `xml:"calendar-data"`
}

func (a *AppleAdapter) propfind(ctx context.Context, token *out.CalendarToken, requestURL, depth, body string) (*davMultistatus, error) {
	resp, err := a.davRequest(ctx, token, "PROPFIND", requestURL, depth, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeMultistatus(resp.Body)
}

func decodeMultistatus(r io.Reader) (*davMultistatus, error) {
	var ms davMultistatus
	if err := xml.NewDecoder(r).Decode(&ms); err != nil {
		return nil, fmt.Errorf("decode multistatus: %w", err)
	}
	return &ms, nil
}

func (a *AppleAdapter) absolute(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return a.baseURL + href
}

// principalPath resolves the current-user-principal href for the
// authenticated credential.
func (a *AppleAdapter) principalPath(ctx context.Context, token *out.CalendarToken) (string, error) {
	body := `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop><d:current-user-principal/></d:prop>
</d:propfind>`

	ms, err := a.propfind(ctx, token, a.baseURL+"/", "0", body)
	if err != nil {
		return "", err
	}
	for _, resp := range ms.Responses {
		for _, prop := range resp.Propstat {
			if prop.PrincipalHref != "" {
				return prop.PrincipalHref, nil
			}
		}
	}
	return "", fmt.Errorf("principal discovery: no current-user-principal in response")
}

// calendarHome resolves the calendar-home-set collection of a principal.
func (a *AppleAdapter) calendarHome(ctx context.Context, token *out.CalendarToken, principal string) (string, error) {
	body := `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop><c:calendar-home-set/></d:prop>
</d:propfind>`

	ms, err := a.propfind(ctx, token, a.absolute(principal), "0", body)
	if err != nil {
		return "", err
	}
	for _, resp := range ms.Responses {
		for _, prop := range resp.Propstat {
			if prop.HomeHref != "" {
				return prop.HomeHref, nil
			}
		}
	}
	return "", fmt.Errorf("calendar home discovery: no calendar-home-set in response")
}

// eventCalendar returns the first child collection of the calendar home
// that is a calendar supporting VEVENT, or "" when the home advertises
// no such child.
func (a *AppleAdapter) eventCalendar(ctx context.Context, token *out.CalendarToken, home string) (string, error) {
	body := `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:resourcetype/>
    <c:supported-calendar-component-set/>
  </d:prop>
</d:propfind>`

	ms, err := a.propfind(ctx, token, a.absolute(home), "1", body)
	if err != nil {
		return "", err
	}
	for _, resp := range ms.Responses {
		for _, prop := range resp.Propstat {
			if len(prop.ResourceTypes) == 0 {
				continue
			}
			if supportsVEvent(prop) {
				return resp.Href, nil
			}
		}
	}
	return "", nil
}

func supportsVEvent(prop davProp) bool {
	if len(prop.ComponentAttrs) == 0 {
		// servers that omit the component set get the benefit of the doubt
		return true
	}
	for _, comp := range prop.ComponentAttrs {
		if comp.Name == "VEVENT" {
			return true
		}
	}
	return false
}

// resolveCalendar walks the discovery chain unless the caller already
// knows the collection path. When the home lists no VEVENT calendar the
// home collection itself is used.
func (a *AppleAdapter) resolveCalendar(ctx context.Context, token *out.CalendarToken, calendarID string) (string, error) {
	if calendarID != "" {
		return calendarID, nil
	}
	principal, err := a.principalPath(ctx, token)
	if err != nil {
		return "", err
	}
	home, err := a.calendarHome(ctx, token, principal)
	if err != nil {
		return "", err
	}
	calendar, err := a.eventCalendar(ctx, token, home)
	if err != nil {
		return "", err
	}
	if calendar == "" {
		return home, nil
	}
	return calendar, nil
}

// =============================================================================
// Events
// =============================================================================

func (a *AppleAdapter) eventURL(collection, externalEventID string) string {
	return a.absolute(strings.TrimSuffix(collection, "/")) + "/" + externalEventID + ".ics"
}

func (a *AppleAdapter) CreateEvent(ctx context.Context, token *out.CalendarToken, event *out.ProviderEvent, calendarID string) (string, error) {
	collection, err := a.resolveCalendar(ctx, token, calendarID)
	if err != nil {
		return "", err
	}

	uid := uuid.NewString()
	if err := a.putEvent(ctx, token, collection, uid, event); err != nil {
		return "", err
	}
	return uid, nil
}

func (a *AppleAdapter) UpdateEvent(ctx context.Context, token *out.CalendarToken, externalEventID string, event *out.ProviderEvent, calendarID string) error {
	collection, err := a.resolveCalendar(ctx, token, calendarID)
	if err != nil {
		return err
	}
	return a.putEvent(ctx, token, collection, externalEventID, event)
}

func (a *AppleAdapter) putEvent(ctx context.Context, token *out.CalendarToken, collection, uid string, event *out.ProviderEvent) error {
	document := ical.Render(&ical.Event{
		UID:         uid,
		Start:       event.Start,
		End:         event.End,
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		URL:         event.MeetingURL,
		Attendees:   event.Attendees,
	}, time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.eventURL(collection, uid),
		strings.NewReader(document))
	if err != nil {
		return fmt.Errorf("build put request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+token.AccessToken)
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return apperr.Transient("apple caldav", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperr.Unauthorized("apple credential rejected")
	case resp.StatusCode >= 500:
		return apperr.Transient("apple caldav",
			fmt.Errorf("caldav returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return fmt.Errorf("event put returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *AppleAdapter) DeleteEvent(ctx context.Context, token *out.CalendarToken, externalEventID string, calendarID string) error {
	collection, err := a.resolveCalendar(ctx, token, calendarID)
	if err != nil {
		return err
	}

	resp, err := a.davRequest(ctx, token, http.MethodDelete, a.eventURL(collection, externalEventID), "", "")
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// Busy issues a calendar-query REPORT scoped to [start, end) and treats
// every returned VEVENT as occupied.
func (a *AppleAdapter) Busy(ctx context.Context, token *out.CalendarToken, start, end time.Time, calendarID string) ([]domain.BusyInterval, error) {
	collection, err := a.resolveCalendar(ctx, token, calendarID)
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop><c:calendar-data/></d:prop>
  <c:filter>
    <c:comp-filter name="VCALENDAR">
      <c:comp-filter name="VEVENT">
        <c:time-range start="%s" end="%s"/>
      </c:comp-filter>
    </c:comp-filter>
  </c:filter>
</c:calendar-query>`,
		start.UTC().Format(ical.TimeLayout), end.UTC().Format(ical.TimeLayout))

	resp, err := a.davRequest(ctx, token, "REPORT", a.absolute(collection), "1", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	ms, err := decodeMultistatus(resp.Body)
	if err != nil {
		return nil, err
	}

	var intervals []domain.BusyInterval
	for _, davResp := range ms.Responses {
		for _, prop := range davResp.Propstat {
			if prop.CalendarData == "" {
				continue
			}
			events, err := ical.ParseEvents(prop.CalendarData)
			if err != nil {
				continue
			}
			for _, ev := range events {
				if ev.Start.IsZero() || ev.End.IsZero() {
					continue
				}
				intervals = append(intervals, domain.BusyInterval{Start: ev.Start.UTC(), End: ev.End.UTC()})
			}
		}
	}
	return domain.MergeBusy(intervals), nil
}

// UserEmail returns the principal's calendar user address, used to
// verify a credential before it is stored.
func (a *AppleAdapter) UserEmail(ctx context.Context, token *out.CalendarToken) (string, error) {
	principal, err := a.principalPath(ctx, token)
	if err != nil {
		return "", err
	}

	body := `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop><c:calendar-user-address-set/></d:prop>
</d:propfind>`

	ms, err := a.propfind(ctx, token, a.absolute(principal), "0", body)
	if err != nil {
		return "", err
	}
	for _, resp := range ms.Responses {
		for _, prop := range resp.Propstat {
			for _, href := range prop.AddressHrefs {
				if strings.HasPrefix(href, "mailto:") {
					return strings.TrimPrefix(href, "mailto:"), nil
				}
			}
		}
	}
	// the credential worked even if no mailto address came back
	return "", nil
}
