package provider

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"
)

const appleTestCredential = "dXNlckBpY2xvdWQuY29tOmFiY2QtZWZnaC1pamtsLW1ub3A=" // user@icloud.com:abcd-efgh-ijkl-mnop

func appleToken() *out.CalendarToken {
	return &out.CalendarToken{AccessToken: appleTestCredential}
}

// appleServer serves the CalDAV discovery chain plus one calendar
// collection at /principal/1/calendars/home/.
func appleServer(t *testing.T) *httptest.Server {
	t.Helper()

	const (
		principalPath = "/principal/1/"
		homePath      = "/principal/1/calendars/"
		calendarPath  = "/principal/1/calendars/home/"
	)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Basic "+appleTestCredential {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		body, _ := io.ReadAll(r.Body)

		switch {
		case r.Method == "PROPFIND" && r.URL.Path == "/":
			writeMultistatus(w, `
  <d:response>
    <d:href>/</d:href>
    <d:propstat><d:prop>
      <d:current-user-principal><d:href>`+principalPath+`</d:href></d:current-user-principal>
    </d:prop></d:propstat>
  </d:response>`)

		case r.Method == "PROPFIND" && r.URL.Path == principalPath &&
			strings.Contains(string(body), "calendar-home-set"):
			writeMultistatus(w, `
  <d:response>
    <d:href>`+principalPath+`</d:href>
    <d:propstat><d:prop>
      <c:calendar-home-set><d:href>`+homePath+`</d:href></c:calendar-home-set>
    </d:prop></d:propstat>
  </d:response>`)

		case r.Method == "PROPFIND" && r.URL.Path == principalPath:
			writeMultistatus(w, `
  <d:response>
    <d:href>`+principalPath+`</d:href>
    <d:propstat><d:prop>
      <c:calendar-user-address-set>
        <d:href>mailto:user@icloud.com</d:href>
      </c:calendar-user-address-set>
    </d:prop></d:propstat>
  </d:response>`)

		case r.Method == "PROPFIND" && r.URL.Path == homePath:
			if r.Header.Get("Depth") != "1" {
				t.Errorf("home PROPFIND depth = %q", r.Header.Get("Depth"))
			}
			writeMultistatus(w, `
  <d:response>
    <d:href>`+homePath+`</d:href>
    <d:propstat><d:prop><d:resourcetype/></d:prop></d:propstat>
  </d:response>
  <d:response>
    <d:href>/principal/1/calendars/reminders/</d:href>
    <d:propstat><d:prop>
      <d:resourcetype><d:collection/><c:calendar/></d:resourcetype>
      <c:supported-calendar-component-set><c:comp name="VTODO"/></c:supported-calendar-component-set>
    </d:prop></d:propstat>
  </d:response>
  <d:response>
    <d:href>`+calendarPath+`</d:href>
    <d:propstat><d:prop>
      <d:resourcetype><d:collection/><c:calendar/></d:resourcetype>
      <c:supported-calendar-component-set><c:comp name="VEVENT"/></c:supported-calendar-component-set>
    </d:prop></d:propstat>
  </d:response>`)

		case r.Method == "REPORT" && r.URL.Path == calendarPath:
			if !strings.Contains(string(body), "time-range") {
				t.Error("REPORT body missing time-range filter")
			}
			writeMultistatus(w, `
  <d:response>
    <d:href>`+calendarPath+`abc.ics</d:href>
    <d:propstat><d:prop>
      <c:calendar-data>BEGIN:VCALENDAR
BEGIN:VEVENT
UID:abc
DTSTART:20260302T100000Z
DTEND:20260302T110000Z
SUMMARY:Dentist
END:VEVENT
BEGIN:VEVENT
UID:def
DTSTART:20260302T103000Z
DTEND:20260302T120000Z
SUMMARY:Standup
END:VEVENT
END:VCALENDAR</c:calendar-data>
    </d:prop></d:propstat>
  </d:response>`)

		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, calendarPath):
			if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
				t.Errorf("PUT content type = %q", ct)
			}
			if !strings.Contains(string(body), "SUMMARY:Go basics") {
				t.Errorf("PUT body missing summary: %s", body)
			}
			w.WriteHeader(http.StatusCreated)

		case r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/gone.ics"):
			w.WriteHeader(http.StatusNotFound)

		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, calendarPath):
			w.WriteHeader(http.StatusNoContent)

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	return httptest.NewServer(handler)
}

func writeMultistatus(w http.ResponseWriter, responses string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(207)
	io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">`+responses+`
</d:multistatus>`)
}

func TestAppleCredentialEncoding(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("user@icloud.com:abcd-efgh-ijkl-mnop"))
	if encoded != appleTestCredential {
		t.Fatalf("credential encoding changed: %s", encoded)
	}
}

func TestAppleBusy_DiscoversCalendarAndMerges(t *testing.T) {
	server := appleServer(t)
	defer server.Close()

	adapter := NewAppleAdapter(server.URL, server.Client())
	intervals, err := adapter.Busy(context.Background(), appleToken(),
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), "")
	if err != nil {
		t.Fatalf("Busy: %v", err)
	}

	// the two overlapping events merge into one interval
	if len(intervals) != 1 {
		t.Fatalf("expected 1 merged interval, got %d: %+v", len(intervals), intervals)
	}
	if !intervals[0].Start.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", intervals[0].Start)
	}
	if !intervals[0].End.Equal(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v", intervals[0].End)
	}
}

func TestAppleCreateAndDeleteEvent(t *testing.T) {
	server := appleServer(t)
	defer server.Close()

	adapter := NewAppleAdapter(server.URL, server.Client())
	event := &out.ProviderEvent{
		Title: "Go basics",
		Start: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC),
	}

	uid, err := adapter.CreateEvent(context.Background(), appleToken(), event, "")
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if uid == "" {
		t.Fatal("expected generated uid")
	}

	if err := adapter.DeleteEvent(context.Background(), appleToken(), uid, "/principal/1/calendars/home/"); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}

	// deleting an event that no longer exists is not an error
	if err := adapter.DeleteEvent(context.Background(), appleToken(), "gone", "/principal/1/calendars/home/"); err != nil {
		t.Errorf("expected nil for missing event, got %v", err)
	}
}

func TestAppleUserEmail(t *testing.T) {
	server := appleServer(t)
	defer server.Close()

	adapter := NewAppleAdapter(server.URL, server.Client())
	email, err := adapter.UserEmail(context.Background(), appleToken())
	if err != nil {
		t.Fatalf("UserEmail: %v", err)
	}
	if email != "user@icloud.com" {
		t.Errorf("email = %q", email)
	}
}

func TestAppleBadCredential(t *testing.T) {
	server := appleServer(t)
	defer server.Close()

	adapter := NewAppleAdapter(server.URL, server.Client())
	bad := &out.CalendarToken{AccessToken: "bm9wZQ=="}

	_, err := adapter.UserEmail(context.Background(), bad)
	if !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestAppleHasNoOAuthFlow(t *testing.T) {
	adapter := NewAppleAdapter("", nil)

	if got := adapter.AuthorizationURL("state", ""); got != appleSetupURL {
		t.Errorf("AuthorizationURL = %q", got)
	}
	// refresh is a no-op: no error, no replacement token
	fresh, err := adapter.RefreshAccessToken(context.Background(), "anything")
	if err != nil || fresh != nil {
		t.Errorf("RefreshAccessToken = (%v, %v), want (nil, nil)", fresh, err)
	}
	if err := adapter.Revoke(context.Background(), appleTestCredential); err != nil {
		t.Errorf("Revoke: %v", err)
	}
	if _, _, err := adapter.ExchangeCode(context.Background(), "code", ""); err == nil {
		t.Error("expected error from ExchangeCode")
	}
}

// A calendar home without any VEVENT child is queried directly.
func TestAppleBusy_FallsBackToCalendarHome(t *testing.T) {
	const (
		principalPath = "/principal/2/"
		homePath      = "/principal/2/calendars/"
	)

	var reportPath string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		switch {
		case r.Method == "PROPFIND" && r.URL.Path == "/":
			writeMultistatus(w, `
  <d:response>
    <d:href>/</d:href>
    <d:propstat><d:prop>
      <d:current-user-principal><d:href>`+principalPath+`</d:href></d:current-user-principal>
    </d:prop></d:propstat>
  </d:response>`)

		case r.Method == "PROPFIND" && r.URL.Path == principalPath &&
			strings.Contains(string(body), "calendar-home-set"):
			writeMultistatus(w, `
  <d:response>
    <d:href>`+principalPath+`</d:href>
    <d:propstat><d:prop>
      <c:calendar-home-set><d:href>`+homePath+`</d:href></c:calendar-home-set>
    </d:prop></d:propstat>
  </d:response>`)

		case r.Method == "PROPFIND" && r.URL.Path == homePath:
			// home with no calendar children
			writeMultistatus(w, `
  <d:response>
    <d:href>`+homePath+`</d:href>
    <d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop></d:propstat>
  </d:response>`)

		case r.Method == "REPORT":
			reportPath = r.URL.Path
			writeMultistatus(w, ``)

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	adapter := NewAppleAdapter(server.URL, server.Client())
	intervals, err := adapter.Busy(context.Background(), appleToken(),
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), "")
	if err != nil {
		t.Fatalf("Busy: %v", err)
	}
	if len(intervals) != 0 {
		t.Errorf("expected no intervals, got %+v", intervals)
	}
	if reportPath != homePath {
		t.Errorf("REPORT went to %q, want the calendar home %q", reportPath, homePath)
	}
}
