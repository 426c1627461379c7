package ical

import (
	"strings"
	"testing"
	"time"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Guitar lesson", "Guitar lesson"},
		{"comma and semicolon", "A, B; C\nD", "A\\, B\\; C\\nD"},
		{"backslash first", "a\\b", "a\\\\b"},
		{"carriage return stripped", "a\r\nb", "a\\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.in); got != tt.want {
				t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if got := Unescape(tt.want); got != strings.ReplaceAll(tt.in, "\r", "") {
				t.Errorf("Unescape(%q) = %q", tt.want, got)
			}
		})
	}
}

func TestRender_BitExact(t *testing.T) {
	start := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 20, 9, 30, 0, 0, time.UTC)

	ev := &Event{
		UID:         "appt-101",
		Start:       start,
		End:         start.Add(60 * time.Minute),
		Summary:     "A, B; C\nD",
		Description: "Session 1 of 5",
		Location:    "Online",
		URL:         "https://meet.example.com/j/101",
		Attendees:   []string{"teacher@example.com", "learner@example.com"},
	}

	want := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//SkillSwap//Calendar//EN",
		"BEGIN:VEVENT",
		"UID:appt-101",
		"DTSTAMP:20260220T093000Z",
		"DTSTART:20260302T180000Z",
		"DTEND:20260302T190000Z",
		"SUMMARY:A\\, B\\; C\\nD",
		"DESCRIPTION:Session 1 of 5",
		"LOCATION:Online",
		"URL:https://meet.example.com/j/101",
		"ATTENDEE:mailto:teacher@example.com",
		"ATTENDEE:mailto:learner@example.com",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	if got := Render(ev, now); got != want {
		t.Errorf("Render mismatch:\ngot:\n%q\nwant:\n%q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	src := &Event{
		UID:         "appt-7",
		Start:       start,
		End:         start.Add(90 * time.Minute),
		Summary:     "A, B; C\nD",
		Description: "notes; with, specials\nand lines",
		Location:    "Cafe, downtown",
		URL:         "https://meet.example.com/j/7",
		Attendees:   []string{"a@example.com"},
	}

	parsed, err := Parse(Render(src, time.Now()))
	if err != nil {
		t.Fatal(err)
	}

	if !parsed.Start.Equal(src.Start) || !parsed.End.Equal(src.End) {
		t.Errorf("time mismatch: %v/%v", parsed.Start, parsed.End)
	}
	if parsed.Summary != src.Summary {
		t.Errorf("summary = %q, want %q", parsed.Summary, src.Summary)
	}
	if parsed.Description != src.Description {
		t.Errorf("description = %q", parsed.Description)
	}
	if parsed.Location != src.Location {
		t.Errorf("location = %q", parsed.Location)
	}
	if parsed.URL != src.URL {
		t.Errorf("url = %q", parsed.URL)
	}
	if len(parsed.Attendees) != 1 || parsed.Attendees[0] != "a@example.com" {
		t.Errorf("attendees = %v", parsed.Attendees)
	}
}

func TestParseEvents_CalDAVResponse(t *testing.T) {
	// LF endings, folded SUMMARY, property parameters, all tolerated.
	doc := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:busy-1",
		"DTSTART;TZID=UTC:20260301T020000Z",
		"DTEND:20260301T040000Z",
		"SUMMARY:Week",
		" ly sync",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:busy-2",
		"DTSTART:20260308T020000Z",
		"DTEND:20260308T040000Z",
		"SUMMARY:Другое занятие",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\n")

	events, err := ParseEvents(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Summary != "Weekly sync" {
		t.Errorf("folded summary = %q", events[0].Summary)
	}
	if !events[0].Start.Equal(time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", events[0].Start)
	}
}

func TestParse_NoEvent(t *testing.T) {
	if _, err := Parse("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"); err == nil {
		t.Error("expected ErrNoEvent")
	}
}

func TestParse_DateOnly(t *testing.T) {
	doc := "BEGIN:VEVENT\r\nUID:d\r\nDTSTART;VALUE=DATE:20260301\r\nDTEND;VALUE=DATE:20260302\r\nEND:VEVENT\r\n"
	ev, err := Parse(doc)
	if err != nil {
		t.Fatal(err)
	}
	if !ev.Start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", ev.Start)
	}
}
