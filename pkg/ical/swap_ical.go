// Package ical implements the minimal iCalendar subset used for CalDAV sync:
// single-VEVENT rendering and CRLF-tolerant parsing of REPORT responses.
package ical

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the Zulu timestamp format used in DTSTART/DTEND/DTSTAMP.
const TimeLayout = "20060102T150405Z"

const prodID = "-//SkillSwap//Calendar//EN"

var ErrNoEvent = errors.New("no VEVENT found")

// Event is one VEVENT.
type Event struct {
	UID         string
	Start       time.Time
	End         time.Time
	Summary     string
	Description string
	Location    string
	URL         string
	Attendees   []string // email addresses
}

// Escape applies iCal text escaping: backslash, semicolon, comma, and
// newline are escaped; carriage returns are stripped.
func Escape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// Unescape reverses Escape.
func Unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		case '\\', ';', ',':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Render serializes the event into a complete VCALENDAR document.
// Lines are CRLF-terminated and times rendered in Zulu.
func Render(ev *Event, now time.Time) string {
	var b strings.Builder

	write := func(line string) {
		b.WriteString(line)
		b.WriteString("\r\n")
	}

	write("BEGIN:VCALENDAR")
	write("VERSION:2.0")
	write("PRODID:" + prodID)
	write("BEGIN:VEVENT")
	write("UID:" + ev.UID)
	write("DTSTAMP:" + now.UTC().Format(TimeLayout))
	write("DTSTART:" + ev.Start.UTC().Format(TimeLayout))
	write("DTEND:" + ev.End.UTC().Format(TimeLayout))
	write("SUMMARY:" + Escape(ev.Summary))
	if ev.Description != "" {
		write("DESCRIPTION:" + Escape(ev.Description))
	}
	if ev.Location != "" {
		write("LOCATION:" + Escape(ev.Location))
	}
	if ev.URL != "" {
		write("URL:" + ev.URL)
	}
	for _, email := range ev.Attendees {
		write("ATTENDEE:mailto:" + email)
	}
	write("END:VEVENT")
	write("END:VCALENDAR")

	return b.String()
}

// Parse returns the first VEVENT of the document.
func Parse(data string) (*Event, error) {
	events, err := ParseEvents(data)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNoEvent
	}
	return events[0], nil
}

// ParseEvents returns every VEVENT of the document. Input may be CRLF or
// LF terminated and may contain folded lines (continuation starts with
// space or tab).
func ParseEvents(data string) ([]*Event, error) {
	lines := unfold(data)

	var events []*Event
	var cur *Event

	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			cur = &Event{}
			continue
		case line == "END:VEVENT":
			if cur != nil {
				events = append(events, cur)
				cur = nil
			}
			continue
		}
		if cur == nil {
			continue
		}

		name, value, ok := splitProperty(line)
		if !ok {
			continue
		}

		switch name {
		case "UID":
			cur.UID = value
		case "DTSTART":
			t, err := parseICalTime(value)
			if err != nil {
				return nil, fmt.Errorf("invalid DTSTART %q: %w", value, err)
			}
			cur.Start = t
		case "DTEND":
			t, err := parseICalTime(value)
			if err != nil {
				return nil, fmt.Errorf("invalid DTEND %q: %w", value, err)
			}
			cur.End = t
		case "SUMMARY":
			cur.Summary = Unescape(value)
		case "DESCRIPTION":
			cur.Description = Unescape(value)
		case "LOCATION":
			cur.Location = Unescape(value)
		case "URL":
			cur.URL = value
		case "ATTENDEE":
			cur.Attendees = append(cur.Attendees, strings.TrimPrefix(value, "mailto:"))
		}
	}

	return events, nil
}

// unfold splits the document into logical lines, joining folded
// continuations and tolerating both CRLF and bare LF endings.
func unfold(data string) []string {
	raw := strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n")

	var lines []string
	for _, line := range raw {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// splitProperty splits "NAME;PARAM=X:value" into the bare property name
// and its value. Parameters are discarded; the colon search skips any
// escaped colon inside parameter quoting.
func splitProperty(line string) (name, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	name = line[:idx]
	value = line[idx+1:]
	if semi := strings.Index(name, ";"); semi >= 0 {
		name = name[:semi]
	}
	return strings.ToUpper(name), value, true
}

// parseICalTime accepts Zulu timestamps and the date-only form used by
// all-day events. Floating local times are treated as UTC.
func parseICalTime(value string) (time.Time, error) {
	switch {
	case strings.HasSuffix(value, "Z"):
		return time.Parse(TimeLayout, value)
	case len(value) == 8:
		return time.Parse("20060102", value)
	default:
		return time.Parse("20060102T150405", value)
	}
}
