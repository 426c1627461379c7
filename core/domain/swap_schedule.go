package domain

import (
	"time"

	"github.com/google/uuid"

	"skillswap_server/pkg/apperr"
)

// Default spacing bounds between consecutive sessions.
const (
	DefaultMinimumDaysBetween = 1
	DefaultMaximumDaysBetween = 14
)

var weekdayNames = map[string]time.Weekday{
	"Mon": time.Monday, "Tue": time.Tuesday, "Wed": time.Wednesday,
	"Thu": time.Thursday, "Fri": time.Friday, "Sat": time.Saturday,
	"Sun": time.Sunday,
}

// ParseWeekday maps the three-letter day name used in preferences.
func ParseWeekday(name string) (time.Weekday, bool) {
	d, ok := weekdayNames[name]
	return d, ok
}

// SchedulePreferences is the participant input to the slot generator.
type SchedulePreferences struct {
	PreferredDays      []string  `json:"preferred_days"`  // "Mon".."Sun", preference order
	PreferredTimes     []string  `json:"preferred_times"` // "HH:MM" wall clock, preference order
	TotalSessions      int       `json:"total_sessions"`
	DurationMinutes    int       `json:"duration_minutes"`
	EarliestStartDate  time.Time `json:"earliest_start_date"`
	MinimumDaysBetween int       `json:"minimum_days_between"`
	MaximumDaysBetween int       `json:"maximum_days_between"`
	DistributeEvenly   bool      `json:"distribute_evenly"`
}

// Normalize applies defaults and checks the preference invariants.
func (p *SchedulePreferences) Normalize() error {
	if len(p.PreferredDays) == 0 {
		return apperr.MissingField("preferred_days")
	}
	for _, day := range p.PreferredDays {
		if _, ok := ParseWeekday(day); !ok {
			return apperr.InvalidInput("preferred_days", "unknown day name")
		}
	}
	if len(p.PreferredTimes) == 0 {
		return apperr.MissingField("preferred_times")
	}
	for _, t := range p.PreferredTimes {
		if _, err := time.Parse("15:04", t); err != nil {
			return apperr.InvalidInput("preferred_times", "times must be HH:MM")
		}
	}
	if p.TotalSessions < MinTotalSessions || p.TotalSessions > MaxTotalSessions {
		return apperr.InvalidInput("total_sessions", "must be between 1 and 52")
	}
	if p.DurationMinutes < MinSessionDurationMinutes || p.DurationMinutes > MaxSessionDurationMinutes {
		return apperr.InvalidInput("duration_minutes", "must be between 15 and 480 minutes")
	}
	if p.MinimumDaysBetween <= 0 {
		p.MinimumDaysBetween = DefaultMinimumDaysBetween
	}
	if p.MaximumDaysBetween <= 0 {
		p.MaximumDaysBetween = DefaultMaximumDaysBetween
	}
	if p.MinimumDaysBetween > p.MaximumDaysBetween {
		return apperr.InvalidInput("minimum_days_between", "minimum gap exceeds maximum gap")
	}
	return nil
}

// CandidateSlot is one generated meeting slot.
type CandidateSlot struct {
	ScheduledDate   time.Time `json:"scheduled_date"`
	DurationMinutes int       `json:"duration_minutes"`
	OrganizerID     uuid.UUID `json:"organizer_user_id"`
	ParticipantID   uuid.UUID `json:"participant_user_id"`
}
