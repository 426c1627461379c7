// Package scheduling implements the pure slot generator. It performs no
// I/O: busy intervals for both parties are supplied by the caller.
package scheduling

import (
	"fmt"
	"sort"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/pkg/apperr"

	"github.com/google/uuid"
)

// Search window growth: start at 60 days, double until 365.
const (
	initialWindowDays = 60
	maxWindowDays     = 365
)

// Input is everything the generator needs. Busy is the union of both
// parties' calendars plus their already-scheduled appointments.
type Input struct {
	Preferences domain.SchedulePreferences
	Busy        []domain.BusyInterval

	OrganizerID   uuid.UUID
	ParticipantID uuid.UUID
	// AlternateOrganizer swaps organizer/participant on every other slot,
	// starting with OrganizerID on slot 1. Used for skill exchanges.
	AlternateOrganizer bool
}

type candidate struct {
	start    time.Time
	isoYear  int
	isoWeek  int
	dayRank  int // index into PreferredDays
	timeRank int // index into PreferredTimes
}

// GenerateSlots returns exactly Preferences.TotalSessions ordered slots, or
// a NoFeasibleSchedule error after the search window has grown to its
// maximum without success. Identical inputs produce identical output.
func GenerateSlots(in *Input) ([]domain.CandidateSlot, error) {
	prefs := in.Preferences
	if err := prefs.Normalize(); err != nil {
		return nil, err
	}

	busy := domain.MergeBusy(in.Busy)
	duration := time.Duration(prefs.DurationMinutes) * time.Minute

	for window := initialWindowDays; ; window *= 2 {
		if window > maxWindowDays {
			window = maxWindowDays
		}

		candidates := enumerate(&prefs, busy, duration, window)
		picked := pick(&prefs, candidates, window)
		if len(picked) == prefs.TotalSessions {
			return in.assign(picked, prefs.DurationMinutes), nil
		}

		if window == maxWindowDays {
			return nil, noFeasible(&prefs, len(picked))
		}
	}
}

// enumerate walks the window day by day and emits every free preferred
// (day, time) pair, ranked for the week-local sort.
func enumerate(prefs *domain.SchedulePreferences, busy []domain.BusyInterval, duration time.Duration, windowDays int) []candidate {
	earliest := prefs.EarliestStartDate.UTC()
	dayStart := time.Date(earliest.Year(), earliest.Month(), earliest.Day(), 0, 0, 0, 0, time.UTC)

	dayRank := make(map[time.Weekday]int, len(prefs.PreferredDays))
	for i, name := range prefs.PreferredDays {
		wd, _ := domain.ParseWeekday(name)
		if _, seen := dayRank[wd]; !seen {
			dayRank[wd] = i
		}
	}

	var out []candidate
	for d := 0; d <= windowDays; d++ {
		day := dayStart.AddDate(0, 0, d)
		rank, ok := dayRank[day.Weekday()]
		if !ok {
			continue
		}

		for ti, clock := range prefs.PreferredTimes {
			t, _ := time.Parse("15:04", clock)
			start := day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
			if start.Before(earliest) {
				continue
			}
			if conflicts(busy, start, start.Add(duration)) {
				continue
			}

			isoYear, isoWeek := start.ISOWeek()
			out = append(out, candidate{
				start:    start,
				isoYear:  isoYear,
				isoWeek:  isoWeek,
				dayRank:  rank,
				timeRank: ti,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.isoYear != b.isoYear {
			return a.isoYear < b.isoYear
		}
		if a.isoWeek != b.isoWeek {
			return a.isoWeek < b.isoWeek
		}
		if a.dayRank != b.dayRank {
			return a.dayRank < b.dayRank
		}
		if a.timeRank != b.timeRank {
			return a.timeRank < b.timeRank
		}
		return a.start.Before(b.start)
	})
	return out
}

// conflicts checks the half-open [start, end) against the merged busy set.
// Touching an interval boundary exactly is allowed.
func conflicts(busy []domain.BusyInterval, start, end time.Time) bool {
	idx := sort.Search(len(busy), func(i int) bool {
		return busy[i].End.After(start)
	})
	return idx < len(busy) && busy[idx].Overlaps(start, end)
}

// pick greedily accepts candidates whose day distance to the previous
// acceptance lies within [MinimumDaysBetween, MaximumDaysBetween]. With
// DistributeEvenly the running mean gap must also stay within one day of
// the ideal spacing for the window.
func pick(prefs *domain.SchedulePreferences, candidates []candidate, windowDays int) []time.Time {
	var picked []time.Time

	idealGap := 0.0
	if prefs.DistributeEvenly && prefs.TotalSessions > 1 {
		idealGap = float64(windowDays) / float64(prefs.TotalSessions-1)
		if min := float64(prefs.MinimumDaysBetween); idealGap < min {
			idealGap = min
		}
		if max := float64(prefs.MaximumDaysBetween); idealGap > max {
			idealGap = max
		}
	}

	for _, c := range candidates {
		if len(picked) == 0 {
			picked = append(picked, c.start)
			if len(picked) == prefs.TotalSessions {
				break
			}
			continue
		}

		gap := daysBetween(picked[len(picked)-1], c.start)
		if gap < prefs.MinimumDaysBetween || gap > prefs.MaximumDaysBetween {
			continue
		}
		if prefs.DistributeEvenly && prefs.TotalSessions > 1 {
			mean := float64(daysBetween(picked[0], c.start)) / float64(len(picked))
			if mean < idealGap-1 || mean > idealGap+1 {
				continue
			}
		}

		picked = append(picked, c.start)
		if len(picked) == prefs.TotalSessions {
			break
		}
	}
	return picked
}

// daysBetween is the calendar-day distance between two instants.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad) / (24 * time.Hour))
}

// assign attaches the participants, alternating organizer when requested.
func (in *Input) assign(starts []time.Time, durationMinutes int) []domain.CandidateSlot {
	slots := make([]domain.CandidateSlot, 0, len(starts))
	for i, start := range starts {
		organizer, participant := in.OrganizerID, in.ParticipantID
		if in.AlternateOrganizer && i%2 == 1 {
			organizer, participant = participant, organizer
		}
		slots = append(slots, domain.CandidateSlot{
			ScheduledDate:   start,
			DurationMinutes: durationMinutes,
			OrganizerID:     organizer,
			ParticipantID:   participant,
		})
	}
	return slots
}

func noFeasible(prefs *domain.SchedulePreferences, found int) error {
	return apperr.NoFeasibleSchedule(fmt.Sprintf(
		"found %d of %d slots within %d days", found, prefs.TotalSessions, maxWindowDays))
}
