package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"skillswap_server/core/domain"
	"skillswap_server/pkg/apperr"
)

var (
	userR = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	userT = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002")
)

// 2026-02-26 is a Thursday.
var thursday = time.Date(2026, 2, 26, 9, 0, 0, 0, time.UTC)

func basicInput(totalSessions int) *Input {
	return &Input{
		Preferences: domain.SchedulePreferences{
			PreferredDays:     []string{"Mon", "Wed"},
			PreferredTimes:    []string{"18:00"},
			TotalSessions:     totalSessions,
			DurationMinutes:   60,
			EarliestStartDate: thursday,
		},
		OrganizerID:   userR,
		ParticipantID: userT,
	}
}

func TestGenerateSlots_ExchangeSplit(t *testing.T) {
	in := basicInput(5)
	in.AlternateOrganizer = true

	slots, err := GenerateSlots(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 5 {
		t.Fatalf("got %d slots", len(slots))
	}

	// First slot is the next Monday at 18:00 UTC.
	wantFirst := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	if !slots[0].ScheduledDate.Equal(wantFirst) {
		t.Errorf("first slot = %v, want %v", slots[0].ScheduledDate, wantFirst)
	}

	// Organizer alternates starting with the requester.
	for i, slot := range slots {
		wantOrganizer := userR
		if i%2 == 1 {
			wantOrganizer = userT
		}
		if slot.OrganizerID != wantOrganizer {
			t.Errorf("slot %d organizer = %v, want %v", i, slot.OrganizerID, wantOrganizer)
		}
		if slot.DurationMinutes != 60 {
			t.Errorf("slot %d duration = %d", i, slot.DurationMinutes)
		}
	}

	// Slots are strictly increasing and within spacing bounds.
	for i := 1; i < len(slots); i++ {
		gap := int(slots[i].ScheduledDate.Sub(slots[i-1].ScheduledDate).Hours() / 24)
		if gap < 1 || gap > 14 {
			t.Errorf("gap between slot %d and %d = %d days", i-1, i, gap)
		}
	}
}

func TestGenerateSlots_Deterministic(t *testing.T) {
	busy := []domain.BusyInterval{
		{Start: time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)},
	}

	run := func() []domain.CandidateSlot {
		in := basicInput(4)
		in.Busy = busy
		slots, err := GenerateSlots(in)
		if err != nil {
			t.Fatal(err)
		}
		return slots
	}

	first, second := run(), run()
	for i := range first {
		if !first[i].ScheduledDate.Equal(second[i].ScheduledDate) {
			t.Fatalf("run mismatch at %d: %v vs %v", i, first[i].ScheduledDate, second[i].ScheduledDate)
		}
	}
}

func TestGenerateSlots_BusyFiltering(t *testing.T) {
	in := basicInput(1)
	// Monday 18:00-19:00 busy; Wednesday free.
	in.Busy = []domain.BusyInterval{
		{Start: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)},
	}

	slots, err := GenerateSlots(in)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC)
	if !slots[0].ScheduledDate.Equal(want) {
		t.Errorf("slot = %v, want Wednesday %v", slots[0].ScheduledDate, want)
	}
}

func TestGenerateSlots_BoundaryTouchAllowed(t *testing.T) {
	in := basicInput(1)
	// Busy block ends exactly at the slot start. Half-open: no conflict.
	in.Busy = []domain.BusyInterval{
		{Start: time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)},
		{Start: time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)},
	}

	slots, err := GenerateSlots(in)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	if !slots[0].ScheduledDate.Equal(want) {
		t.Errorf("slot = %v, want %v", slots[0].ScheduledDate, want)
	}
}

func TestGenerateSlots_Infeasible(t *testing.T) {
	in := &Input{
		Preferences: domain.SchedulePreferences{
			PreferredDays:     []string{"Sun"},
			PreferredTimes:    []string{"03:00"},
			TotalSessions:     20,
			DurationMinutes:   60,
			EarliestStartDate: thursday,
		},
		OrganizerID:   userR,
		ParticipantID: userT,
	}

	// Both parties busy every Sunday 02:00-04:00 UTC through the max window.
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) // first Sunday
	for d := day; d.Before(thursday.AddDate(0, 0, 400)); d = d.AddDate(0, 0, 7) {
		in.Busy = append(in.Busy, domain.BusyInterval{
			Start: d.Add(2 * time.Hour),
			End:   d.Add(4 * time.Hour),
		})
	}

	_, err := GenerateSlots(in)
	if !apperr.IsCode(err, apperr.CodeNoFeasibleSchedule) {
		t.Errorf("error = %v, want NoFeasibleSchedule", err)
	}
}

func TestGenerateSlots_WindowGrowth(t *testing.T) {
	// Weekly slots with a 7 day minimum gap force the 60 day window to
	// fail for 12 sessions and the generator to widen it.
	in := &Input{
		Preferences: domain.SchedulePreferences{
			PreferredDays:      []string{"Mon"},
			PreferredTimes:     []string{"10:00"},
			TotalSessions:      12,
			DurationMinutes:    60,
			EarliestStartDate:  thursday,
			MinimumDaysBetween: 7,
			MaximumDaysBetween: 14,
		},
		OrganizerID:   userR,
		ParticipantID: userT,
	}

	slots, err := GenerateSlots(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 12 {
		t.Fatalf("got %d slots", len(slots))
	}
	last := slots[len(slots)-1].ScheduledDate
	if last.Sub(thursday) < 70*24*time.Hour {
		t.Errorf("last slot %v should lie beyond the initial 60 day window", last)
	}
}

func TestGenerateSlots_SpacingProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200

	properties := gopter.NewProperties(params)

	properties.Property("accepted slots respect spacing bounds", prop.ForAll(
		func(total, minGap, extraGap, dayCount int) bool {
			days := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}[:dayCount]
			in := &Input{
				Preferences: domain.SchedulePreferences{
					PreferredDays:      days,
					PreferredTimes:     []string{"09:00", "14:00"},
					TotalSessions:      total,
					DurationMinutes:    60,
					EarliestStartDate:  thursday,
					MinimumDaysBetween: minGap,
					MaximumDaysBetween: minGap + extraGap,
				},
				OrganizerID:   userR,
				ParticipantID: userT,
			}

			slots, err := GenerateSlots(in)
			if err != nil {
				// Infeasibility is an acceptable outcome for tight inputs.
				return apperr.IsCode(err, apperr.CodeNoFeasibleSchedule)
			}
			if len(slots) != total {
				return false
			}
			for i := 1; i < len(slots); i++ {
				gap := daysBetween(slots[i-1].ScheduledDate, slots[i].ScheduledDate)
				if gap < minGap || gap > minGap+extraGap {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 12),
		gen.IntRange(1, 5),
		gen.IntRange(1, 9),
		gen.IntRange(1, 7),
	))

	properties.TestingRun(t)
}
