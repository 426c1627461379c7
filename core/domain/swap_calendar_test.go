package domain

import (
	"testing"
	"time"
)

func at(h int) time.Time {
	return time.Date(2026, 3, 1, h, 0, 0, 0, time.UTC)
}

func TestBusyIntervalOverlaps(t *testing.T) {
	busy := BusyInterval{Start: at(10), End: at(12)}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", at(10).Add(30 * time.Minute), at(11), true},
		{"spanning", at(9), at(13), true},
		{"before", at(8), at(9), false},
		{"after", at(13), at(14), false},
		{"touching start boundary", at(8), at(10), false},
		{"touching end boundary", at(12), at(13), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := busy.Overlaps(tt.start, tt.end); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestMergeBusy(t *testing.T) {
	a := []BusyInterval{
		{Start: at(9), End: at(10)},
		{Start: at(14), End: at(15)},
	}
	b := []BusyInterval{
		{Start: at(9).Add(30 * time.Minute), End: at(11)},
		{Start: at(15), End: at(16)}, // touches, merges
	}

	merged := MergeBusy(a, b)
	if len(merged) != 2 {
		t.Fatalf("merged = %v, want 2 intervals", merged)
	}
	if !merged[0].Start.Equal(at(9)) || !merged[0].End.Equal(at(11)) {
		t.Errorf("merged[0] = %v", merged[0])
	}
	if !merged[1].Start.Equal(at(14)) || !merged[1].End.Equal(at(16)) {
		t.Errorf("merged[1] = %v", merged[1])
	}

	if got := MergeBusy(nil, nil); got != nil {
		t.Errorf("MergeBusy(empty) = %v, want nil", got)
	}
}

func TestReminderSettingsValidate(t *testing.T) {
	s := &ReminderSettings{MinutesBefore: []int{60, 15, 60, 5}, EmailEnabled: true}
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
	want := []int{5, 15, 60}
	if len(s.MinutesBefore) != len(want) {
		t.Fatalf("MinutesBefore = %v", s.MinutesBefore)
	}
	for i := range want {
		if s.MinutesBefore[i] != want[i] {
			t.Errorf("MinutesBefore = %v, want %v", s.MinutesBefore, want)
		}
	}

	bad := &ReminderSettings{MinutesBefore: []int{7}}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unsupported offset")
	}
}
