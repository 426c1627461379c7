package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"skillswap_server/pkg/apperr"
)

var (
	organizer   = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	participant = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	outsider    = uuid.MustParse("33333333-3333-3333-3333-333333333333")
)

func newAppointment(status AppointmentStatus, scheduled time.Time) *SessionAppointment {
	return &SessionAppointment{
		ID:              101,
		SessionSeriesID: 11,
		SessionNumber:   1,
		Title:           "Guitar basics",
		ScheduledDate:   scheduled,
		DurationMinutes: 60,
		OrganizerID:     organizer,
		ParticipantID:   participant,
		Status:          status,
	}
}

func TestApply_TransitionTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	statuses := []AppointmentStatus{
		AppointmentScheduled, AppointmentConfirmed, AppointmentInProgress,
		AppointmentCompleted, AppointmentCancelled, AppointmentNoShow,
		AppointmentRescheduleRequested,
	}
	events := []AppointmentEvent{
		EventConfirm, EventStart, EventFinish, EventCancel,
		EventRequestReschedule, EventApproveReschedule,
		EventRejectReschedule, EventMarkNoShow,
	}

	allowed := map[AppointmentStatus]map[AppointmentEvent]AppointmentStatus{
		AppointmentScheduled: {
			EventConfirm:           AppointmentConfirmed,
			EventStart:             AppointmentInProgress,
			EventFinish:            AppointmentCompleted,
			EventCancel:            AppointmentCancelled,
			EventRequestReschedule: AppointmentRescheduleRequested,
			EventMarkNoShow:        AppointmentNoShow,
		},
		AppointmentConfirmed: {
			EventStart:             AppointmentInProgress,
			EventFinish:            AppointmentCompleted,
			EventCancel:            AppointmentCancelled,
			EventRequestReschedule: AppointmentRescheduleRequested,
			EventMarkNoShow:        AppointmentNoShow,
		},
		AppointmentInProgress: {
			EventFinish:     AppointmentCompleted,
			EventCancel:     AppointmentCancelled,
			EventMarkNoShow: AppointmentNoShow,
		},
		AppointmentRescheduleRequested: {
			EventApproveReschedule: AppointmentScheduled,
			EventRejectReschedule:  AppointmentScheduled,
			EventCancel:            AppointmentCancelled,
			EventMarkNoShow:        AppointmentNoShow,
		},
	}

	for _, from := range statuses {
		for _, event := range events {
			appt := newAppointment(from, now.Add(48*time.Hour))
			err := appt.Apply(event, now)

			want, ok := allowed[from][event]
			if !ok {
				if err == nil {
					t.Errorf("(%s, %s): expected IllegalTransition, got success", from, event)
					continue
				}
				if !apperr.IsCode(err, apperr.CodeIllegalTransition) {
					t.Errorf("(%s, %s): error code = %v", from, event, err)
				}
				if appt.Status != from {
					t.Errorf("(%s, %s): rejected event mutated status to %s", from, event, appt.Status)
				}
				continue
			}

			if err != nil {
				t.Errorf("(%s, %s): unexpected error %v", from, event, err)
				continue
			}
			if appt.Status != want {
				t.Errorf("(%s, %s): status = %s, want %s", from, event, appt.Status, want)
			}
		}
	}
}

func TestApply_TerminalStamps(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appt := newAppointment(AppointmentInProgress, now.Add(-time.Hour))
	if err := appt.Apply(EventFinish, now); err != nil {
		t.Fatal(err)
	}
	if appt.TerminatedAt == nil || !appt.TerminatedAt.Equal(now) {
		t.Errorf("TerminatedAt = %v, want %v", appt.TerminatedAt, now)
	}
}

func TestCancel_LateFlag(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		scheduled time.Time
		wantLate  bool
	}{
		{"six hours out", now.Add(6 * time.Hour), true},
		{"exactly 24h out", now.Add(24 * time.Hour), false},
		{"three days out", now.Add(72 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appt := newAppointment(AppointmentScheduled, tt.scheduled)
			if err := appt.Cancel(organizer, "sick", now); err != nil {
				t.Fatal(err)
			}
			if appt.Status != AppointmentCancelled {
				t.Errorf("status = %s", appt.Status)
			}
			if appt.IsLateCancellation != tt.wantLate {
				t.Errorf("IsLateCancellation = %v, want %v", appt.IsLateCancellation, tt.wantLate)
			}
			if appt.CancelledBy == nil || *appt.CancelledBy != organizer {
				t.Errorf("CancelledBy = %v", appt.CancelledBy)
			}
		})
	}
}

func TestRequestReschedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	proposed := now.Add(72 * time.Hour)

	t.Run("stores proposal", func(t *testing.T) {
		appt := newAppointment(AppointmentConfirmed, now.Add(24*time.Hour))
		if err := appt.RequestReschedule(participant, proposed, 90, "conflict", now); err != nil {
			t.Fatal(err)
		}
		if appt.Status != AppointmentRescheduleRequested {
			t.Errorf("status = %s", appt.Status)
		}
		if appt.PreviousStatus == nil || *appt.PreviousStatus != AppointmentConfirmed {
			t.Errorf("PreviousStatus = %v", appt.PreviousStatus)
		}
		if appt.ProposedDate == nil || !appt.ProposedDate.Equal(proposed) {
			t.Errorf("ProposedDate = %v", appt.ProposedDate)
		}
	})

	t.Run("too soon", func(t *testing.T) {
		appt := newAppointment(AppointmentScheduled, now.Add(24*time.Hour))
		err := appt.RequestReschedule(organizer, now.Add(30*time.Minute), 60, "", now)
		if !apperr.IsCode(err, apperr.CodeInvalidInput) {
			t.Errorf("error = %v, want InvalidInput", err)
		}
	})

	t.Run("non-party", func(t *testing.T) {
		appt := newAppointment(AppointmentScheduled, now.Add(24*time.Hour))
		err := appt.RequestReschedule(outsider, proposed, 60, "", now)
		if !apperr.IsCode(err, apperr.CodeForbidden) {
			t.Errorf("error = %v, want Forbidden", err)
		}
	})
}

func TestApproveReschedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	original := now.Add(24 * time.Hour)
	proposed := now.Add(96 * time.Hour)

	setup := func() *SessionAppointment {
		appt := newAppointment(AppointmentScheduled, original)
		if err := appt.RequestReschedule(organizer, proposed, 90, "", now); err != nil {
			t.Fatal(err)
		}
		return appt
	}

	t.Run("moves dates and returns to scheduled", func(t *testing.T) {
		appt := setup()
		oldDate, err := appt.ApproveReschedule(participant, now)
		if err != nil {
			t.Fatal(err)
		}
		if !oldDate.Equal(original) {
			t.Errorf("oldDate = %v, want %v", oldDate, original)
		}
		if appt.Status != AppointmentScheduled {
			t.Errorf("status = %s", appt.Status)
		}
		if !appt.ScheduledDate.Equal(proposed) {
			t.Errorf("ScheduledDate = %v, want %v", appt.ScheduledDate, proposed)
		}
		if appt.DurationMinutes != 90 {
			t.Errorf("DurationMinutes = %d", appt.DurationMinutes)
		}
		if appt.ProposedDate != nil || appt.RescheduleRequestedBy != nil {
			t.Error("proposal fields not cleared")
		}
	})

	t.Run("self approval blocked", func(t *testing.T) {
		appt := setup()
		_, err := appt.ApproveReschedule(organizer, now)
		if !apperr.IsCode(err, apperr.CodeIllegalTransition) {
			t.Errorf("error = %v, want IllegalTransition", err)
		}
		if appt.Status != AppointmentRescheduleRequested {
			t.Errorf("self approval mutated status to %s", appt.Status)
		}
		if !appt.ScheduledDate.Equal(original) {
			t.Errorf("self approval moved date to %v", appt.ScheduledDate)
		}
	})
}

func TestRejectReschedule_RestoresPreviousStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appt := newAppointment(AppointmentConfirmed, now.Add(24*time.Hour))
	if err := appt.RequestReschedule(organizer, now.Add(72*time.Hour), 60, "", now); err != nil {
		t.Fatal(err)
	}
	if err := appt.RejectReschedule(participant, now); err != nil {
		t.Fatal(err)
	}
	if appt.Status != AppointmentConfirmed {
		t.Errorf("status = %s, want confirmed restored", appt.Status)
	}
	if appt.ProposedDate != nil {
		t.Error("proposal not cleared")
	}
}

func TestMarkNoShow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("too early", func(t *testing.T) {
		appt := newAppointment(AppointmentScheduled, now.Add(-30*time.Minute)) // ends in 30m
		err := appt.MarkNoShow(organizer, []uuid.UUID{participant}, now)
		if !apperr.IsCode(err, apperr.CodeInvalidInput) {
			t.Errorf("error = %v, want InvalidInput", err)
		}
	})

	t.Run("past end", func(t *testing.T) {
		appt := newAppointment(AppointmentConfirmed, now.Add(-2*time.Hour))
		if err := appt.MarkNoShow(organizer, []uuid.UUID{participant}, now); err != nil {
			t.Fatal(err)
		}
		if appt.Status != AppointmentNoShow {
			t.Errorf("status = %s", appt.Status)
		}
		if len(appt.NoShowUserIDs) != 1 || appt.NoShowUserIDs[0] != participant {
			t.Errorf("NoShowUserIDs = %v", appt.NoShowUserIDs)
		}
	})

	t.Run("terminal appointment", func(t *testing.T) {
		appt := newAppointment(AppointmentCompleted, now.Add(-2*time.Hour))
		err := appt.MarkNoShow(organizer, []uuid.UUID{participant}, now)
		if !apperr.IsCode(err, apperr.CodeIllegalTransition) {
			t.Errorf("error = %v, want IllegalTransition", err)
		}
	})
}
