package reminder

import (
	"context"
	"reflect"
	"testing"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/pkg/apperr"
	"skillswap_server/pkg/clock"

	"github.com/google/uuid"
)

func newSettingsService(store *remStore) *Service {
	return NewService(&remUow{store: store}, clock.NewFixed(baseTime), []int{15, 60})
}

func TestGetSettings_DefaultsWhenUnsaved(t *testing.T) {
	svc := newSettingsService(newRemStore())

	settings, err := svc.GetSettings(context.Background(), userA)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if !reflect.DeepEqual(settings.MinutesBefore, []int{15, 60}) {
		t.Errorf("offsets = %v, want defaults", settings.MinutesBefore)
	}
	if !settings.EmailEnabled || !settings.PushEnabled || settings.SMSEnabled {
		t.Errorf("default channels wrong: email=%v push=%v sms=%v",
			settings.EmailEnabled, settings.PushEnabled, settings.SMSEnabled)
	}
}

func TestSetSettings_NormalizesAndPersists(t *testing.T) {
	store := newRemStore()
	svc := newSettingsService(store)
	ctx := context.Background()

	saved, err := svc.SetSettings(ctx, &domain.ReminderSettings{
		UserID:        userA,
		MinutesBefore: []int{1440, 60, 60, 15},
		EmailEnabled:  true,
	})
	if err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	if !reflect.DeepEqual(saved.MinutesBefore, []int{15, 60, 1440}) {
		t.Errorf("offsets = %v, want sorted deduplicated", saved.MinutesBefore)
	}

	got, err := svc.GetSettings(ctx, userA)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if !reflect.DeepEqual(got.MinutesBefore, []int{15, 60, 1440}) {
		t.Errorf("persisted offsets = %v", got.MinutesBefore)
	}
}

func TestSetSettings_Rejections(t *testing.T) {
	svc := newSettingsService(newRemStore())
	ctx := context.Background()

	_, err := svc.SetSettings(ctx, &domain.ReminderSettings{
		UserID:        userA,
		MinutesBefore: []int{42},
	})
	if !apperr.IsCode(err, apperr.CodeInvalidInput) {
		t.Errorf("offset 42: err = %v, want INVALID_INPUT", err)
	}

	_, err = svc.SetSettings(ctx, &domain.ReminderSettings{UserID: userA})
	if !apperr.IsCode(err, apperr.CodeMissingField) {
		t.Errorf("empty offsets: err = %v, want MISSING_FIELD", err)
	}

	_, err = svc.SetSettings(ctx, &domain.ReminderSettings{
		UserID:        uuid.Nil,
		MinutesBefore: []int{60},
	})
	if !apperr.IsCode(err, apperr.CodeMissingField) {
		t.Errorf("nil user: err = %v, want MISSING_FIELD", err)
	}
}

func TestListByAppointment_PartyScoped(t *testing.T) {
	store := newRemStore()
	seedAppointment(store, 1, domain.AppointmentScheduled)
	seedReminder(store, 101, 1, baseTime.Add(time.Hour))

	svc := newSettingsService(store)
	ctx := context.Background()

	rows, err := svc.ListByAppointment(ctx, 1, userA)
	if err != nil {
		t.Fatalf("ListByAppointment: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}

	stranger := uuid.MustParse("aaaaaaaa-0000-0000-0000-0000000000ff")
	if _, err := svc.ListByAppointment(ctx, 1, stranger); !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Errorf("stranger: err = %v, want FORBIDDEN", err)
	}

	if _, err := svc.ListByAppointment(ctx, 999, userA); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("missing appointment: err = %v, want NOT_FOUND", err)
	}
}
