package reminder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/clock"

	"github.com/google/uuid"
)

var (
	userA = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	userB = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002")

	baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
)

// remStore implements the slice of out.RepositoryTx the reminder package
// touches. The remaining accessors are never called. The mutex keeps the
// fake usable from multiple processors at once, the way the conditional
// UPDATE does for the real table.
type remStore struct {
	mu        sync.Mutex
	reminders map[int64]*domain.ScheduledReminder
	appts     map[int64]*domain.SessionAppointment
	settings  map[uuid.UUID]*domain.ReminderSettings
}

func newRemStore() *remStore {
	return &remStore{
		reminders: make(map[int64]*domain.ScheduledReminder),
		appts:     make(map[int64]*domain.SessionAppointment),
		settings:  make(map[uuid.UUID]*domain.ReminderSettings),
	}
}

func (s *remStore) Connections() out.ConnectionRepository                   { return nil }
func (s *remStore) Series() out.SeriesRepository                            { return nil }
func (s *remStore) Appointments() out.AppointmentRepository                 { return (*remAppts)(s) }
func (s *remStore) ReminderSettings() out.ReminderSettingsRepository        { return (*remSettings)(s) }
func (s *remStore) ScheduledReminders() out.ScheduledReminderRepository     { return (*remRows)(s) }
func (s *remStore) CalendarIntegrations() out.CalendarIntegrationRepository { return nil }
func (s *remStore) Outbox() out.OutboxRepository                            { return nil }
func (s *remStore) CalendarEventMirrors() out.CalendarEventMirrorRepository { return nil }

type remUow struct{ store *remStore }

func (u *remUow) WithinTx(_ context.Context, fn func(tx out.RepositoryTx) error) error {
	return fn(u.store)
}

func (u *remUow) Read() out.RepositoryTx { return u.store }

type remAppts remStore

func (s *remAppts) Create(context.Context, *domain.SessionAppointment) error { return nil }

func (s *remAppts) CreateBatch(context.Context, []*domain.SessionAppointment) error { return nil }

func (s *remAppts) GetByID(_ context.Context, id int64) (*domain.SessionAppointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[id]
	if !ok {
		return nil, nil
	}
	copied := *appt
	return &copied, nil
}

func (s *remAppts) ListBySeries(context.Context, int64) ([]*domain.SessionAppointment, error) {
	return nil, nil
}

func (s *remAppts) ListByUser(context.Context, uuid.UUID, time.Time, time.Time) ([]*domain.SessionAppointment, error) {
	return nil, nil
}

func (s *remAppts) NextSessionNumber(context.Context, int64) (int, error) { return 1, nil }

func (s *remAppts) ListWithoutMeetingLink(context.Context, int) ([]*domain.SessionAppointment, error) {
	return nil, nil
}

func (s *remAppts) Update(context.Context, *domain.SessionAppointment) error { return nil }

type remSettings remStore

func (s *remSettings) Get(_ context.Context, userID uuid.UUID) (*domain.ReminderSettings, error) {
	saved, ok := s.settings[userID]
	if !ok {
		return nil, nil
	}
	copied := *saved
	return &copied, nil
}

func (s *remSettings) Upsert(_ context.Context, settings *domain.ReminderSettings) error {
	copied := *settings
	s.settings[settings.UserID] = &copied
	return nil
}

type remRows remStore

func (s *remRows) CreateBatch(_ context.Context, reminders []*domain.ScheduledReminder) error {
	for _, rem := range reminders {
		copied := *rem
		s.reminders[rem.ID] = &copied
	}
	return nil
}

func (s *remRows) GetByID(_ context.Context, id int64) (*domain.ScheduledReminder, error) {
	rem, ok := s.reminders[id]
	if !ok {
		return nil, nil
	}
	copied := *rem
	return &copied, nil
}

func (s *remRows) ListByAppointment(_ context.Context, appointmentID int64) ([]*domain.ScheduledReminder, error) {
	var res []*domain.ScheduledReminder
	for _, rem := range s.reminders {
		if rem.AppointmentID == appointmentID {
			copied := *rem
			res = append(res, &copied)
		}
	}
	return res, nil
}

func (s *remRows) ClaimDue(_ context.Context, now time.Time, limit int, workerID string) ([]*domain.ScheduledReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []*domain.ScheduledReminder
	for _, rem := range s.reminders {
		if len(claimed) == limit {
			break
		}
		if rem.Status == domain.ReminderPending && !rem.ScheduledFor.After(now) {
			rem.Status = domain.ReminderDispatching
			worker := workerID
			rem.ClaimedBy = &worker
			copied := *rem
			claimed = append(claimed, &copied)
		}
	}
	return claimed, nil
}

func (s *remRows) CountDue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, rem := range s.reminders {
		if rem.Status == domain.ReminderPending && !rem.ScheduledFor.After(now) {
			count++
		}
	}
	return count, nil
}

func (s *remRows) MarkSent(_ context.Context, id int64, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rem, ok := s.reminders[id]
	if !ok {
		return fmt.Errorf("reminder %d not found", id)
	}
	rem.MarkSent(sentAt)
	return nil
}

func (s *remRows) MarkFailed(_ context.Context, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rem, ok := s.reminders[id]
	if !ok {
		return fmt.Errorf("reminder %d not found", id)
	}
	rem.MarkFailed(msg, time.Now())
	return nil
}

func (s *remRows) CancelPending(_ context.Context, appointmentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rem := range s.reminders {
		if rem.AppointmentID == appointmentID && rem.Status != domain.ReminderSent {
			rem.Status = domain.ReminderCancelled
		}
	}
	return nil
}

func (s *remRows) Update(_ context.Context, rem *domain.ScheduledReminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rem
	s.reminders[rem.ID] = &copied
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*out.NotificationRequest
	fail bool
}

func (n *recordingNotifier) Send(_ context.Context, req *out.NotificationRequest) error {
	if n.fail {
		return fmt.Errorf("notification gateway down")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, req)
	return nil
}

func seedAppointment(store *remStore, id int64, status domain.AppointmentStatus) {
	store.appts[id] = &domain.SessionAppointment{
		ID:              id,
		SessionSeriesID: 10,
		SessionNumber:   1,
		ScheduledDate:   baseTime.Add(time.Hour),
		DurationMinutes: 60,
		OrganizerID:     userA,
		ParticipantID:   userB,
		Status:          status,
	}
}

func seedReminder(store *remStore, id, apptID int64, fireAt time.Time) {
	store.reminders[id] = &domain.ScheduledReminder{
		ID:              id,
		AppointmentID:   apptID,
		UserID:          userA,
		ReminderType:    domain.ReminderChannelEmail,
		MinutesBefore:   60,
		ScheduledFor:    fireAt,
		Status:          domain.ReminderPending,
		PartnerName:     "Brett",
		SkillName:       "Go Programming",
		AppointmentTime: baseTime.Add(time.Hour),
		MeetingLink:     "https://meet.example.com/j/1",
	}
}

func newProcessor(store *remStore, notifier *recordingNotifier, cfg ProcessorConfig) *Processor {
	return NewProcessor(&remUow{store: store}, notifier, clock.NewFixed(baseTime), cfg)
}

// =============================================================================
// Tests
// =============================================================================

func TestProcessor_DeliversDueReminders(t *testing.T) {
	store := newRemStore()
	seedAppointment(store, 1, domain.AppointmentConfirmed)
	seedReminder(store, 101, 1, baseTime.Add(-time.Minute))
	seedReminder(store, 102, 1, baseTime)
	seedReminder(store, 103, 1, baseTime.Add(time.Hour)) // not yet due

	notifier := &recordingNotifier{}
	p := newProcessor(store, notifier, ProcessorConfig{})
	p.Drain(context.Background())

	if len(notifier.sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(notifier.sent))
	}
	req := notifier.sent[0]
	if req.UserID != userA || req.Channel != domain.ReminderChannelEmail {
		t.Errorf("unexpected recipient %v / channel %s", req.UserID, req.Channel)
	}
	if req.Data["meeting_link"] != "https://meet.example.com/j/1" {
		t.Errorf("meeting link missing from payload: %v", req.Data)
	}

	for _, id := range []int64{101, 102} {
		rem := store.reminders[id]
		if rem.Status != domain.ReminderSent || rem.SentAt == nil {
			t.Errorf("reminder %d status = %s, want sent", id, rem.Status)
		}
	}
	if store.reminders[103].Status != domain.ReminderPending {
		t.Errorf("future reminder touched: %s", store.reminders[103].Status)
	}
}

func TestProcessor_TerminalAppointmentCancels(t *testing.T) {
	store := newRemStore()
	seedAppointment(store, 1, domain.AppointmentCancelled)
	seedReminder(store, 101, 1, baseTime)

	notifier := &recordingNotifier{}
	p := newProcessor(store, notifier, ProcessorConfig{})
	p.Drain(context.Background())

	if len(notifier.sent) != 0 {
		t.Fatalf("sent %d notifications for a cancelled session", len(notifier.sent))
	}
	if got := store.reminders[101].Status; got != domain.ReminderCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
}

func TestProcessor_DeliveryFailureMarksFailed(t *testing.T) {
	store := newRemStore()
	seedAppointment(store, 1, domain.AppointmentScheduled)
	seedReminder(store, 101, 1, baseTime)

	notifier := &recordingNotifier{fail: true}
	p := newProcessor(store, notifier, ProcessorConfig{})
	p.Drain(context.Background())

	rem := store.reminders[101]
	if rem.Status != domain.ReminderFailed {
		t.Fatalf("status = %s, want failed", rem.Status)
	}
	if rem.ErrorMessage == nil || *rem.ErrorMessage == "" {
		t.Error("error message not recorded")
	}

	// failed rows are not retried
	notifier.fail = false
	p.Drain(context.Background())
	if len(notifier.sent) != 0 {
		t.Errorf("failed reminder was retried")
	}
}

func TestProcessor_BacklogDrainsWithoutWaiting(t *testing.T) {
	store := newRemStore()
	seedAppointment(store, 1, domain.AppointmentConfirmed)
	for i := int64(0); i < 25; i++ {
		seedReminder(store, 100+i, 1, baseTime.Add(-time.Minute))
	}

	notifier := &recordingNotifier{}
	p := newProcessor(store, notifier, ProcessorConfig{ClaimLimit: 10, BacklogLimit: 5})
	p.Drain(context.Background())

	// one Drain works through the whole due set, batch by batch
	if len(notifier.sent) != 25 {
		t.Fatalf("sent = %d, want 25 in a single drain", len(notifier.sent))
	}
	var pending int
	for _, rem := range store.reminders {
		if rem.Status == domain.ReminderPending {
			pending++
		}
	}
	if pending != 0 {
		t.Errorf("pending backlog = %d, want 0", pending)
	}
}

func TestProcessor_ModerateBacklogClearsInOneDrain(t *testing.T) {
	store := newRemStore()
	seedAppointment(store, 1, domain.AppointmentConfirmed)
	for i := int64(0); i < 300; i++ {
		seedReminder(store, 1000+i, 1, baseTime.Add(-time.Minute))
	}

	// production tuning: a backlog between the claim limit and the backlog
	// limit must not be drip-fed across ticks
	notifier := &recordingNotifier{}
	p := newProcessor(store, notifier, ProcessorConfig{ClaimLimit: 100, BacklogLimit: 1000})
	p.Drain(context.Background())

	if len(notifier.sent) != 300 {
		t.Fatalf("sent = %d after one drain, want 300", len(notifier.sent))
	}
	if due, _ := (*remRows)(store).CountDue(context.Background(), baseTime); due != 0 {
		t.Errorf("due rows left behind = %d, want 0", due)
	}
}

func TestProcessor_ConcurrentProcessorsClaimOnce(t *testing.T) {
	store := newRemStore()
	for i := int64(1); i <= 10; i++ {
		seedAppointment(store, i, domain.AppointmentConfirmed)
		seedReminder(store, i, i, baseTime.Add(-time.Minute))
	}

	// small batches force the two instances to interleave claims
	cfg := ProcessorConfig{ClaimLimit: 2, BacklogLimit: 1}
	notifierA := &recordingNotifier{}
	notifierB := &recordingNotifier{}
	pA := newProcessor(store, notifierA, cfg)
	pB := newProcessor(store, notifierB, cfg)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pA.Drain(context.Background()) }()
	go func() { defer wg.Done(); pB.Drain(context.Background()) }()
	wg.Wait()

	total := len(notifierA.sent) + len(notifierB.sent)
	if total != 10 {
		t.Fatalf("delivered %d notifications across both processors, want 10", total)
	}

	seen := make(map[string]bool)
	for _, req := range append(notifierA.sent, notifierB.sent...) {
		id := req.Data["appointment_id"]
		if seen[id] {
			t.Errorf("reminder for appointment %s delivered twice", id)
		}
		seen[id] = true
	}

	for id, rem := range store.reminders {
		if rem.Status != domain.ReminderSent {
			t.Errorf("reminder %d status = %s, want sent", id, rem.Status)
		}
	}
}

func TestFormatLead(t *testing.T) {
	cases := []struct {
		minutes int
		want    string
	}{
		{15, "15 minutes"},
		{60, "1 hour"},
		{120, "2 hours"},
		{1440, "1 day"},
		{2880, "2 days"},
		{90, "1h30m"},
	}
	for _, tc := range cases {
		if got := formatLead(tc.minutes); got != tc.want {
			t.Errorf("formatLead(%d) = %q, want %q", tc.minutes, got, tc.want)
		}
	}
}
