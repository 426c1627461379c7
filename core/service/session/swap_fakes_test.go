package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"

	"github.com/google/uuid"
)

// memStore is an in-memory RepositoryTx used by the orchestrator tests.
type memStore struct {
	nextID int64

	connections map[int64]*domain.Connection
	byMatch     map[string]int64
	series      map[int64]*domain.SessionSeries
	appts       map[int64]*domain.SessionAppointment
	settings    map[uuid.UUID]*domain.ReminderSettings
	reminders   map[int64]*domain.ScheduledReminder
	outbox      []*domain.OutboxEvent
}

func newMemStore() *memStore {
	return &memStore{
		connections: make(map[int64]*domain.Connection),
		byMatch:     make(map[string]int64),
		series:      make(map[int64]*domain.SessionSeries),
		appts:       make(map[int64]*domain.SessionAppointment),
		settings:    make(map[uuid.UUID]*domain.ReminderSettings),
		reminders:   make(map[int64]*domain.ScheduledReminder),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

// memUow runs the callback directly against the shared store.
type memUow struct{ store *memStore }

func (u *memUow) WithinTx(_ context.Context, fn func(tx out.RepositoryTx) error) error {
	return fn(u.store)
}

func (u *memUow) Read() out.RepositoryTx { return u.store }

func (m *memStore) Connections() out.ConnectionRepository                   { return (*memConns)(m) }
func (m *memStore) Series() out.SeriesRepository                            { return (*memSeries)(m) }
func (m *memStore) Appointments() out.AppointmentRepository                 { return (*memAppts)(m) }
func (m *memStore) ReminderSettings() out.ReminderSettingsRepository        { return (*memSettings)(m) }
func (m *memStore) ScheduledReminders() out.ScheduledReminderRepository     { return (*memReminders)(m) }
func (m *memStore) CalendarIntegrations() out.CalendarIntegrationRepository { return nil }
func (m *memStore) Outbox() out.OutboxRepository                            { return (*memOutbox)(m) }
func (m *memStore) CalendarEventMirrors() out.CalendarEventMirrorRepository { return nil }

// ----- connections -----

type memConns memStore

func (m *memConns) Create(_ context.Context, conn *domain.Connection) error {
	if _, dup := m.byMatch[conn.MatchRequestID]; dup {
		return fmt.Errorf("duplicate match request")
	}
	if conn.ID == 0 {
		conn.ID = (*memStore)(m).id()
	}
	copied := *conn
	m.connections[conn.ID] = &copied
	m.byMatch[conn.MatchRequestID] = conn.ID
	return nil
}

func (m *memConns) GetByID(_ context.Context, id int64) (*domain.Connection, error) {
	conn, ok := m.connections[id]
	if !ok {
		return nil, nil
	}
	copied := *conn
	return &copied, nil
}

func (m *memConns) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Connection, error) {
	return m.GetByID(ctx, id)
}

func (m *memConns) GetByMatchRequestID(_ context.Context, matchRequestID string) (*domain.Connection, error) {
	id, ok := m.byMatch[matchRequestID]
	if !ok {
		return nil, nil
	}
	copied := *m.connections[id]
	return &copied, nil
}

func (m *memConns) ListByUser(_ context.Context, userID uuid.UUID, _ *domain.PageRequest) ([]*domain.Connection, int64, error) {
	var res []*domain.Connection
	for _, conn := range m.connections {
		if conn.IsParty(userID) {
			copied := *conn
			res = append(res, &copied)
		}
	}
	return res, int64(len(res)), nil
}

func (m *memConns) Update(_ context.Context, conn *domain.Connection) error {
	copied := *conn
	m.connections[conn.ID] = &copied
	return nil
}

// ----- series -----

type memSeries memStore

func (m *memSeries) Create(_ context.Context, series *domain.SessionSeries) error {
	if series.ID == 0 {
		series.ID = (*memStore)(m).id()
	}
	copied := *series
	m.series[series.ID] = &copied
	return nil
}

func (m *memSeries) GetByID(_ context.Context, id int64) (*domain.SessionSeries, error) {
	sr, ok := m.series[id]
	if !ok {
		return nil, nil
	}
	copied := *sr
	return &copied, nil
}

func (m *memSeries) ListByConnection(_ context.Context, connectionID int64) ([]*domain.SessionSeries, error) {
	var res []*domain.SessionSeries
	for _, sr := range m.series {
		if sr.ConnectionID == connectionID {
			copied := *sr
			res = append(res, &copied)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *memSeries) Update(_ context.Context, series *domain.SessionSeries) error {
	copied := *series
	m.series[series.ID] = &copied
	return nil
}

// ----- appointments -----

type memAppts memStore

func (m *memAppts) Create(_ context.Context, appt *domain.SessionAppointment) error {
	if appt.ID == 0 {
		appt.ID = (*memStore)(m).id()
	}
	copied := *appt
	m.appts[appt.ID] = &copied
	return nil
}

func (m *memAppts) CreateBatch(ctx context.Context, appts []*domain.SessionAppointment) error {
	for _, appt := range appts {
		if err := m.Create(ctx, appt); err != nil {
			return err
		}
	}
	return nil
}

func (m *memAppts) GetByID(_ context.Context, id int64) (*domain.SessionAppointment, error) {
	appt, ok := m.appts[id]
	if !ok {
		return nil, nil
	}
	copied := *appt
	return &copied, nil
}

func (m *memAppts) ListBySeries(_ context.Context, seriesID int64) ([]*domain.SessionAppointment, error) {
	var res []*domain.SessionAppointment
	for _, appt := range m.appts {
		if appt.SessionSeriesID == seriesID {
			copied := *appt
			res = append(res, &copied)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].SessionNumber < res[j].SessionNumber })
	return res, nil
}

func (m *memAppts) ListByUser(_ context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.SessionAppointment, error) {
	var res []*domain.SessionAppointment
	for _, appt := range m.appts {
		if appt.IsParty(userID) && !appt.ScheduledDate.Before(from) && appt.ScheduledDate.Before(to) {
			copied := *appt
			res = append(res, &copied)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ScheduledDate.Before(res[j].ScheduledDate) })
	return res, nil
}

func (m *memAppts) NextSessionNumber(_ context.Context, seriesID int64) (int, error) {
	max := 0
	for _, appt := range m.appts {
		if appt.SessionSeriesID == seriesID && appt.SessionNumber > max {
			max = appt.SessionNumber
		}
	}
	return max + 1, nil
}

func (m *memAppts) ListWithoutMeetingLink(_ context.Context, limit int) ([]*domain.SessionAppointment, error) {
	var res []*domain.SessionAppointment
	for _, appt := range m.appts {
		if appt.MeetingLink == nil && !appt.IsTerminal() {
			copied := *appt
			res = append(res, &copied)
		}
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (m *memAppts) Update(_ context.Context, appt *domain.SessionAppointment) error {
	copied := *appt
	m.appts[appt.ID] = &copied
	return nil
}

// ----- reminder settings -----

type memSettings memStore

func (m *memSettings) Get(_ context.Context, userID uuid.UUID) (*domain.ReminderSettings, error) {
	s, ok := m.settings[userID]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memSettings) Upsert(_ context.Context, s *domain.ReminderSettings) error {
	copied := *s
	m.settings[s.UserID] = &copied
	return nil
}

// ----- scheduled reminders -----

type memReminders memStore

func (m *memReminders) CreateBatch(_ context.Context, reminders []*domain.ScheduledReminder) error {
	for _, rem := range reminders {
		if rem.ID == 0 {
			rem.ID = (*memStore)(m).id()
		}
		copied := *rem
		m.reminders[rem.ID] = &copied
	}
	return nil
}

func (m *memReminders) GetByID(_ context.Context, id int64) (*domain.ScheduledReminder, error) {
	rem, ok := m.reminders[id]
	if !ok {
		return nil, nil
	}
	copied := *rem
	return &copied, nil
}

func (m *memReminders) ListByAppointment(_ context.Context, appointmentID int64) ([]*domain.ScheduledReminder, error) {
	var res []*domain.ScheduledReminder
	for _, rem := range m.reminders {
		if rem.AppointmentID == appointmentID {
			copied := *rem
			res = append(res, &copied)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ScheduledFor.Before(res[j].ScheduledFor) })
	return res, nil
}

func (m *memReminders) ClaimDue(_ context.Context, now time.Time, limit int, workerID string) ([]*domain.ScheduledReminder, error) {
	var due []*domain.ScheduledReminder
	for _, rem := range m.reminders {
		if rem.Status == domain.ReminderPending && !rem.ScheduledFor.After(now) {
			due = append(due, rem)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*domain.ScheduledReminder, 0, len(due))
	for _, rem := range due {
		rem.Status = domain.ReminderDispatching
		worker := workerID
		rem.ClaimedBy = &worker
		copied := *rem
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (m *memReminders) CountDue(_ context.Context, now time.Time) (int64, error) {
	var count int64
	for _, rem := range m.reminders {
		if rem.Status == domain.ReminderPending && !rem.ScheduledFor.After(now) {
			count++
		}
	}
	return count, nil
}

func (m *memReminders) MarkSent(_ context.Context, id int64, sentAt time.Time) error {
	rem, ok := m.reminders[id]
	if !ok {
		return fmt.Errorf("reminder %d not found", id)
	}
	rem.MarkSent(sentAt)
	return nil
}

func (m *memReminders) MarkFailed(_ context.Context, id int64, msg string) error {
	rem, ok := m.reminders[id]
	if !ok {
		return fmt.Errorf("reminder %d not found", id)
	}
	rem.MarkFailed(msg, time.Now())
	return nil
}

func (m *memReminders) CancelPending(_ context.Context, appointmentID int64) error {
	for _, rem := range m.reminders {
		if rem.AppointmentID == appointmentID &&
			(rem.Status == domain.ReminderPending || rem.Status == domain.ReminderDispatching) {
			rem.Status = domain.ReminderCancelled
		}
	}
	return nil
}

func (m *memReminders) Update(_ context.Context, rem *domain.ScheduledReminder) error {
	copied := *rem
	m.reminders[rem.ID] = &copied
	return nil
}

// ----- outbox -----

type memOutbox memStore

func (m *memOutbox) Append(_ context.Context, event *domain.OutboxEvent) error {
	if event.ID == 0 {
		event.ID = (*memStore)(m).id()
	}
	if event.Status == "" {
		event.Status = domain.OutboxPending
	}
	copied := *event
	m.outbox = append(m.outbox, &copied)
	return nil
}

func (m *memOutbox) AppendBatch(ctx context.Context, events []*domain.OutboxEvent) error {
	for _, event := range events {
		if err := m.Append(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (m *memOutbox) FetchPending(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	var res []*domain.OutboxEvent
	for _, event := range m.outbox {
		if event.Status == domain.OutboxPending {
			copied := *event
			res = append(res, &copied)
		}
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (m *memOutbox) MarkDispatched(_ context.Context, id int64, at time.Time) error {
	for _, event := range m.outbox {
		if event.ID == id {
			event.Status = domain.OutboxDispatched
			t := at
			event.DispatchedAt = &t
			return nil
		}
	}
	return fmt.Errorf("outbox event %d not found", id)
}

func (m *memOutbox) MarkFailed(_ context.Context, id int64, cause string) error {
	for _, event := range m.outbox {
		if event.ID == id {
			event.Attempts++
			event.LastError = &cause
			return nil
		}
	}
	return fmt.Errorf("outbox event %d not found", id)
}

// eventTypes lists the pending outbox event names in append order.
func (m *memStore) eventTypes() []domain.EventType {
	types := make([]domain.EventType, 0, len(m.outbox))
	for _, event := range m.outbox {
		types = append(types, event.EventType)
	}
	return types
}

// ----- collaborator fakes -----

type fakeMeetingLink struct {
	fail  bool
	calls int
}

func (f *fakeMeetingLink) GenerateMeetingLink(_ context.Context, appointmentID int64) (string, error) {
	f.calls++
	if f.fail {
		return "", fmt.Errorf("meeting service unavailable")
	}
	return fmt.Sprintf("https://meet.example.com/j/%d", appointmentID), nil
}

type fakeContacts struct{ names map[uuid.UUID]string }

func (f *fakeContacts) GetContact(_ context.Context, userID uuid.UUID) (*out.UserContact, error) {
	name, ok := f.names[userID]
	if !ok {
		return nil, fmt.Errorf("unknown user")
	}
	return &out.UserContact{UserID: userID, DisplayName: name, Email: name + "@example.com"}, nil
}

type fakeSkills struct{ names map[string]string }

func (f *fakeSkills) GetSkillName(_ context.Context, skillID string) (string, error) {
	if name, ok := f.names[skillID]; ok {
		return name, nil
	}
	return skillID, nil
}

type fakeChat struct{ threads int }

func (f *fakeChat) CreateThread(_ context.Context, _ int64, _, _ uuid.UUID) (string, error) {
	f.threads++
	return fmt.Sprintf("thread-%d", f.threads), nil
}

type fakeBusy struct{ intervals map[uuid.UUID][]domain.BusyInterval }

func (f *fakeBusy) Busy(_ context.Context, userID uuid.UUID, _, _ time.Time) ([]domain.BusyInterval, error) {
	return f.intervals[userID], nil
}
