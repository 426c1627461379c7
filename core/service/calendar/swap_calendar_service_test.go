package calendar

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/in"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/apperr"
	"skillswap_server/pkg/clock"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

var (
	calUser  = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001")
	calOther = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")

	calNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

// ----- store -----

type calStore struct {
	integrations map[int64]*domain.CalendarIntegration
	mirrors      map[int64]*out.CalendarEventMirror
	appts        map[int64]*domain.SessionAppointment
	nextID       int64
}

func newCalStore() *calStore {
	return &calStore{
		integrations: make(map[int64]*domain.CalendarIntegration),
		mirrors:      make(map[int64]*out.CalendarEventMirror),
		appts:        make(map[int64]*domain.SessionAppointment),
	}
}

func (s *calStore) id() int64 { s.nextID++; return s.nextID }

func (s *calStore) Connections() out.ConnectionRepository                   { return nil }
func (s *calStore) Series() out.SeriesRepository                            { return nil }
func (s *calStore) Appointments() out.AppointmentRepository                 { return (*calAppts)(s) }
func (s *calStore) ReminderSettings() out.ReminderSettingsRepository        { return nil }
func (s *calStore) ScheduledReminders() out.ScheduledReminderRepository     { return nil }
func (s *calStore) CalendarIntegrations() out.CalendarIntegrationRepository { return (*calIntegrations)(s) }
func (s *calStore) Outbox() out.OutboxRepository                            { return nil }
func (s *calStore) CalendarEventMirrors() out.CalendarEventMirrorRepository { return (*calMirrors)(s) }

type calUow struct{ store *calStore }

func (u *calUow) WithinTx(_ context.Context, fn func(tx out.RepositoryTx) error) error {
	return fn(u.store)
}

func (u *calUow) Read() out.RepositoryTx { return u.store }

type calIntegrations calStore

func (s *calIntegrations) Upsert(_ context.Context, integration *domain.CalendarIntegration) error {
	for _, existing := range s.integrations {
		if existing.UserID == integration.UserID && existing.Provider == integration.Provider {
			integration.ID = existing.ID
			copied := *integration
			s.integrations[existing.ID] = &copied
			return nil
		}
	}
	if integration.ID == 0 {
		integration.ID = (*calStore)(s).id()
	}
	copied := *integration
	s.integrations[integration.ID] = &copied
	return nil
}

func (s *calIntegrations) Get(_ context.Context, userID uuid.UUID, provider domain.CalendarProvider) (*domain.CalendarIntegration, error) {
	for _, integration := range s.integrations {
		if integration.UserID == userID && integration.Provider == provider {
			copied := *integration
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *calIntegrations) GetByID(_ context.Context, id int64) (*domain.CalendarIntegration, error) {
	integration, ok := s.integrations[id]
	if !ok {
		return nil, nil
	}
	copied := *integration
	return &copied, nil
}

func (s *calIntegrations) ListByUser(_ context.Context, userID uuid.UUID) ([]*domain.CalendarIntegration, error) {
	var res []*domain.CalendarIntegration
	for _, integration := range s.integrations {
		if integration.UserID == userID {
			copied := *integration
			res = append(res, &copied)
		}
	}
	return res, nil
}

func (s *calIntegrations) UpdateTokens(_ context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	integration, ok := s.integrations[id]
	if !ok {
		return fmt.Errorf("integration %d not found", id)
	}
	integration.AccessToken = accessToken
	integration.RefreshToken = refreshToken
	integration.ExpiresAt = expiresAt
	return nil
}

func (s *calIntegrations) Delete(_ context.Context, userID uuid.UUID, provider domain.CalendarProvider) error {
	for id, integration := range s.integrations {
		if integration.UserID == userID && integration.Provider == provider {
			delete(s.integrations, id)
			return nil
		}
	}
	return fmt.Errorf("integration not found")
}

type calMirrors calStore

func (s *calMirrors) Save(_ context.Context, mirror *out.CalendarEventMirror) error {
	if mirror.ID == 0 {
		mirror.ID = (*calStore)(s).id()
	}
	copied := *mirror
	s.mirrors[mirror.ID] = &copied
	return nil
}

func (s *calMirrors) ListByAppointment(_ context.Context, appointmentID int64) ([]*out.CalendarEventMirror, error) {
	var res []*out.CalendarEventMirror
	for _, mirror := range s.mirrors {
		if mirror.AppointmentID == appointmentID {
			copied := *mirror
			res = append(res, &copied)
		}
	}
	return res, nil
}

func (s *calMirrors) Delete(_ context.Context, id int64) error {
	delete(s.mirrors, id)
	return nil
}

type calAppts calStore

func (s *calAppts) Create(context.Context, *domain.SessionAppointment) error        { return nil }
func (s *calAppts) CreateBatch(context.Context, []*domain.SessionAppointment) error { return nil }

func (s *calAppts) GetByID(_ context.Context, id int64) (*domain.SessionAppointment, error) {
	appt, ok := s.appts[id]
	if !ok {
		return nil, nil
	}
	copied := *appt
	return &copied, nil
}

func (s *calAppts) ListBySeries(context.Context, int64) ([]*domain.SessionAppointment, error) {
	return nil, nil
}

func (s *calAppts) ListByUser(_ context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.SessionAppointment, error) {
	var res []*domain.SessionAppointment
	for _, appt := range s.appts {
		if appt.IsParty(userID) && !appt.ScheduledDate.Before(from) && appt.ScheduledDate.Before(to) {
			copied := *appt
			res = append(res, &copied)
		}
	}
	return res, nil
}

func (s *calAppts) NextSessionNumber(context.Context, int64) (int, error) { return 1, nil }

func (s *calAppts) ListWithoutMeetingLink(context.Context, int) ([]*domain.SessionAppointment, error) {
	return nil, nil
}

func (s *calAppts) Update(context.Context, *domain.SessionAppointment) error { return nil }

// ----- provider fake -----

type fakeProvider struct {
	provider domain.CalendarProvider

	busy          []domain.BusyInterval
	busyErr       error
	failuresLeft  int // Busy returns Unauthorized this many times
	busyCalls     int
	refreshCalls  int
	refreshErr    error
	createdEvents map[string]*out.ProviderEvent
	updatedEvents map[string]*out.ProviderEvent
	deletedEvents []string
	email         string
	emailErr      error
	revoked       []string
}

func newFakeProvider(p domain.CalendarProvider) *fakeProvider {
	return &fakeProvider{
		provider:      p,
		createdEvents: make(map[string]*out.ProviderEvent),
		updatedEvents: make(map[string]*out.ProviderEvent),
		email:         "someone@example.com",
	}
}

func (f *fakeProvider) Provider() domain.CalendarProvider { return f.provider }

func (f *fakeProvider) AuthorizationURL(state, redirectURI string) string {
	return fmt.Sprintf("https://auth.%s.test/authorize?state=%s&redirect_uri=%s", f.provider, state, redirectURI)
}

func (f *fakeProvider) ExchangeCode(_ context.Context, code, _ string) (*out.CalendarToken, string, error) {
	if code == "bad" {
		return nil, "", apperr.OAuthFailed(string(f.provider), fmt.Errorf("invalid code"))
	}
	expires := calNow.Add(time.Hour)
	return &out.CalendarToken{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresAt:    &expires,
	}, f.email, nil
}

func (f *fakeProvider) RefreshAccessToken(_ context.Context, refreshToken string) (*out.CalendarToken, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	expires := calNow.Add(time.Hour)
	return &out.CalendarToken{
		AccessToken:  "rotated-" + refreshToken,
		RefreshToken: "",
		ExpiresAt:    &expires,
	}, nil
}

func (f *fakeProvider) Revoke(_ context.Context, accessToken string) error {
	f.revoked = append(f.revoked, accessToken)
	return nil
}

func (f *fakeProvider) CreateEvent(_ context.Context, _ *out.CalendarToken, event *out.ProviderEvent, _ string) (string, error) {
	id := fmt.Sprintf("ext-%d", len(f.createdEvents)+1)
	f.createdEvents[id] = event
	return id, nil
}

func (f *fakeProvider) UpdateEvent(_ context.Context, _ *out.CalendarToken, externalEventID string, event *out.ProviderEvent, _ string) error {
	f.updatedEvents[externalEventID] = event
	return nil
}

func (f *fakeProvider) DeleteEvent(_ context.Context, _ *out.CalendarToken, externalEventID string, _ string) error {
	f.deletedEvents = append(f.deletedEvents, externalEventID)
	return nil
}

func (f *fakeProvider) Busy(_ context.Context, token *out.CalendarToken, _, _ time.Time, _ string) ([]domain.BusyInterval, error) {
	f.busyCalls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, apperr.Unauthorized("token expired")
	}
	if f.busyErr != nil {
		return nil, f.busyErr
	}
	_ = token
	return f.busy, nil
}

func (f *fakeProvider) UserEmail(context.Context, *out.CalendarToken) (string, error) {
	if f.emailErr != nil {
		return "", f.emailErr
	}
	return f.email, nil
}

type fakeFactory struct{ adapters map[domain.CalendarProvider]*fakeProvider }

func (f *fakeFactory) Get(provider domain.CalendarProvider) (out.CalendarProviderPort, error) {
	adapter, ok := f.adapters[provider]
	if !ok {
		return nil, apperr.InvalidInput("provider", "unsupported calendar provider")
	}
	return adapter, nil
}

// memCache is an in-process stand-in for the redis cache.
type memCache struct{ values map[string][]byte }

func newMemCache() *memCache { return &memCache{values: make(map[string][]byte)} }

func (c *memCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	data, ok := c.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *memCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = data
	return nil
}

func (c *memCache) GetDelJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	hit, err := c.GetJSON(ctx, key, dest)
	delete(c.values, key)
	return hit, err
}

func (c *memCache) DeleteByPrefix(_ context.Context, prefix string) error {
	for key := range c.values {
		if strings.HasPrefix(key, prefix) {
			delete(c.values, key)
		}
	}
	return nil
}

// ----- fixture -----

type calFixture struct {
	store  *calStore
	google *fakeProvider
	apple  *fakeProvider
	svc    *Service
}

func newCalFixture() *calFixture {
	f := &calFixture{
		store:  newCalStore(),
		google: newFakeProvider(domain.ProviderGoogle),
		apple:  newFakeProvider(domain.ProviderApple),
	}
	factory := &fakeFactory{adapters: map[domain.CalendarProvider]*fakeProvider{
		domain.ProviderGoogle: f.google,
		domain.ProviderApple:  f.apple,
	}}
	f.svc = NewService(&calUow{store: f.store}, factory, newMemCache(), clock.NewFixed(calNow), Config{
		RedirectURIs: map[domain.CalendarProvider]string{
			domain.ProviderGoogle: "https://app.test/callback/google",
		},
	})
	return f
}

func (f *calFixture) linkGoogle(t *testing.T) *domain.CalendarIntegration {
	t.Helper()
	ctx := context.Background()

	authURL, err := f.svc.ConnectCalendar(ctx, calUser, domain.ProviderGoogle)
	if err != nil {
		t.Fatalf("ConnectCalendar: %v", err)
	}
	state := extractState(t, authURL)

	integration, err := f.svc.CompleteOAuth(ctx, &in.OAuthCallbackRequest{
		UserID:   calUser,
		Provider: domain.ProviderGoogle,
		Code:     "ok",
		State:    state,
	})
	if err != nil {
		t.Fatalf("CompleteOAuth: %v", err)
	}
	return integration
}

func extractState(t *testing.T, authURL string) string {
	t.Helper()
	idx := strings.Index(authURL, "state=")
	if idx < 0 {
		t.Fatalf("no state in %s", authURL)
	}
	rest := authURL[idx+len("state="):]
	if amp := strings.Index(rest, "&"); amp >= 0 {
		rest = rest[:amp]
	}
	return rest
}

// =============================================================================
// OAuth round-trip
// =============================================================================

func TestOAuthRoundTrip(t *testing.T) {
	f := newCalFixture()
	integration := f.linkGoogle(t)

	if integration.AccessToken != "access-ok" || integration.RefreshToken != "refresh-ok" {
		t.Errorf("tokens not stored: %q / %q", integration.AccessToken, integration.RefreshToken)
	}
	if integration.Email != "someone@example.com" {
		t.Errorf("email = %q", integration.Email)
	}

	saved, _ := f.store.CalendarIntegrations().Get(context.Background(), calUser, domain.ProviderGoogle)
	if saved == nil {
		t.Fatal("integration not persisted")
	}
}

func TestCompleteOAuth_StateMismatch(t *testing.T) {
	f := newCalFixture()
	ctx := context.Background()

	if _, err := f.svc.ConnectCalendar(ctx, calUser, domain.ProviderGoogle); err != nil {
		t.Fatalf("ConnectCalendar: %v", err)
	}

	_, err := f.svc.CompleteOAuth(ctx, &in.OAuthCallbackRequest{
		UserID:   calUser,
		Provider: domain.ProviderGoogle,
		Code:     "ok",
		State:    "forged",
	})
	if !apperr.IsCode(err, apperr.CodeOAuthFailed) {
		t.Errorf("err = %v, want OAUTH_FAILED", err)
	}
}

func TestCompleteOAuth_StateIsSingleUse(t *testing.T) {
	f := newCalFixture()
	ctx := context.Background()

	authURL, _ := f.svc.ConnectCalendar(ctx, calUser, domain.ProviderGoogle)
	state := extractState(t, authURL)

	req := &in.OAuthCallbackRequest{UserID: calUser, Provider: domain.ProviderGoogle, Code: "ok", State: state}
	if _, err := f.svc.CompleteOAuth(ctx, req); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if _, err := f.svc.CompleteOAuth(ctx, req); !apperr.IsCode(err, apperr.CodeOAuthFailed) {
		t.Errorf("replayed state accepted: %v", err)
	}
}

func TestConnectApple(t *testing.T) {
	f := newCalFixture()
	ctx := context.Background()

	integration, err := f.svc.ConnectApple(ctx, calUser, "user@icloud.com", "abcd-efgh-ijkl-mnop")
	if err != nil {
		t.Fatalf("ConnectApple: %v", err)
	}

	// base64("user@icloud.com:abcd-efgh-ijkl-mnop")
	if integration.AccessToken != "dXNlckBpY2xvdWQuY29tOmFiY2QtZWZnaC1pamtsLW1ub3A=" {
		t.Errorf("credential = %q", integration.AccessToken)
	}
	if integration.RefreshToken != "" || integration.ExpiresAt != nil {
		t.Error("apple credentials do not expire and have no refresh token")
	}

	if _, err := f.svc.ConnectApple(ctx, calUser, "", "pw"); !apperr.IsCode(err, apperr.CodeMissingField) {
		t.Errorf("missing apple id accepted: %v", err)
	}
}

func TestDisconnectCalendar(t *testing.T) {
	f := newCalFixture()
	ctx := context.Background()
	f.linkGoogle(t)

	if err := f.svc.DisconnectCalendar(ctx, calUser, domain.ProviderGoogle); err != nil {
		t.Fatalf("DisconnectCalendar: %v", err)
	}
	if len(f.google.revoked) != 1 {
		t.Errorf("token not revoked")
	}
	remaining, _ := f.svc.ListIntegrations(ctx, calUser)
	if len(remaining) != 0 {
		t.Errorf("integration still listed")
	}

	err := f.svc.DisconnectCalendar(ctx, calUser, domain.ProviderGoogle)
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("second disconnect: %v, want NOT_FOUND", err)
	}
}

// =============================================================================
// Busy
// =============================================================================

func TestBusy_MergesProvidersAndAppointments(t *testing.T) {
	f := newCalFixture()
	ctx := context.Background()
	f.linkGoogle(t)

	f.google.busy = []domain.BusyInterval{
		{Start: calNow.Add(1 * time.Hour), End: calNow.Add(2 * time.Hour)},
	}
	f.store.appts[1] = &domain.SessionAppointment{
		ID:              1,
		ScheduledDate:   calNow.Add(90 * time.Minute),
		DurationMinutes: 60,
		OrganizerID:     calUser,
		ParticipantID:   calOther,
		Status:          domain.AppointmentConfirmed,
	}

	intervals, err := f.svc.Busy(ctx, calUser, calNow, calNow.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Busy: %v", err)
	}

	// the overlapping pair merges into one interval
	if len(intervals) != 1 {
		t.Fatalf("intervals = %v, want one merged interval", intervals)
	}
	if !intervals[0].Start.Equal(calNow.Add(time.Hour)) || !intervals[0].End.Equal(calNow.Add(150*time.Minute)) {
		t.Errorf("merged = %v", intervals[0])
	}
}

func TestBusy_CachesResult(t *testing.T) {
	f := newCalFixture()
	ctx := context.Background()
	f.linkGoogle(t)

	start, end := calNow, calNow.Add(24*time.Hour)
	if _, err := f.svc.Busy(ctx, calUser, start, end); err != nil {
		t.Fatalf("Busy: %v", err)
	}
	if _, err := f.svc.Busy(ctx, calUser, start, end); err != nil {
		t.Fatalf("Busy: %v", err)
	}
	if f.google.busyCalls != 1 {
		t.Errorf("provider queried %d times, want 1 (cache hit)", f.google.busyCalls)
	}
}

func TestBusy_RefreshesOnUnauthorized(t *testing.T) {
	f := newCalFixture()
	ctx := context.Background()
	f.linkGoogle(t)

	f.google.failuresLeft = 1
	f.google.busy = []domain.BusyInterval{{Start: calNow, End: calNow.Add(time.Hour)}}

	intervals, err := f.svc.Busy(ctx, calUser, calNow, calNow.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Busy: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("intervals = %v", intervals)
	}
	if f.google.refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", f.google.refreshCalls)
	}
	if f.google.busyCalls != 2 {
		t.Errorf("busy calls = %d, want 2 (retry once)", f.google.busyCalls)
	}

	// rotated token persisted; the empty refresh token keeps the old one
	saved, _ := f.store.CalendarIntegrations().Get(ctx, calUser, domain.ProviderGoogle)
	if saved.AccessToken != "rotated-refresh-ok" {
		t.Errorf("access token = %q", saved.AccessToken)
	}
	if saved.RefreshToken != "refresh-ok" {
		t.Errorf("refresh token = %q", saved.RefreshToken)
	}
}

func TestBusy_ProviderFailureDegrades(t *testing.T) {
	f := newCalFixture()
	ctx := context.Background()
	f.linkGoogle(t)

	f.google.busyErr = fmt.Errorf("api down")
	f.store.appts[1] = &domain.SessionAppointment{
		ID:              1,
		ScheduledDate:   calNow.Add(time.Hour),
		DurationMinutes: 30,
		OrganizerID:     calUser,
		ParticipantID:   calOther,
		Status:          domain.AppointmentScheduled,
	}

	intervals, err := f.svc.Busy(ctx, calUser, calNow, calNow.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Busy must not fail on provider trouble: %v", err)
	}
	if len(intervals) != 1 {
		t.Errorf("appointment intervals lost: %v", intervals)
	}
}

// =============================================================================
// Mirroring
// =============================================================================

func TestMirrorAppointment_CreateThenUpdate(t *testing.T) {
	f := newCalFixture()
	ctx := context.Background()
	f.linkGoogle(t)

	link := "https://meet.example.com/j/1"
	f.store.appts[1] = &domain.SessionAppointment{
		ID:              1,
		Title:           "Go Programming - Session 1",
		ScheduledDate:   calNow.Add(48 * time.Hour),
		DurationMinutes: 60,
		OrganizerID:     calUser,
		ParticipantID:   calOther,
		MeetingLink:     &link,
		Status:          domain.AppointmentScheduled,
	}

	if err := f.svc.MirrorAppointment(ctx, 1); err != nil {
		t.Fatalf("MirrorAppointment: %v", err)
	}
	if len(f.google.createdEvents) != 1 {
		t.Fatalf("created = %d, want 1", len(f.google.createdEvents))
	}
	for _, event := range f.google.createdEvents {
		if event.MeetingURL != link || event.Title != "Go Programming - Session 1" {
			t.Errorf("event = %+v", event)
		}
	}

	// second mirror updates the existing external event
	if err := f.svc.MirrorAppointment(ctx, 1); err != nil {
		t.Fatalf("second MirrorAppointment: %v", err)
	}
	if len(f.google.createdEvents) != 1 || len(f.google.updatedEvents) != 1 {
		t.Errorf("created = %d updated = %d, want 1/1",
			len(f.google.createdEvents), len(f.google.updatedEvents))
	}
}

func TestRemoveMirror(t *testing.T) {
	f := newCalFixture()
	ctx := context.Background()
	f.linkGoogle(t)

	f.store.appts[1] = &domain.SessionAppointment{
		ID:              1,
		Title:           "Session",
		ScheduledDate:   calNow.Add(48 * time.Hour),
		DurationMinutes: 60,
		OrganizerID:     calUser,
		ParticipantID:   calOther,
		Status:          domain.AppointmentScheduled,
	}
	if err := f.svc.MirrorAppointment(ctx, 1); err != nil {
		t.Fatalf("MirrorAppointment: %v", err)
	}

	if err := f.svc.RemoveMirror(ctx, 1); err != nil {
		t.Fatalf("RemoveMirror: %v", err)
	}
	if len(f.google.deletedEvents) != 1 {
		t.Errorf("deleted = %v, want one event", f.google.deletedEvents)
	}
	mirrors, _ := f.store.CalendarEventMirrors().ListByAppointment(ctx, 1)
	if len(mirrors) != 0 {
		t.Errorf("mirror rows remain: %d", len(mirrors))
	}
}
