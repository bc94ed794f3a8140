package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/store"
	"relaypoint/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (nopLogger) Warn(string, ...any)        {}
func (l nopLogger) With(...any) types.Logger { return l }

type mockClock struct{ now time.Time }

func (c *mockClock) Now() time.Time { return c.now }

// --- Trial reminder fakes ---

type fakeTrialStore struct {
	trials []*types.Subscription
	err    error
	from   time.Time
	to     time.Time
}

func (f *fakeTrialStore) ListTrialsEndingBetween(_ context.Context, from, to time.Time) ([]*types.Subscription, error) {
	f.from = from
	f.to = to
	return f.trials, f.err
}

type reminderKey struct {
	userID    string
	productID string
	day       time.Time
}

type fakeReminderMarkers struct {
	existing map[reminderKey]bool
	created  []reminderKey
	err      error
}

func (f *fakeReminderMarkers) ReminderMarkerExists(_ context.Context, userID, productID string, day time.Time) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.existing[reminderKey{userID, productID, day}], nil
}

func (f *fakeReminderMarkers) CreateReminderMarker(_ context.Context, userID, productID string, day, _ time.Time) error {
	f.created = append(f.created, reminderKey{userID, productID, day})
	return nil
}

type fakeUserStore struct {
	users map[string]*types.User
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (*types.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

type fakeBatchWriter struct {
	batches [][]*types.NotificationRequest
	err     error
}

func (f *fakeBatchWriter) CreateBatch(_ context.Context, reqs []*types.NotificationRequest) error {
	if f.err != nil {
		return f.err
	}
	for i, req := range reqs {
		if req.ID == "" {
			req.ID = fmt.Sprintf("req-%d", i)
		}
	}
	f.batches = append(f.batches, reqs)
	return nil
}

type fakePublisher struct {
	published []*types.NotificationRequest
	reasons   []string
	errFor    map[string]error // keyed by recipient address
}

func (f *fakePublisher) PublishRequest(_ context.Context, req *types.NotificationRequest, reason string) error {
	if err := f.errFor[req.Recipient.To]; err != nil {
		return err
	}
	f.published = append(f.published, req)
	f.reasons = append(f.reasons, reason)
	return nil
}

type trialFixture struct {
	subs      *fakeTrialStore
	markers   *fakeReminderMarkers
	users     *fakeUserStore
	batch     *fakeBatchWriter
	publisher *fakePublisher
	clock     *mockClock
	service   *TrialReminderService
}

func newTrialFixture() *trialFixture {
	f := &trialFixture{
		subs:    &fakeTrialStore{},
		markers: &fakeReminderMarkers{existing: map[reminderKey]bool{}},
		users: &fakeUserStore{users: map[string]*types.User{
			"user-1": {ID: "user-1", Email: "a@example.com", Name: "Ayşe", PreferredLanguage: "tr"},
			"user-2": {ID: "user-2", Email: "b@example.com", Name: "Boris", PreferredLanguage: "ru"},
		}},
		batch:     &fakeBatchWriter{},
		publisher: &fakePublisher{errFor: map[string]error{}},
		clock:     &mockClock{now: time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)},
	}
	f.service = NewTrialReminderService(f.subs, f.markers, f.users, f.batch, f.publisher, f.clock, nopLogger{})
	return f
}

func trialSub(userID, productID string, expires time.Time) *types.Subscription {
	return &types.Subscription{
		UserID:     userID,
		ProductID:  productID,
		Status:     types.SubscriptionActive,
		PeriodType: types.PeriodTrial,
		ExpiresAt:  expires,
	}
}

func TestTrialReminder_QueuesLocalizedReminders(t *testing.T) {
	f := newTrialFixture()
	expires := time.Date(2024, 5, 11, 14, 0, 0, 0, time.UTC)
	f.subs.trials = []*types.Subscription{
		trialSub("user-1", "relaypoint_standard_monthly", expires),
		trialSub("user-2", "relaypoint_lite_monthly", expires),
	}

	queued, err := f.service.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	// Scan window is tomorrow's UTC calendar day.
	assert.Equal(t, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), f.subs.from)
	assert.Equal(t, time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC), f.subs.to)

	require.Len(t, f.batch.batches, 1)
	reqs := f.batch.batches[0]
	require.Len(t, reqs, 2)
	assert.Equal(t, types.KindTrialEnding, reqs[0].Kind)
	assert.Equal(t, "a@example.com", reqs[0].Recipient.To)
	assert.Equal(t, "Standard Aylık", reqs[0].Data["planName"])
	assert.Equal(t, "11 Mayıs 2024", reqs[0].Data["expiryDate"])
	assert.Equal(t, "Lite Ежемесячный", reqs[1].Data["planName"])

	assert.Equal(t, []string{"trial_reminder", "trial_reminder"}, f.publisher.reasons)
	require.Len(t, f.markers.created, 2)
	assert.Equal(t, reminderKey{"user-1", "relaypoint_standard_monthly", f.subs.from}, f.markers.created[0])
}

func TestTrialReminder_SkipsAlreadyReminded(t *testing.T) {
	f := newTrialFixture()
	expires := time.Date(2024, 5, 11, 14, 0, 0, 0, time.UTC)
	day := time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)
	f.subs.trials = []*types.Subscription{
		trialSub("user-1", "relaypoint_standard_monthly", expires),
		trialSub("user-2", "relaypoint_lite_monthly", expires),
	}
	f.markers.existing[reminderKey{"user-1", "relaypoint_standard_monthly", day}] = true

	queued, err := f.service.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	require.Len(t, f.batch.batches, 1)
	assert.Equal(t, "b@example.com", f.batch.batches[0][0].Recipient.To)
}

func TestTrialReminder_SkipsUnknownUser(t *testing.T) {
	f := newTrialFixture()
	f.subs.trials = []*types.Subscription{
		trialSub("ghost", "relaypoint_lite_monthly", time.Date(2024, 5, 11, 9, 0, 0, 0, time.UTC)),
	}

	queued, err := f.service.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, queued)
	assert.Empty(t, f.batch.batches)
}

func TestTrialReminder_NoTrialsIsNoop(t *testing.T) {
	f := newTrialFixture()

	queued, err := f.service.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, queued)
	assert.Empty(t, f.batch.batches)
}

func TestTrialReminder_PublishFailureSkipsMarker(t *testing.T) {
	f := newTrialFixture()
	expires := time.Date(2024, 5, 11, 14, 0, 0, 0, time.UTC)
	f.subs.trials = []*types.Subscription{
		trialSub("user-1", "relaypoint_standard_monthly", expires),
		trialSub("user-2", "relaypoint_lite_monthly", expires),
	}
	f.publisher.errFor["a@example.com"] = types.NewAppError(types.ErrCodeUpstreamUnavailable, "queue down", nil)

	queued, err := f.service.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	// Only the published reminder gets its marker; the failed one stays
	// eligible for the next run.
	require.Len(t, f.markers.created, 1)
	assert.Equal(t, "user-2", f.markers.created[0].userID)
}

func TestTrialReminder_ListErrorPropagates(t *testing.T) {
	f := newTrialFixture()
	f.subs.err = types.NewAppError(types.ErrCodeInternalStore, "query failed", nil)

	_, err := f.service.Run(context.Background())
	assert.Error(t, err)
}

// --- Maintenance fakes ---

type fakeIntakeStore struct {
	otpDeleted     int64
	otpCutoff      time.Time
	sources        []store.SourceCount
	overageDeleted map[string]int64
	listErr        error
}

func (f *fakeIntakeStore) DeleteOTPRequestsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.otpCutoff = cutoff
	return f.otpDeleted, nil
}

func (f *fakeIntakeStore) ListSourcesOverCap(_ context.Context, _ string, _ time.Time, _ int) ([]store.SourceCount, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.sources, nil
}

func (f *fakeIntakeStore) DeleteOverageFromSource(_ context.Context, _, source string, _ time.Time, keep int) (int64, error) {
	if f.overageDeleted == nil {
		f.overageDeleted = map[string]int64{}
	}
	f.overageDeleted[source] = int64(keep)
	return 2, nil
}

type fakeMarkerStore struct {
	cutoff time.Time
}

func (f *fakeMarkerStore) DeleteReminderMarkersBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

type securityEntry struct {
	eventType  string
	identifier string
	count      int
	action     string
}

type fakeSecurityLog struct {
	entries []securityEntry
}

func (f *fakeSecurityLog) LogSecurityEvent(_ context.Context, eventType, identifier string, count int, action string) error {
	f.entries = append(f.entries, securityEntry{eventType, identifier, count, action})
	return nil
}

func TestMaintenance_SweepsRetentionAndBursts(t *testing.T) {
	intake := &fakeIntakeStore{
		otpDeleted: 5,
		sources: []store.SourceCount{
			{Source: "abuser@example.com", Count: 9},
		},
	}
	markers := &fakeMarkerStore{}
	security := &fakeSecurityLog{}
	clock := &mockClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	svc := NewMaintenanceService(intake, markers, security, 5, clock, nopLogger{})

	require.NoError(t, svc.Run(context.Background()))

	assert.Equal(t, clock.now.Add(-time.Hour), intake.otpCutoff)
	// Only reminder markers age out; dedup markers have no delete path.
	assert.Equal(t, clock.now.Add(-30*24*time.Hour), markers.cutoff)

	// The oldest cap records survive the quarantine.
	assert.Equal(t, int64(5), intake.overageDeleted["abuser@example.com"])

	require.Len(t, security.entries, 1)
	entry := security.entries[0]
	assert.Equal(t, "otp_burst", entry.eventType)
	assert.Equal(t, "abuser@example.com", entry.identifier)
	assert.Equal(t, 9, entry.count)
	assert.Equal(t, "records_deleted", entry.action)
}

func TestMaintenance_NoBurstsNoSecurityEntries(t *testing.T) {
	intake := &fakeIntakeStore{}
	security := &fakeSecurityLog{}
	clock := &mockClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	svc := NewMaintenanceService(intake, &fakeMarkerStore{}, security, 5, clock, nopLogger{})

	require.NoError(t, svc.Run(context.Background()))
	assert.Empty(t, security.entries)
}

func TestMaintenance_BurstListErrorDoesNotAbortRun(t *testing.T) {
	intake := &fakeIntakeStore{listErr: types.NewAppError(types.ErrCodeInternalStore, "query failed", nil)}
	markers := &fakeMarkerStore{}
	clock := &mockClock{now: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)}
	svc := NewMaintenanceService(intake, markers, &fakeSecurityLog{}, 5, clock, nopLogger{})

	require.NoError(t, svc.Run(context.Background()))
	// Reminder marker retention still ran.
	assert.False(t, markers.cutoff.IsZero())
}
