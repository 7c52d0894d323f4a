package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/flow7/internal/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) NowUTC() time.Time { return c.now }

type mockRepository struct {
	getSettingsFunc    func(ctx context.Context, uid string) (*domain.UserSettings, error)
	upsertSettingsFunc func(ctx context.Context, s *domain.UserSettings) error
	registerDeviceFunc func(ctx context.Context, d *domain.DeviceEndpoint) error
	removeDeviceFunc   func(ctx context.Context, uid, token string) error
	listDevicesFunc    func(ctx context.Context, uid string) ([]*domain.DeviceEndpoint, error)
}

func (m *mockRepository) GetSettings(ctx context.Context, uid string) (*domain.UserSettings, error) {
	return m.getSettingsFunc(ctx, uid)
}

func (m *mockRepository) UpsertSettings(ctx context.Context, s *domain.UserSettings) error {
	return m.upsertSettingsFunc(ctx, s)
}

func (m *mockRepository) RegisterDevice(ctx context.Context, d *domain.DeviceEndpoint) error {
	return m.registerDeviceFunc(ctx, d)
}

func (m *mockRepository) RemoveDevice(ctx context.Context, uid, token string) error {
	return m.removeDeviceFunc(ctx, uid, token)
}

func (m *mockRepository) ListDevices(ctx context.Context, uid string) ([]*domain.DeviceEndpoint, error) {
	return m.listDevicesFunc(ctx, uid)
}

type mockRescheduler struct {
	uids []string
}

func (m *mockRescheduler) RescheduleUserAsync(uid string) {
	m.uids = append(m.uids, uid)
}

var testNow = time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)

// inMemoryRepo keeps one settings row so Ensure-then-update flows can be
// exercised without a store.
func inMemoryRepo() (*mockRepository, *map[string]*domain.UserSettings) {
	rows := make(map[string]*domain.UserSettings)
	repo := &mockRepository{
		getSettingsFunc: func(ctx context.Context, uid string) (*domain.UserSettings, error) {
			if s, ok := rows[uid]; ok {
				return s, nil
			}
			return nil, domain.ErrSettingsNotFound
		},
		upsertSettingsFunc: func(ctx context.Context, s *domain.UserSettings) error {
			rows[s.UID] = s
			return nil
		},
	}
	return repo, &rows
}

func TestEnsureCreatesDefaults(t *testing.T) {
	repo, rows := inMemoryRepo()
	svc := NewService(repo, &mockRescheduler{}, fixedClock{now: testNow})

	s, err := svc.Ensure(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, "u1", s.UID)
	assert.Equal(t, domain.DefaultTimezone, s.Timezone)
	assert.True(t, s.NotificationsEnabled)
	assert.Equal(t, domain.SubscriptionFree, s.Subscription)
	assert.Contains(t, *rows, "u1")

	// Second call returns the stored row without recreating it
	again, err := svc.Ensure(context.Background(), "u1")
	require.NoError(t, err)
	assert.Same(t, (*rows)["u1"], again)
}

func TestSetTimezonePersistent(t *testing.T) {
	repo, rows := inMemoryRepo()
	resched := &mockRescheduler{}
	svc := NewService(repo, resched, fixedClock{now: testNow})

	require.NoError(t, svc.SetTimezone(context.Background(), "u1", "UTC", true, 0))

	s := (*rows)["u1"]
	assert.Equal(t, "UTC", s.Timezone)
	assert.Nil(t, s.SessionTimezone)
	assert.Nil(t, s.SessionTZExpiresAt)
	assert.Equal(t, []string{"u1"}, resched.uids)
}

func TestSetTimezoneSession(t *testing.T) {
	repo, rows := inMemoryRepo()
	resched := &mockRescheduler{}
	svc := NewService(repo, resched, fixedClock{now: testNow})

	require.NoError(t, svc.SetTimezone(context.Background(), "u1", "Asia/Tokyo", false, 0))

	s := (*rows)["u1"]
	assert.Equal(t, domain.DefaultTimezone, s.Timezone)
	require.NotNil(t, s.SessionTimezone)
	assert.Equal(t, "Asia/Tokyo", *s.SessionTimezone)
	require.NotNil(t, s.SessionTZExpiresAt)
	assert.Equal(t, testNow.Add(domain.DefaultSessionTTL), *s.SessionTZExpiresAt)

	// Explicit TTL
	require.NoError(t, svc.SetTimezone(context.Background(), "u1", "Asia/Tokyo", false, 24))
	assert.Equal(t, testNow.Add(24*time.Hour), *(*rows)["u1"].SessionTZExpiresAt)
}

func TestSetTimezoneInvalid(t *testing.T) {
	repo, _ := inMemoryRepo()
	resched := &mockRescheduler{}
	svc := NewService(repo, resched, fixedClock{now: testNow})

	err := svc.SetTimezone(context.Background(), "u1", "Pluto/Underworld", true, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTimezone)
	assert.Empty(t, resched.uids)
}

func TestSetNotificationsEnabled(t *testing.T) {
	repo, rows := inMemoryRepo()
	resched := &mockRescheduler{}
	svc := NewService(repo, resched, fixedClock{now: testNow})

	require.NoError(t, svc.SetNotificationsEnabled(context.Background(), "u1", false))
	assert.False(t, (*rows)["u1"].NotificationsEnabled)
	assert.Empty(t, resched.uids)

	require.NoError(t, svc.SetNotificationsEnabled(context.Background(), "u1", true))
	assert.True(t, (*rows)["u1"].NotificationsEnabled)
	assert.Equal(t, []string{"u1"}, resched.uids)
}

func TestUpdateProfile(t *testing.T) {
	repo, rows := inMemoryRepo()
	svc := NewService(repo, &mockRescheduler{}, fixedClock{now: testNow})

	theme := "dark"
	city := "Ankara"
	s, err := svc.UpdateProfile(context.Background(), "u1", ProfileUpdate{Theme: &theme, City: &city})
	require.NoError(t, err)

	assert.Equal(t, "dark", s.Theme)
	assert.Equal(t, "Ankara", s.City)
	assert.Equal(t, "en", (*rows)["u1"].Language)
}

func TestSetSubscription(t *testing.T) {
	repo, rows := inMemoryRepo()
	svc := NewService(repo, &mockRescheduler{}, fixedClock{now: testNow})

	expires := testNow.AddDate(0, 1, 0)
	score := 42
	s, err := svc.SetSubscription(context.Background(), "u1", "PRO", &expires, &score)
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionPro, s.Subscription)
	assert.Equal(t, &expires, s.SubscriptionExpires)
	assert.Equal(t, 42, (*rows)["u1"].SubscriptionScore)

	_, err = svc.SetSubscription(context.Background(), "u1", "DIAMOND", nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSubscription)
}

func TestRegisterDevice(t *testing.T) {
	var registered *domain.DeviceEndpoint
	repo := &mockRepository{
		registerDeviceFunc: func(ctx context.Context, d *domain.DeviceEndpoint) error {
			registered = d
			return nil
		},
	}
	svc := NewService(repo, &mockRescheduler{}, fixedClock{now: testNow})

	require.NoError(t, svc.RegisterDevice(context.Background(), "u1", "tok-1", ""))
	assert.Equal(t, "u1", registered.UID)
	assert.Equal(t, DefaultProvider, registered.Provider)
	assert.Equal(t, testNow, registered.CreatedAt)

	require.NoError(t, svc.RegisterDevice(context.Background(), "u1", "tok-2", "apns"))
	assert.Equal(t, "apns", registered.Provider)

	err := svc.RegisterDevice(context.Background(), "u1", "", "")
	assert.ErrorIs(t, err, domain.ErrTokenRequired)
}

func TestUnregisterDevice(t *testing.T) {
	repo := &mockRepository{
		removeDeviceFunc: func(ctx context.Context, uid, token string) error {
			if token != "tok-1" || uid != "u1" {
				return domain.ErrDeviceNotFound
			}
			return nil
		},
	}
	svc := NewService(repo, &mockRescheduler{}, fixedClock{now: testNow})

	assert.NoError(t, svc.UnregisterDevice(context.Background(), "u1", "tok-1"))
	assert.ErrorIs(t, svc.UnregisterDevice(context.Background(), "u2", "tok-1"), domain.ErrDeviceNotFound)
}
