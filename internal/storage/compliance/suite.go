// Package compliance defines the behavioral contract every storage
// engine must satisfy. Engine packages run RunStorageComplianceTest
// against a real instance so PostgreSQL and SQLite cannot drift apart.
package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/flow7/internal/application/plan"
	"github.com/rezkam/flow7/internal/application/scheduler"
	"github.com/rezkam/flow7/internal/application/settings"
	"github.com/rezkam/flow7/internal/domain"
)

// Storage is the union of every repository interface an engine must
// implement. Overlapping method sets between the embedded interfaces
// are identical, which Go permits.
type Storage interface {
	plan.Repository
	settings.Repository
	scheduler.JobStore
	scheduler.PlanStore
}

// RunStorageComplianceTest exercises storage against the repository
// contract. setup must return a fresh, empty store per invocation and a
// teardown function.
func RunStorageComplianceTest(t *testing.T, setup func(t *testing.T) (Storage, func())) {
	t.Helper()

	t.Run("PlanLifecycle", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		testPlanLifecycle(t, store)
	})
	t.Run("PlanRangeQueries", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		testPlanRangeQueries(t, store)
	})
	t.Run("OverlapQuery", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		testOverlapQuery(t, store)
	})
	t.Run("ConcurrentCreateSameSlot", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		testConcurrentCreateSameSlot(t, store)
	})
	t.Run("NotificationState", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		testNotificationState(t, store)
	})
	t.Run("SettingsRoundTrip", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		testSettingsRoundTrip(t, store)
	})
	t.Run("DeviceTokens", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		testDeviceTokens(t, store)
	})
	t.Run("JobStore", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		testJobStore(t, store)
	})
	t.Run("JobOrderingSubSecond", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		testJobOrderingSubSecond(t, store)
	})
	t.Run("AtomicRollsBackOnError", func(t *testing.T) {
		store, teardown := setup(t)
		defer teardown()
		testAtomicRollback(t, store)
	})
}

func mustDate(t *testing.T, s string) domain.Date {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func mustTime(t *testing.T, s string) domain.TimeOfDay {
	t.Helper()
	tod, err := domain.ParseTimeOfDay(s)
	require.NoError(t, err)
	return tod
}

func newPlan(t *testing.T, uid, date, start, end string) *domain.Plan {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Second)
	p := &domain.Plan{
		ID:        id.String(),
		UserID:    uid,
		Date:      mustDate(t, date),
		StartTime: mustTime(t, start),
		Title:     "plan " + start,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if end != "" {
		e := mustTime(t, end)
		p.EndTime = &e
	}
	return p
}

func testPlanLifecycle(t *testing.T, store Storage) {
	ctx := context.Background()

	_, err := store.FindPlanByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)

	p := newPlan(t, "user-1", "2025-06-01", "09:00", "10:00")
	p.Description = "bring the slides"
	require.NoError(t, store.CreatePlan(ctx, p))

	got, err := store.FindPlanByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.UserID, got.UserID)
	assert.Equal(t, "2025-06-01", got.Date.String())
	assert.Equal(t, "09:00", got.StartTime.String())
	require.NotNil(t, got.EndTime)
	assert.Equal(t, "10:00", got.EndTime.String())
	assert.Equal(t, p.Title, got.Title)
	assert.Equal(t, p.Description, got.Description)
	assert.False(t, got.Notified)
	assert.Nil(t, got.NotifyAt)
	assert.True(t, got.CreatedAt.Equal(p.CreatedAt))

	got.Title = "renamed"
	got.EndTime = nil
	got.UpdatedAt = got.UpdatedAt.Add(time.Minute)
	require.NoError(t, store.UpdatePlan(ctx, got))

	got, err = store.FindPlanByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Nil(t, got.EndTime)

	require.NoError(t, store.DeletePlan(ctx, p.ID))
	assert.ErrorIs(t, store.DeletePlan(ctx, p.ID), domain.ErrPlanNotFound)

	ghost := newPlan(t, "user-1", "2025-06-01", "09:00", "")
	assert.ErrorIs(t, store.UpdatePlan(ctx, ghost), domain.ErrPlanNotFound)
}

func testPlanRangeQueries(t *testing.T, store Storage) {
	ctx := context.Background()

	for _, spec := range []struct{ date, start string }{
		{"2025-06-02", "14:00"},
		{"2025-06-01", "09:00"},
		{"2025-06-01", "18:00"},
		{"2025-06-10", "08:00"},
	} {
		require.NoError(t, store.CreatePlan(ctx, newPlan(t, "user-1", spec.date, spec.start, "")))
	}
	require.NoError(t, store.CreatePlan(ctx, newPlan(t, "user-2", "2025-06-01", "09:00", "")))

	plans, err := store.ListPlansByRange(ctx, "user-1", mustDate(t, "2025-06-01"), mustDate(t, "2025-06-02"))
	require.NoError(t, err)
	require.Len(t, plans, 3)
	// Ordered by date then start time.
	assert.Equal(t, "09:00", plans[0].StartTime.String())
	assert.Equal(t, "18:00", plans[1].StartTime.String())
	assert.Equal(t, "2025-06-02", plans[2].Date.String())

	plans, err = store.ListPlansByRange(ctx, "user-1", mustDate(t, "2025-06-03"), mustDate(t, "2025-06-05"))
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func testOverlapQuery(t *testing.T, store Storage) {
	ctx := context.Background()
	date := mustDate(t, "2025-06-01")

	timed := newPlan(t, "user-1", "2025-06-01", "09:00", "10:00")
	open := newPlan(t, "user-1", "2025-06-01", "12:00", "")
	require.NoError(t, store.CreatePlan(ctx, timed))
	require.NoError(t, store.CreatePlan(ctx, open))

	// Strict overlap with the timed plan.
	hits, err := store.FindOverlapping(ctx, "user-1", date, mustTime(t, "09:30"), mustTime(t, "11:00"), "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, timed.ID, hits[0].ID)

	// Touching intervals do not conflict.
	hits, err = store.FindOverlapping(ctx, "user-1", date, mustTime(t, "10:00"), mustTime(t, "11:00"), "")
	require.NoError(t, err)
	assert.Empty(t, hits)

	// A plan without an end time is a zero-length interval: it matches
	// when its start lies strictly inside the probe, not at the boundary.
	hits, err = store.FindOverlapping(ctx, "user-1", date, mustTime(t, "11:00"), mustTime(t, "13:00"), "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, open.ID, hits[0].ID)

	hits, err = store.FindOverlapping(ctx, "user-1", date, mustTime(t, "12:00"), mustTime(t, "13:00"), "")
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Excluding the candidate's own id.
	hits, err = store.FindOverlapping(ctx, "user-1", date, mustTime(t, "09:00"), mustTime(t, "10:00"), timed.ID)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Other users never collide.
	hits, err = store.FindOverlapping(ctx, "user-2", date, mustTime(t, "09:00"), mustTime(t, "10:00"), "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// testConcurrentCreateSameSlot races two check-then-insert transactions
// into the same empty slot. The engine must serialize them so the loser
// sees the winner's row: a locking read alone does not, since neither
// transaction matches any row to lock.
func testConcurrentCreateSameSlot(t *testing.T, store Storage) {
	ctx := context.Background()
	date := mustDate(t, "2025-06-01")

	candidates := []*domain.Plan{
		newPlan(t, "user-1", "2025-06-01", "09:00", "10:00"),
		newPlan(t, "user-1", "2025-06-01", "09:30", "10:30"),
	}

	start := make(chan struct{})
	results := make(chan error, len(candidates))
	for _, p := range candidates {
		go func(p *domain.Plan) {
			<-start
			results <- store.Atomic(ctx, func(repo plan.Repository) error {
				hits, err := repo.FindOverlapping(ctx, p.UserID, p.Date, p.StartTime, p.EffectiveEnd(), "")
				if err != nil {
					return err
				}
				if len(hits) > 0 {
					return &domain.ConflictError{PlanIDs: []string{hits[0].ID}}
				}
				return repo.CreatePlan(ctx, p)
			})
		}(p)
	}
	close(start)

	var created, conflicted int
	for range candidates {
		err := <-results
		var conflict *domain.ConflictError
		switch {
		case err == nil:
			created++
		case errors.As(err, &conflict):
			conflicted++
		default:
			t.Fatalf("unexpected error from concurrent create: %v", err)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, conflicted)

	persisted, err := store.ListPlansByRange(ctx, "user-1", date, date)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func testNotificationState(t *testing.T, store Storage) {
	ctx := context.Background()

	p := newPlan(t, "user-1", "2025-06-01", "09:00", "")
	require.NoError(t, store.CreatePlan(ctx, p))
	done := newPlan(t, "user-1", "2025-06-01", "11:00", "")
	require.NoError(t, store.CreatePlan(ctx, done))
	require.NoError(t, store.MarkNotified(ctx, done.ID))

	notifyAt := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetNotifySchedule(ctx, p.ID, &notifyAt))

	got, err := store.FindPlanByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NotifyAt)
	assert.True(t, got.NotifyAt.Equal(notifyAt))

	pending, err := store.ListPendingForUser(ctx, "user-1", mustDate(t, "2025-06-01"), mustDate(t, "2025-06-01"))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, p.ID, pending[0].ID)

	all, err := store.ListPendingInRange(ctx, mustDate(t, "2025-05-31"), mustDate(t, "2025-06-02"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, p.ID, all[0].ID)

	require.NoError(t, store.SetNotifySchedule(ctx, p.ID, nil))
	got, err = store.FindPlanByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NotifyAt)

	assert.ErrorIs(t, store.MarkNotified(ctx, "missing"), domain.ErrPlanNotFound)
}

func testSettingsRoundTrip(t *testing.T, store Storage) {
	ctx := context.Background()

	_, err := store.GetSettings(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrSettingsNotFound)

	now := time.Now().UTC().Truncate(time.Second)
	u := domain.NewUserSettings("user-1", now)
	require.NoError(t, store.UpsertSettings(ctx, u))

	got, err := store.GetSettings(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTimezone, got.Timezone)
	assert.True(t, got.NotificationsEnabled)
	assert.Equal(t, domain.SubscriptionFree, got.Subscription)
	assert.Nil(t, got.SessionTimezone)

	sessionZone := "America/New_York"
	sessionExp := now.Add(domain.DefaultSessionTTL)
	subExp := now.Add(30 * 24 * time.Hour)
	got.SessionTimezone = &sessionZone
	got.SessionTZExpiresAt = &sessionExp
	got.Subscription = domain.SubscriptionPro
	got.SubscriptionExpires = &subExp
	got.SubscriptionScore = 42
	got.NotificationsEnabled = false
	got.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, store.UpsertSettings(ctx, got))

	got, err = store.GetSettings(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got.SessionTimezone)
	assert.Equal(t, sessionZone, *got.SessionTimezone)
	require.NotNil(t, got.SessionTZExpiresAt)
	assert.True(t, got.SessionTZExpiresAt.Equal(sessionExp))
	assert.Equal(t, domain.SubscriptionPro, got.Subscription)
	require.NotNil(t, got.SubscriptionExpires)
	assert.True(t, got.SubscriptionExpires.Equal(subExp))
	assert.Equal(t, 42, got.SubscriptionScore)
	assert.False(t, got.NotificationsEnabled)
}

func testDeviceTokens(t *testing.T, store Storage) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.RegisterDevice(ctx, &domain.DeviceEndpoint{
		UID: "user-1", Token: "tok-a", Provider: "fcm", CreatedAt: now,
	}))
	require.NoError(t, store.RegisterDevice(ctx, &domain.DeviceEndpoint{
		UID: "user-1", Token: "tok-b", Provider: "fcm", CreatedAt: now.Add(time.Second),
	}))

	devices, err := store.ListDevices(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "tok-a", devices[0].Token)
	assert.Equal(t, "tok-b", devices[1].Token)

	// Re-registering a token under another user moves it.
	require.NoError(t, store.RegisterDevice(ctx, &domain.DeviceEndpoint{
		UID: "user-2", Token: "tok-a", Provider: "fcm", CreatedAt: now.Add(2 * time.Second),
	}))
	devices, err = store.ListDevices(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "tok-b", devices[0].Token)

	assert.ErrorIs(t, store.RemoveDevice(ctx, "user-1", "tok-a"), domain.ErrDeviceNotFound)
	require.NoError(t, store.RemoveDevice(ctx, "user-2", "tok-a"))
	require.NoError(t, store.RemoveDevice(ctx, "user-1", "tok-b"))

	devices, err = store.ListDevices(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func testJobStore(t *testing.T, store Storage) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

	next, err := store.NextRunAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	early := &domain.SchedulerJob{
		JobID:        domain.PlanJobID("p-early"),
		RunAt:        base,
		PlanID:       "p-early",
		MisfireGrace: domain.DefaultMisfireGrace,
	}
	late := &domain.SchedulerJob{
		JobID:        domain.PlanJobID("p-late"),
		RunAt:        base.Add(time.Hour),
		PlanID:       "p-late",
		MisfireGrace: domain.DefaultMisfireGrace,
	}
	require.NoError(t, store.UpsertJob(ctx, early))
	require.NoError(t, store.UpsertJob(ctx, late))

	next, err = store.NextRunAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(base))

	due, err := store.DueJobs(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, early.JobID, due[0].JobID)
	assert.Equal(t, "p-early", due[0].PlanID)
	assert.Equal(t, domain.DefaultMisfireGrace, due[0].MisfireGrace)
	assert.True(t, due[0].RunAt.Equal(base))

	// Exactly one acquisition wins.
	ok, err := store.AcquireJob(ctx, early.JobID, "worker-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.AcquireJob(ctx, early.JobID, "worker-2")
	require.NoError(t, err)
	assert.False(t, ok)

	// Acquired jobs disappear from the due and next views.
	due, err = store.DueJobs(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)
	next, err = store.NextRunAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(late.RunAt))

	// Re-upserting an acquired job clears the acquisition.
	early.RunAt = base.Add(30 * time.Minute)
	require.NoError(t, store.UpsertJob(ctx, early))
	due, err = store.DueJobs(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 2)

	// Stale acquisitions are reclaimable.
	ok, err = store.AcquireJob(ctx, late.JobID, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)
	released, err := store.ReleaseStaleJobs(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	ok, err = store.AcquireJob(ctx, late.JobID, "worker-2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.CompleteJob(ctx, early.JobID))
	require.NoError(t, store.CompleteJob(ctx, late.JobID))
	require.NoError(t, store.RemoveJob(ctx, "never-existed"))

	next, err = store.NextRunAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

// testJobOrderingSubSecond pins chronological ordering of the due and
// next-run views for instants that differ only below the second.
func testJobOrderingSubSecond(t *testing.T, store Storage) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 6, 0, 1, 0, time.UTC)

	whole := &domain.SchedulerJob{
		JobID:        domain.PlanJobID("p-whole"),
		RunAt:        base,
		PlanID:       "p-whole",
		MisfireGrace: domain.DefaultMisfireGrace,
	}
	frac := &domain.SchedulerJob{
		JobID:        domain.PlanJobID("p-frac"),
		RunAt:        base.Add(500 * time.Millisecond),
		PlanID:       "p-frac",
		MisfireGrace: domain.DefaultMisfireGrace,
	}
	require.NoError(t, store.UpsertJob(ctx, frac))
	require.NoError(t, store.UpsertJob(ctx, whole))

	next, err := store.NextRunAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(base))

	due, err := store.DueJobs(ctx, base.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, whole.JobID, due[0].JobID)
	assert.Equal(t, frac.JobID, due[1].JobID)
	assert.True(t, due[1].RunAt.Equal(frac.RunAt))
}

func testAtomicRollback(t *testing.T, store Storage) {
	ctx := context.Background()
	boom := errors.New("boom")

	p := newPlan(t, "user-1", "2025-06-01", "09:00", "10:00")
	err := store.Atomic(ctx, func(repo plan.Repository) error {
		if err := repo.CreatePlan(ctx, p); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.FindPlanByID(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)

	// A committed transaction persists.
	err = store.Atomic(ctx, func(repo plan.Repository) error {
		return repo.CreatePlan(ctx, p)
	})
	require.NoError(t, err)
	got, err := store.FindPlanByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}
