package scheduler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/flow7/internal/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) NowUTC() time.Time { return c.now }

type staticZones struct{ loc *time.Location }

func (z staticZones) EffectiveZone(ctx context.Context, uid string) *time.Location { return z.loc }

type mockPlanStore struct {
	findPlanByIDFunc       func(ctx context.Context, id string) (*domain.Plan, error)
	listPendingForUserFunc func(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error)
	listPendingInRangeFunc func(ctx context.Context, from, to domain.Date) ([]*domain.Plan, error)
	setNotifyScheduleFunc  func(ctx context.Context, planID string, notifyAt *time.Time) error
	markNotifiedFunc       func(ctx context.Context, planID string) error
}

func (m *mockPlanStore) FindPlanByID(ctx context.Context, id string) (*domain.Plan, error) {
	return m.findPlanByIDFunc(ctx, id)
}

func (m *mockPlanStore) ListPendingForUser(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
	return m.listPendingForUserFunc(ctx, uid, from, to)
}

func (m *mockPlanStore) ListPendingInRange(ctx context.Context, from, to domain.Date) ([]*domain.Plan, error) {
	return m.listPendingInRangeFunc(ctx, from, to)
}

func (m *mockPlanStore) SetNotifySchedule(ctx context.Context, planID string, notifyAt *time.Time) error {
	return m.setNotifyScheduleFunc(ctx, planID, notifyAt)
}

func (m *mockPlanStore) MarkNotified(ctx context.Context, planID string) error {
	return m.markNotifiedFunc(ctx, planID)
}

// memJobStore is a mutex-guarded in-memory JobStore for pump tests.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.SchedulerJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*domain.SchedulerJob)}
}

func (m *memJobStore) UpsertJob(ctx context.Context, job *domain.SchedulerJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	cp.AcquiredBy = nil
	cp.AcquiredAt = nil
	m.jobs[job.JobID] = &cp
	return nil
}

func (m *memJobStore) RemoveJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memJobStore) DueJobs(ctx context.Context, before time.Time) ([]*domain.SchedulerJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.SchedulerJob
	for _, j := range m.jobs {
		if j.AcquiredBy == nil && !j.RunAt.After(before) {
			cp := *j
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].RunAt.Before(due[k].RunAt) })
	return due, nil
}

func (m *memJobStore) NextRunAt(ctx context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *time.Time
	for _, j := range m.jobs {
		if j.AcquiredBy != nil {
			continue
		}
		if next == nil || j.RunAt.Before(*next) {
			t := j.RunAt
			next = &t
		}
	}
	return next, nil
}

func (m *memJobStore) AcquireJob(ctx context.Context, jobID, workerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.AcquiredBy != nil {
		return false, nil
	}
	now := time.Now().UTC()
	j.AcquiredBy = &workerID
	j.AcquiredAt = &now
	return true, nil
}

func (m *memJobStore) CompleteJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memJobStore) ReleaseStaleJobs(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := 0
	for _, j := range m.jobs {
		if j.AcquiredAt != nil && j.AcquiredAt.Before(olderThan) {
			j.AcquiredBy = nil
			j.AcquiredAt = nil
			released++
		}
	}
	return released, nil
}

func (m *memJobStore) get(jobID string) *domain.SchedulerJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		cp := *j
		return &cp
	}
	return nil
}

func (m *memJobStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

type recordingDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	done       chan string
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{done: make(chan string, 16)}
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, planID string) error {
	d.mu.Lock()
	d.dispatched = append(d.dispatched, planID)
	d.mu.Unlock()
	d.done <- planID
	return nil
}

var (
	testNow = time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)
	istLoc  = mustLoadLocation("Europe/Istanbul")
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func noopPlanStore() *mockPlanStore {
	return &mockPlanStore{
		setNotifyScheduleFunc: func(ctx context.Context, planID string, notifyAt *time.Time) error { return nil },
		markNotifiedFunc:      func(ctx context.Context, planID string) error { return nil },
	}
}

func testPlan(id string, date domain.Date, start domain.TimeOfDay) *domain.Plan {
	return &domain.Plan{ID: id, UserID: "u1", Date: date, StartTime: start, Title: "Plan"}
}

func TestScheduleFuturePlan(t *testing.T) {
	jobs := newMemJobStore()
	var persisted *time.Time
	plans := noopPlanStore()
	plans.setNotifyScheduleFunc = func(ctx context.Context, planID string, notifyAt *time.Time) error {
		persisted = notifyAt
		return nil
	}

	s := New(jobs, plans, staticZones{loc: istLoc}, newRecordingDispatcher(), fixedClock{now: testNow})

	// 15:00 Istanbul is 12:00 UTC; schedule for tomorrow
	p := testPlan("p1", domain.Date{Year: 2025, Month: time.January, Day: 11}, domain.TimeOfDay{Hour: 15})
	require.NoError(t, s.Schedule(context.Background(), p))

	want := time.Date(2025, time.January, 11, 12, 0, 0, 0, time.UTC)
	require.NotNil(t, persisted)
	assert.Equal(t, want, *persisted)
	assert.Equal(t, &want, p.NotifyAt)

	job := jobs.get("plan_p1")
	require.NotNil(t, job)
	assert.Equal(t, want, job.RunAt)
	assert.Equal(t, "p1", job.PlanID)
	assert.Equal(t, domain.DefaultMisfireGrace, job.MisfireGrace)
}

func TestSchedulePastPlanPersistsWithoutJob(t *testing.T) {
	jobs := newMemJobStore()
	var persisted *time.Time
	plans := noopPlanStore()
	plans.setNotifyScheduleFunc = func(ctx context.Context, planID string, notifyAt *time.Time) error {
		persisted = notifyAt
		return nil
	}

	s := New(jobs, plans, staticZones{loc: istLoc}, newRecordingDispatcher(), fixedClock{now: testNow})

	p := testPlan("p1", domain.Date{Year: 2025, Month: time.January, Day: 9}, domain.TimeOfDay{Hour: 9})
	require.NoError(t, s.Schedule(context.Background(), p))

	assert.NotNil(t, persisted)
	assert.Equal(t, 0, jobs.len())
}

func TestCancel(t *testing.T) {
	jobs := newMemJobStore()
	s := New(jobs, noopPlanStore(), staticZones{loc: istLoc}, newRecordingDispatcher(), fixedClock{now: testNow})

	require.NoError(t, jobs.UpsertJob(context.Background(), &domain.SchedulerJob{JobID: "plan_p1", PlanID: "p1", RunAt: testNow.Add(time.Hour)}))
	require.NoError(t, s.Cancel(context.Background(), "p1"))
	assert.Equal(t, 0, jobs.len())

	// Silent on absent
	assert.NoError(t, s.Cancel(context.Background(), "p1"))
}

func TestRescheduleUserCascade(t *testing.T) {
	jobs := newMemJobStore()
	plans := noopPlanStore()

	// Plan today 15:00 local; with Istanbul that was 12:00 UTC
	p := testPlan("p1", domain.Date{Year: 2025, Month: time.January, Day: 10}, domain.TimeOfDay{Hour: 15})
	plans.listPendingForUserFunc = func(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
		assert.Equal(t, "2025-01-09", from.String())
		assert.Equal(t, "2025-02-09", to.String())
		return []*domain.Plan{p}, nil
	}

	// User switched to UTC: job must move to 15:00 UTC
	s := New(jobs, plans, staticZones{loc: time.UTC}, newRecordingDispatcher(), fixedClock{now: testNow})
	require.NoError(t, jobs.UpsertJob(context.Background(), &domain.SchedulerJob{
		JobID: "plan_p1", PlanID: "p1",
		RunAt: time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC),
	}))

	require.NoError(t, s.RescheduleUser(context.Background(), "u1"))

	job := jobs.get("plan_p1")
	require.NotNil(t, job)
	assert.Equal(t, time.Date(2025, time.January, 10, 15, 0, 0, 0, time.UTC), job.RunAt)
}

func TestRescheduleUserDropsPastPlans(t *testing.T) {
	jobs := newMemJobStore()
	plans := noopPlanStore()

	p := testPlan("p1", domain.Date{Year: 2025, Month: time.January, Day: 9}, domain.TimeOfDay{Hour: 9})
	plans.listPendingForUserFunc = func(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
		return []*domain.Plan{p}, nil
	}

	s := New(jobs, plans, staticZones{loc: time.UTC}, newRecordingDispatcher(), fixedClock{now: testNow})
	require.NoError(t, jobs.UpsertJob(context.Background(), &domain.SchedulerJob{JobID: "plan_p1", PlanID: "p1", RunAt: testNow.Add(-time.Hour)}))

	require.NoError(t, s.RescheduleUser(context.Background(), "u1"))

	// Cancelled and not re-inserted: the new instant is in the past
	assert.Equal(t, 0, jobs.len())
}

func TestShutdownWaitsForAsyncReschedule(t *testing.T) {
	jobs := newMemJobStore()
	plans := noopPlanStore()

	entered := make(chan struct{})
	release := make(chan struct{})
	plans.listPendingForUserFunc = func(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
		close(entered)
		<-release
		return nil, nil
	}

	s := New(jobs, plans, staticZones{loc: time.UTC}, newRecordingDispatcher(), fixedClock{now: testNow},
		WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	s.RescheduleUserAsync("u1")
	<-entered
	cancel()

	// Start must not return while the reschedule is still running
	select {
	case <-done:
		t.Fatal("scheduler stopped before async reschedule finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not shut down")
	}
}

func TestAsyncRescheduleAfterShutdownRunsInline(t *testing.T) {
	jobs := newMemJobStore()
	plans := noopPlanStore()

	var mu sync.Mutex
	var calls int
	plans.listPendingForUserFunc = func(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, nil
	}

	s := New(jobs, plans, staticZones{loc: time.UTC}, newRecordingDispatcher(), fixedClock{now: testNow},
		WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not shut down")
	}

	// After the final Wait no new goroutine may be spawned; the call has
	// completed synchronously by the time it returns.
	s.RescheduleUserAsync("u1")
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestRecover(t *testing.T) {
	future := testNow.Add(2 * time.Hour)
	withinGrace := testNow.Add(-5 * time.Minute)
	tooOld := testNow.Add(-25 * time.Hour)

	date := domain.Date{Year: 2025, Month: time.January, Day: 10}

	futurePlan := testPlan("p-future", date, domain.TimeOfDay{Hour: 14})
	futurePlan.NotifyAt = &future

	gracePlan := testPlan("p-grace", date, domain.TimeOfDay{Hour: 11, Minute: 55})
	gracePlan.NotifyAt = &withinGrace

	oldPlan := testPlan("p-old", date.AddDays(-1), domain.TimeOfDay{Hour: 11})
	oldPlan.NotifyAt = &tooOld

	// No persisted instant; 15:00 Istanbul today = 12:00 UTC = now, so it
	// lands in the grace branch
	nullPlan := testPlan("p-null", date, domain.TimeOfDay{Hour: 15})

	var notified []string
	persistedInstants := make(map[string]time.Time)
	plans := &mockPlanStore{
		listPendingInRangeFunc: func(ctx context.Context, from, to domain.Date) ([]*domain.Plan, error) {
			assert.Equal(t, "2025-01-09", from.String())
			assert.Equal(t, "2025-01-17", to.String())
			return []*domain.Plan{futurePlan, gracePlan, oldPlan, nullPlan}, nil
		},
		setNotifyScheduleFunc: func(ctx context.Context, planID string, notifyAt *time.Time) error {
			persistedInstants[planID] = *notifyAt
			return nil
		},
		markNotifiedFunc: func(ctx context.Context, planID string) error {
			notified = append(notified, planID)
			return nil
		},
	}

	jobs := newMemJobStore()
	s := New(jobs, plans, staticZones{loc: istLoc}, newRecordingDispatcher(), fixedClock{now: testNow})

	require.NoError(t, s.Recover(context.Background()))

	// Future instant re-inserted exactly
	futureJob := jobs.get("plan_p-future")
	require.NotNil(t, futureJob)
	assert.Equal(t, future, futureJob.RunAt)
	assert.Equal(t, domain.DefaultMisfireGrace, futureJob.MisfireGrace)

	// Within grace: immediate run with extended grace
	graceJob := jobs.get("plan_p-grace")
	require.NotNil(t, graceJob)
	assert.Equal(t, testNow.Add(5*time.Second), graceJob.RunAt)
	assert.Equal(t, domain.RecoveryMisfireGrace, graceJob.MisfireGrace)

	// Too old: finalized silently, no job
	assert.Equal(t, []string{"p-old"}, notified)
	assert.Nil(t, jobs.get("plan_p-old"))

	// Null instant computed fresh and classified
	assert.Equal(t, time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC), persistedInstants["p-null"])
	nullJob := jobs.get("plan_p-null")
	require.NotNil(t, nullJob)
	assert.Equal(t, testNow.Add(5*time.Second), nullJob.RunAt)
}

func TestRecoverReleasesStaleAcquisitions(t *testing.T) {
	jobs := newMemJobStore()
	plans := &mockPlanStore{
		listPendingInRangeFunc: func(ctx context.Context, from, to domain.Date) ([]*domain.Plan, error) {
			return nil, nil
		},
	}

	worker := "crashed-worker"
	stale := time.Now().UTC().Add(-time.Hour)
	jobs.jobs["plan_p1"] = &domain.SchedulerJob{
		JobID: "plan_p1", PlanID: "p1", RunAt: stale,
		AcquiredBy: &worker, AcquiredAt: &stale,
	}

	s := New(jobs, plans, staticZones{loc: istLoc}, newRecordingDispatcher(), fixedClock{now: time.Now().UTC()})
	require.NoError(t, s.Recover(context.Background()))

	job := jobs.get("plan_p1")
	require.NotNil(t, job)
	assert.Nil(t, job.AcquiredBy)
}

func TestPumpDispatchesDueJobs(t *testing.T) {
	jobs := newMemJobStore()
	dispatcher := newRecordingDispatcher()
	s := New(jobs, noopPlanStore(), staticZones{loc: istLoc}, dispatcher, fixedClock{now: testNow},
		WithPollInterval(10*time.Millisecond), WithPoolSize(2))

	require.NoError(t, jobs.UpsertJob(context.Background(), &domain.SchedulerJob{
		JobID: "plan_p1", PlanID: "p1", RunAt: testNow.Add(-time.Second), MisfireGrace: domain.DefaultMisfireGrace,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case planID := <-dispatcher.done:
		assert.Equal(t, "p1", planID)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not dispatched")
	}

	// Job is completed (removed) after dispatch
	assert.Eventually(t, func() bool { return jobs.len() == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not shut down")
	}
}

func TestPumpWakesOnInsert(t *testing.T) {
	jobs := newMemJobStore()
	dispatcher := newRecordingDispatcher()
	s := New(jobs, noopPlanStore(), staticZones{loc: istLoc}, dispatcher, fixedClock{now: testNow},
		WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	// With an hour-long poll the pump only notices this via the wake signal
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.insertJob(context.Background(), "p1", testNow.Add(-time.Second), domain.DefaultMisfireGrace))

	select {
	case planID := <-dispatcher.done:
		assert.Equal(t, "p1", planID)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not wake on insert")
	}

	cancel()
	<-done
}

func TestPumpFinalizesMisfiredJob(t *testing.T) {
	jobs := newMemJobStore()
	var notifiedMu sync.Mutex
	var notified []string
	plans := noopPlanStore()
	plans.markNotifiedFunc = func(ctx context.Context, planID string) error {
		notifiedMu.Lock()
		notified = append(notified, planID)
		notifiedMu.Unlock()
		return nil
	}

	dispatcher := newRecordingDispatcher()
	s := New(jobs, plans, staticZones{loc: istLoc}, dispatcher, fixedClock{now: testNow},
		WithPollInterval(10*time.Millisecond))

	// Due two hours ago with a 60s grace: must finalize, not dispatch
	require.NoError(t, jobs.UpsertJob(context.Background(), &domain.SchedulerJob{
		JobID: "plan_p1", PlanID: "p1", RunAt: testNow.Add(-2 * time.Hour), MisfireGrace: domain.DefaultMisfireGrace,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool {
		notifiedMu.Lock()
		defer notifiedMu.Unlock()
		return len(notified) == 1 && jobs.len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	dispatcher.mu.Lock()
	assert.Empty(t, dispatcher.dispatched)
	dispatcher.mu.Unlock()

	cancel()
	<-done
}
