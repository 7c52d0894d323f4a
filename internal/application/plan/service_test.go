package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/flow7/internal/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) NowUTC() time.Time { return c.now }

// mockRepository implements Repository with function fields so each test
// overrides only what it needs.
type mockRepository struct {
	createPlanFunc         func(ctx context.Context, p *domain.Plan) error
	findPlanByIDFunc       func(ctx context.Context, id string) (*domain.Plan, error)
	listPlansByRangeFunc   func(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error)
	updatePlanFunc         func(ctx context.Context, p *domain.Plan) error
	deletePlanFunc         func(ctx context.Context, id string) error
	findOverlappingFunc    func(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error)
	listPendingForUserFunc func(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error)
	setNotifyScheduleFunc  func(ctx context.Context, planID string, notifyAt *time.Time) error
	markNotifiedFunc       func(ctx context.Context, planID string) error
}

func (m *mockRepository) CreatePlan(ctx context.Context, p *domain.Plan) error {
	return m.createPlanFunc(ctx, p)
}

func (m *mockRepository) FindPlanByID(ctx context.Context, id string) (*domain.Plan, error) {
	return m.findPlanByIDFunc(ctx, id)
}

func (m *mockRepository) ListPlansByRange(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
	return m.listPlansByRangeFunc(ctx, uid, from, to)
}

func (m *mockRepository) UpdatePlan(ctx context.Context, p *domain.Plan) error {
	return m.updatePlanFunc(ctx, p)
}

func (m *mockRepository) DeletePlan(ctx context.Context, id string) error {
	return m.deletePlanFunc(ctx, id)
}

func (m *mockRepository) FindOverlapping(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error) {
	return m.findOverlappingFunc(ctx, uid, date, start, end, excludeID)
}

func (m *mockRepository) ListPendingForUser(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
	return m.listPendingForUserFunc(ctx, uid, from, to)
}

func (m *mockRepository) SetNotifySchedule(ctx context.Context, planID string, notifyAt *time.Time) error {
	return m.setNotifyScheduleFunc(ctx, planID, notifyAt)
}

func (m *mockRepository) MarkNotified(ctx context.Context, planID string) error {
	return m.markNotifiedFunc(ctx, planID)
}

func (m *mockRepository) Atomic(ctx context.Context, fn func(Repository) error) error {
	return fn(m)
}

type mockSettingsReader struct {
	getSettingsFunc func(ctx context.Context, uid string) (*domain.UserSettings, error)
}

func (m *mockSettingsReader) GetSettings(ctx context.Context, uid string) (*domain.UserSettings, error) {
	return m.getSettingsFunc(ctx, uid)
}

type mockNotifier struct {
	scheduled []string
	cancelled []string
	schedErr  error
}

func (m *mockNotifier) Schedule(ctx context.Context, p *domain.Plan) error {
	m.scheduled = append(m.scheduled, p.ID)
	return m.schedErr
}

func (m *mockNotifier) Cancel(ctx context.Context, planID string) error {
	m.cancelled = append(m.cancelled, planID)
	return nil
}

var testNow = time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)

func tod(h, m int) domain.TimeOfDay { return domain.TimeOfDay{Hour: h, Minute: m} }

func todPtr(h, m int) *domain.TimeOfDay {
	t := tod(h, m)
	return &t
}

func freeSettings(uid string) *domain.UserSettings {
	return domain.NewUserSettings(uid, testNow)
}

func settingsReaderFor(s *domain.UserSettings) *mockSettingsReader {
	return &mockSettingsReader{
		getSettingsFunc: func(ctx context.Context, uid string) (*domain.UserSettings, error) {
			return s, nil
		},
	}
}

func validDraft() domain.PlanDraft {
	return domain.PlanDraft{
		Date:      domain.Date{Year: 2025, Month: time.January, Day: 20},
		StartTime: tod(9, 0),
		EndTime:   todPtr(10, 0),
		Title:     "Dentist",
	}
}

func TestCreatePlan(t *testing.T) {
	var created *domain.Plan
	repo := &mockRepository{
		findOverlappingFunc: func(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error) {
			return nil, nil
		},
		createPlanFunc: func(ctx context.Context, p *domain.Plan) error {
			created = p
			return nil
		},
	}
	notifier := &mockNotifier{}
	svc := NewService(repo, settingsReaderFor(freeSettings("u1")), notifier, fixedClock{now: testNow})

	p, err := svc.Create(context.Background(), "u1", validDraft())
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "u1", p.UserID)
	assert.False(t, p.Notified)
	assert.Equal(t, testNow, p.CreatedAt)
	assert.Same(t, created, p)
	assert.Equal(t, []string{p.ID}, notifier.scheduled)
}

func TestCreatePlanValidation(t *testing.T) {
	svc := NewService(&mockRepository{}, settingsReaderFor(freeSettings("u1")), &mockNotifier{}, fixedClock{now: testNow})

	draft := validDraft()
	draft.Title = ""
	_, err := svc.Create(context.Background(), "u1", draft)
	assert.ErrorIs(t, err, domain.ErrTitleRequired)

	draft = validDraft()
	draft.EndTime = todPtr(9, 0)
	_, err = svc.Create(context.Background(), "u1", draft)
	assert.ErrorIs(t, err, domain.ErrInvalidTimeRange)
}

func TestCreatePlanTierLimit(t *testing.T) {
	svc := NewService(&mockRepository{}, settingsReaderFor(freeSettings("u1")), &mockNotifier{}, fixedClock{now: testNow})

	// FREE horizon from 2025-01-10 ends at 2025-01-24
	draft := validDraft()
	draft.Date = domain.Date{Year: 2025, Month: time.February, Day: 1}
	_, err := svc.Create(context.Background(), "u1", draft)

	var tierErr *domain.TierLimitError
	require.ErrorAs(t, err, &tierErr)
	assert.Equal(t, domain.SubscriptionFree, tierErr.Level)
	assert.Equal(t, "2025-01-24", tierErr.LimitDate.String())
}

func TestCreatePlanExpiredProDegradesToFree(t *testing.T) {
	expired := testNow.Add(-time.Hour)
	settings := freeSettings("u1")
	settings.Subscription = domain.SubscriptionPro
	settings.SubscriptionExpires = &expired

	svc := NewService(&mockRepository{}, settingsReaderFor(settings), &mockNotifier{}, fixedClock{now: testNow})

	draft := validDraft()
	draft.Date = domain.Date{Year: 2025, Month: time.February, Day: 1}
	_, err := svc.Create(context.Background(), "u1", draft)

	var tierErr *domain.TierLimitError
	require.ErrorAs(t, err, &tierErr)
	assert.Equal(t, domain.SubscriptionFree, tierErr.Level)
}

func TestCreatePlanConflict(t *testing.T) {
	existing := &domain.Plan{ID: "p-existing", UserID: "u1"}
	repo := &mockRepository{
		findOverlappingFunc: func(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error) {
			return []*domain.Plan{existing}, nil
		},
	}
	notifier := &mockNotifier{}
	svc := NewService(repo, settingsReaderFor(freeSettings("u1")), notifier, fixedClock{now: testNow})

	_, err := svc.Create(context.Background(), "u1", validDraft())

	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"p-existing"}, conflict.PlanIDs)
	assert.Empty(t, notifier.scheduled)
}

func TestCreatePlanMissingSettingsDefaultsToFree(t *testing.T) {
	reader := &mockSettingsReader{
		getSettingsFunc: func(ctx context.Context, uid string) (*domain.UserSettings, error) {
			return nil, domain.ErrSettingsNotFound
		},
	}
	repo := &mockRepository{
		findOverlappingFunc: func(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error) {
			return nil, nil
		},
		createPlanFunc: func(ctx context.Context, p *domain.Plan) error { return nil },
	}
	svc := NewService(repo, reader, &mockNotifier{}, fixedClock{now: testNow})

	_, err := svc.Create(context.Background(), "u1", validDraft())
	assert.NoError(t, err)

	draft := validDraft()
	draft.Date = domain.Date{Year: 2025, Month: time.February, Day: 1}
	_, err = svc.Create(context.Background(), "u1", draft)
	var tierErr *domain.TierLimitError
	assert.ErrorAs(t, err, &tierErr)
}

func TestCreatePlanScheduleFailureDoesNotFailCreate(t *testing.T) {
	repo := &mockRepository{
		findOverlappingFunc: func(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error) {
			return nil, nil
		},
		createPlanFunc: func(ctx context.Context, p *domain.Plan) error { return nil },
	}
	notifier := &mockNotifier{schedErr: errors.New("job store down")}
	svc := NewService(repo, settingsReaderFor(freeSettings("u1")), notifier, fixedClock{now: testNow})

	_, err := svc.Create(context.Background(), "u1", validDraft())
	assert.NoError(t, err)
}

func TestCreatePlanNotificationsDisabledSkipsSchedule(t *testing.T) {
	settings := freeSettings("u1")
	settings.NotificationsEnabled = false

	repo := &mockRepository{
		findOverlappingFunc: func(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error) {
			return nil, nil
		},
		createPlanFunc: func(ctx context.Context, p *domain.Plan) error { return nil },
	}
	notifier := &mockNotifier{}
	svc := NewService(repo, settingsReaderFor(settings), notifier, fixedClock{now: testNow})

	_, err := svc.Create(context.Background(), "u1", validDraft())
	require.NoError(t, err)
	assert.Empty(t, notifier.scheduled)
}

func TestGetPlan(t *testing.T) {
	stored := &domain.Plan{ID: "p1", UserID: "u1"}
	repo := &mockRepository{
		findPlanByIDFunc: func(ctx context.Context, id string) (*domain.Plan, error) {
			if id == "p1" {
				return stored, nil
			}
			return nil, domain.ErrPlanNotFound
		},
	}
	svc := NewService(repo, settingsReaderFor(freeSettings("u1")), &mockNotifier{}, fixedClock{now: testNow})

	p, err := svc.Get(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)

	_, err = svc.Get(context.Background(), "u2", "p1")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Get(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)
}

func TestListByRange(t *testing.T) {
	repo := &mockRepository{
		listPlansByRangeFunc: func(ctx context.Context, uid string, from, to domain.Date) ([]*domain.Plan, error) {
			return []*domain.Plan{{ID: "p1"}}, nil
		},
	}
	svc := NewService(repo, settingsReaderFor(freeSettings("u1")), &mockNotifier{}, fixedClock{now: testNow})

	from := domain.Date{Year: 2025, Month: time.January, Day: 20}
	plans, err := svc.ListByRange(context.Background(), "u1", from, from)
	require.NoError(t, err)
	assert.Len(t, plans, 1)

	_, err = svc.ListByRange(context.Background(), "u1", from, from.AddDays(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestUpdatePlanResetsNotified(t *testing.T) {
	when := testNow.Add(time.Hour)
	stored := &domain.Plan{
		ID:        "p1",
		UserID:    "u1",
		Date:      domain.Date{Year: 2025, Month: time.January, Day: 20},
		StartTime: tod(9, 0),
		EndTime:   todPtr(10, 0),
		Title:     "Dentist",
		Notified:  true,
		NotifyAt:  &when,
	}
	var updated *domain.Plan
	repo := &mockRepository{
		findPlanByIDFunc: func(ctx context.Context, id string) (*domain.Plan, error) {
			return stored, nil
		},
		findOverlappingFunc: func(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error) {
			assert.Equal(t, "p1", excludeID)
			return nil, nil
		},
		updatePlanFunc: func(ctx context.Context, p *domain.Plan) error {
			updated = p
			return nil
		},
	}
	notifier := &mockNotifier{}
	svc := NewService(repo, settingsReaderFor(freeSettings("u1")), notifier, fixedClock{now: testNow})

	draft := validDraft()
	draft.StartTime = tod(11, 0)
	draft.EndTime = todPtr(12, 0)
	p, err := svc.Update(context.Background(), "u1", "p1", draft, false)
	require.NoError(t, err)

	assert.False(t, p.Notified)
	assert.Nil(t, p.NotifyAt)
	assert.Equal(t, tod(11, 0), updated.StartTime)
	assert.Equal(t, []string{"p1"}, notifier.cancelled)
	assert.Equal(t, []string{"p1"}, notifier.scheduled)
}

func TestUpdatePlanForbidden(t *testing.T) {
	repo := &mockRepository{
		findPlanByIDFunc: func(ctx context.Context, id string) (*domain.Plan, error) {
			return &domain.Plan{ID: "p1", UserID: "owner"}, nil
		},
	}
	svc := NewService(repo, settingsReaderFor(freeSettings("intruder")), &mockNotifier{}, fixedClock{now: testNow})

	_, err := svc.Update(context.Background(), "intruder", "p1", validDraft(), false)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUpdatePlanConflictWithoutForce(t *testing.T) {
	repo := &mockRepository{
		findPlanByIDFunc: func(ctx context.Context, id string) (*domain.Plan, error) {
			return &domain.Plan{ID: "p1", UserID: "u1"}, nil
		},
		findOverlappingFunc: func(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error) {
			return []*domain.Plan{{ID: "p-other", UserID: "u1"}}, nil
		},
	}
	svc := NewService(repo, settingsReaderFor(freeSettings("u1")), &mockNotifier{}, fixedClock{now: testNow})

	_, err := svc.Update(context.Background(), "u1", "p1", validDraft(), false)

	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"p-other"}, conflict.PlanIDs)
}

func TestUpdatePlanForceDeletesColliders(t *testing.T) {
	var deleted []string
	repo := &mockRepository{
		findPlanByIDFunc: func(ctx context.Context, id string) (*domain.Plan, error) {
			return &domain.Plan{ID: "p1", UserID: "u1"}, nil
		},
		findOverlappingFunc: func(ctx context.Context, uid string, date domain.Date, start, end domain.TimeOfDay, excludeID string) ([]*domain.Plan, error) {
			return []*domain.Plan{{ID: "p-a", UserID: "u1"}, {ID: "p-b", UserID: "u1"}}, nil
		},
		deletePlanFunc: func(ctx context.Context, id string) error {
			deleted = append(deleted, id)
			return nil
		},
		updatePlanFunc: func(ctx context.Context, p *domain.Plan) error { return nil },
	}
	notifier := &mockNotifier{}
	svc := NewService(repo, settingsReaderFor(freeSettings("u1")), notifier, fixedClock{now: testNow})

	_, err := svc.Update(context.Background(), "u1", "p1", validDraft(), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"p-a", "p-b"}, deleted)
	// Displaced plans' jobs cancelled, then the updated plan's own
	assert.Equal(t, []string{"p-a", "p-b", "p1"}, notifier.cancelled)
	assert.Equal(t, []string{"p1"}, notifier.scheduled)
}

func TestDeletePlan(t *testing.T) {
	var deleted string
	repo := &mockRepository{
		findPlanByIDFunc: func(ctx context.Context, id string) (*domain.Plan, error) {
			return &domain.Plan{ID: "p1", UserID: "u1"}, nil
		},
		deletePlanFunc: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	notifier := &mockNotifier{}
	svc := NewService(repo, settingsReaderFor(freeSettings("u1")), notifier, fixedClock{now: testNow})

	require.NoError(t, svc.Delete(context.Background(), "u1", "p1"))
	assert.Equal(t, "p1", deleted)
	assert.Equal(t, []string{"p1"}, notifier.cancelled)

	err := svc.Delete(context.Background(), "u2", "p1")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
