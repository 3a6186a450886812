package service

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/repository"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type scheduleWriterStub struct {
	retired []string
	created []models.Schedule
}

func (s *scheduleWriterStub) SoftDeleteByCourse(_ context.Context, _ sqlx.ExtContext, courseID string) (int64, error) {
	s.retired = append(s.retired, courseID)
	return 1, nil
}

func (s *scheduleWriterStub) BulkCreate(_ context.Context, _ sqlx.ExtContext, rows []models.Schedule) error {
	s.created = append(s.created, rows...)
	return nil
}

func scheduleFixture(t *testing.T, courses ...models.Course) (*CourseScheduleService, *rosterStoreStub, *scheduleWriterStub, sqlmock.Sqlmock, *lockRecorder) {
	t.Helper()
	db, mock := newMockDB(t)
	store := &rosterStoreStub{courseStoreStub: newCourseStore(courses...)}
	writer := &scheduleWriterStub{}
	users := &userStoreStub{users: map[string]models.User{"s1": {ID: "s1", FullName: "Ayu"}}}
	checker := NewScheduleConflictChecker(store, users, nil)
	svc := NewCourseScheduleService(db, store, writer, checker, nil, nil, nil, nil)
	locks := &lockRecorder{}
	svc.lock = locks.lock
	return svc, store, writer, mock, locks
}

func intPtr(v int) *int { return &v }

func TestCourseScheduleServiceReplace(t *testing.T) {
	svc, store, writer, mock, locks := scheduleFixture(t,
		models.Course{ID: "m", Name: "Math", TermID: "t1", StudentIDs: []string{"s1", "s2"}, Version: 3, Schedules: slotRows("m", models.Slot{DayOfWeek: 1, Period: 1})},
		models.Course{ID: "p", Name: "Physics", TermID: "t1", StudentIDs: []string{"s1"}, Schedules: slotRows("p", models.Slot{DayOfWeek: 2, Period: 2})},
	)
	mock.ExpectBegin()
	mock.ExpectCommit()

	course, err := svc.Replace(context.Background(), ReplaceScheduleRequest{
		CourseID:        "m",
		Slots:           []models.Slot{{DayOfWeek: 1, Period: 2}, {DayOfWeek: 3, Period: 1}},
		ExpectedVersion: intPtr(3),
	})

	require.NoError(t, err)
	assert.Equal(t, 4, course.Version)
	assert.Equal(t, []string{"m"}, writer.retired)
	require.Len(t, writer.created, 2)
	assert.Equal(t, "m", writer.created[0].CourseID)
	assert.Equal(t, []string{"m"}, store.bumped)
	assert.ElementsMatch(t, []string{repository.StudentTermKey("s1", "t1"), repository.StudentTermKey("s2", "t1")}, locks.keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseScheduleServiceReplaceConflict(t *testing.T) {
	svc, store, writer, mock, _ := scheduleFixture(t,
		models.Course{ID: "m", Name: "Math", TermID: "t1", StudentIDs: []string{"s1"}},
		models.Course{ID: "p", Name: "Physics", TermID: "t1", StudentIDs: []string{"s1"}, Schedules: slotRows("p", models.Slot{DayOfWeek: 2, Period: 2})},
	)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Replace(context.Background(), ReplaceScheduleRequest{
		CourseID:        "m",
		Slots:           []models.Slot{{DayOfWeek: 2, Period: 2}},
		ExpectedVersion: intPtr(0),
	})

	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErr.Code)
	conflicts, ok := appErr.Details.([]models.StudentScheduleConflict)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "Ayu", conflicts[0].StudentName)
	assert.Empty(t, writer.retired)
	assert.Empty(t, store.bumped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseScheduleServiceReplaceVersionMismatch(t *testing.T) {
	svc, _, writer, mock, _ := scheduleFixture(t, models.Course{ID: "m", TermID: "t1", Version: 5})
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Replace(context.Background(), ReplaceScheduleRequest{
		CourseID:        "m",
		Slots:           []models.Slot{{DayOfWeek: 1, Period: 1}},
		ExpectedVersion: intPtr(4),
	})

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Empty(t, writer.created)
}

func TestCourseScheduleServiceReplaceRequiresVersion(t *testing.T) {
	svc, _, _, _, _ := scheduleFixture(t, models.Course{ID: "m", TermID: "t1"})

	_, err := svc.Replace(context.Background(), ReplaceScheduleRequest{CourseID: "m", Slots: []models.Slot{{DayOfWeek: 1, Period: 1}}})

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestCourseScheduleServiceValidateSlots(t *testing.T) {
	svc, _, _, _, _ := scheduleFixture(t)

	cases := map[string][]models.Slot{
		"day out of range": {{DayOfWeek: 7, Period: 1}},
		"period zero":      {{DayOfWeek: 1, Period: 0}},
		"duplicate":        {{DayOfWeek: 1, Period: 1}, {DayOfWeek: 1, Period: 1}},
	}
	for name, slots := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Preview(context.Background(), "m", slots)
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
		})
	}
}

func TestCourseScheduleServicePreview(t *testing.T) {
	svc, _, _, _, _ := scheduleFixture(t,
		models.Course{ID: "m", Name: "Math", TermID: "t1", StudentIDs: []string{"s1"}},
		models.Course{ID: "p", Name: "Physics", TermID: "t1", StudentIDs: []string{"s1"}, Schedules: slotRows("p", models.Slot{DayOfWeek: 4, Period: 6})},
	)

	conflicts, err := svc.Preview(context.Background(), "m", []models.Slot{{DayOfWeek: 4, Period: 6}})

	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.Conflict{CourseName: "Physics", DayOfWeek: 4, Period: 6}, conflicts[0].Conflict)
}
