package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/repository"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

// rosterStoreStub adds the locked reads and versioned writes on top of the
// in-memory course store.
type rosterStoreStub struct {
	*courseStoreStub
	stale   bool
	bumped  []string
	updated int
}

func (s *rosterStoreStub) FindByIDForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (*models.Course, error) {
	return s.FindByID(ctx, tx, id)
}

func (s *rosterStoreStub) AddStudent(_ context.Context, _ sqlx.ExtContext, courseID, studentID string, expectedVersion int) error {
	c, err := s.versioned(courseID, expectedVersion)
	if err != nil {
		return err
	}
	c.StudentIDs = append(c.StudentIDs, studentID)
	return nil
}

func (s *rosterStoreStub) RemoveStudent(_ context.Context, _ sqlx.ExtContext, courseID, studentID string, expectedVersion int) error {
	c, err := s.versioned(courseID, expectedVersion)
	if err != nil {
		return err
	}
	kept := c.StudentIDs[:0]
	for _, id := range c.StudentIDs {
		if id != studentID {
			kept = append(kept, id)
		}
	}
	c.StudentIDs = kept
	return nil
}

func (s *rosterStoreStub) BumpVersion(_ context.Context, _ sqlx.ExtContext, courseID string, expected int) error {
	if _, err := s.versioned(courseID, expected); err != nil {
		return err
	}
	s.bumped = append(s.bumped, courseID)
	return nil
}

func (s *rosterStoreStub) versioned(courseID string, expected int) (*models.Course, error) {
	c, ok := s.courses[courseID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if s.stale || c.Version != expected {
		return nil, repository.ErrStaleVersion
	}
	c.Version++
	s.updated++
	return c, nil
}

type singleUserStub struct {
	*userStoreStub
}

func (s singleUserStub) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

type lockRecorder struct {
	keys []string
}

func (l *lockRecorder) lock(_ context.Context, tx sqlx.ExtContext, keys []string) error {
	if tx == nil {
		return sql.ErrTxDone
	}
	l.keys = append(l.keys, keys...)
	return nil
}

func enrollmentFixture(t *testing.T, courses ...models.Course) (*EnrollmentService, *rosterStoreStub, sqlmock.Sqlmock, *lockRecorder) {
	t.Helper()
	db, mock := newMockDB(t)
	store := &rosterStoreStub{courseStoreStub: newCourseStore(courses...)}
	users := singleUserStub{&userStoreStub{users: map[string]models.User{
		"x":  {ID: "x", FullName: "Xena", Role: models.RoleStudent},
		"tt": {ID: "tt", FullName: "Teacher", Role: models.RoleTeacher},
	}}}
	checker := NewScheduleConflictChecker(store, users, nil)
	svc := NewEnrollmentService(db, store, users, checker, nil, nil, nil, nil)
	locks := &lockRecorder{}
	svc.lock = locks.lock
	return svc, store, mock, locks
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	svc, store, mock, locks := enrollmentFixture(t,
		models.Course{ID: "a", Name: "A", TermID: "t1", StudentIDs: []string{"x"}, Schedules: slotRows("a", models.Slot{DayOfWeek: 1, Period: 3})},
		models.Course{ID: "b", Name: "B", TermID: "t1", Version: 4, Schedules: slotRows("b", models.Slot{DayOfWeek: 2, Period: 3})},
	)
	mock.ExpectBegin()
	mock.ExpectCommit()

	course, err := svc.Enroll(context.Background(), EnrollRequest{CourseID: "b", StudentID: "x"})

	require.NoError(t, err)
	assert.Equal(t, 5, course.Version)
	assert.True(t, course.HasStudent("x"))
	assert.Equal(t, []string{repository.StudentTermKey("x", "t1")}, locks.keys)
	assert.True(t, store.courses["b"].HasStudent("x"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceEnrollConflict(t *testing.T) {
	svc, store, mock, _ := enrollmentFixture(t,
		models.Course{ID: "a", Name: "A", TermID: "t1", StudentIDs: []string{"x"}, Schedules: slotRows("a", models.Slot{DayOfWeek: 1, Period: 3})},
		models.Course{ID: "b", Name: "B", TermID: "t1", Schedules: slotRows("b", models.Slot{DayOfWeek: 1, Period: 3})},
	)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Enroll(context.Background(), EnrollRequest{CourseID: "b", StudentID: "x"})

	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErr.Code)
	assert.Equal(t, &models.Conflict{CourseName: "A", DayOfWeek: 1, Period: 3}, appErr.Details)
	assert.Zero(t, store.updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceEnrollAlreadyEnrolled(t *testing.T) {
	svc, _, mock, _ := enrollmentFixture(t, models.Course{ID: "b", Name: "B", TermID: "t1", StudentIDs: []string{"x"}})
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Enroll(context.Background(), EnrollRequest{CourseID: "b", StudentID: "x"})

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestEnrollmentServiceEnrollRejectsNonStudent(t *testing.T) {
	svc, _, _, _ := enrollmentFixture(t, models.Course{ID: "b", TermID: "t1"})

	_, err := svc.Enroll(context.Background(), EnrollRequest{CourseID: "b", StudentID: "tt"})

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestEnrollmentServiceEnrollStaleVersion(t *testing.T) {
	svc, store, mock, _ := enrollmentFixture(t, models.Course{ID: "b", Name: "B", TermID: "t1"})
	store.stale = true
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Enroll(context.Background(), EnrollRequest{CourseID: "b", StudentID: "x"})

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceEnrollMissingCourse(t *testing.T) {
	svc, _, mock, _ := enrollmentFixture(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Enroll(context.Background(), EnrollRequest{CourseID: "nope", StudentID: "x"})

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestEnrollmentServiceUnenroll(t *testing.T) {
	svc, store, mock, _ := enrollmentFixture(t, models.Course{ID: "b", Name: "B", TermID: "t1", StudentIDs: []string{"x", "y"}, Version: 2})
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := svc.Unenroll(context.Background(), "b", "x")

	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, []string(store.courses["b"].StudentIDs))
	assert.Equal(t, 3, store.courses["b"].Version)
}

func TestEnrollmentServiceUnenrollNotEnrolled(t *testing.T) {
	svc, _, mock, _ := enrollmentFixture(t, models.Course{ID: "b", TermID: "t1"})
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := svc.Unenroll(context.Background(), "b", "x")

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
