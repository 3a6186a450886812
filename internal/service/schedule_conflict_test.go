package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lms-api/internal/models"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type courseStoreStub struct {
	courses map[string]*models.Course
	err     error
}

func newCourseStore(courses ...models.Course) *courseStoreStub {
	store := &courseStoreStub{courses: map[string]*models.Course{}}
	for i := range courses {
		c := courses[i]
		store.courses[c.ID] = &c
	}
	return store
}

func (s *courseStoreStub) FindByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.Course, error) {
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *c
	return &clone, nil
}

func (s *courseStoreStub) ListByStudentInTerm(_ context.Context, _ sqlx.ExtContext, studentID, termID string) ([]models.Course, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Course
	for _, id := range s.sortedIDs() {
		c := s.courses[id]
		if c.TermID == termID && c.HasStudent(studentID) && models.IsLive(c) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *courseStoreStub) ListByStudentsInTerm(ctx context.Context, exec sqlx.ExtContext, studentIDs []string, termID string) (map[string][]models.Course, error) {
	out := make(map[string][]models.Course, len(studentIDs))
	for _, studentID := range studentIDs {
		courses, err := s.ListByStudentInTerm(ctx, exec, studentID, termID)
		if err != nil {
			return nil, err
		}
		out[studentID] = courses
	}
	return out, nil
}

func (s *courseStoreStub) sortedIDs() []string {
	ids := make([]string, 0, len(s.courses))
	for id := range s.courses {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

type userStoreStub struct {
	users map[string]models.User
}

func (s *userStoreStub) FindByIDs(_ context.Context, ids []string) ([]models.User, error) {
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func slotRows(courseID string, slots ...models.Slot) []models.Schedule {
	rows := make([]models.Schedule, 0, len(slots))
	for _, slot := range slots {
		rows = append(rows, models.Schedule{CourseID: courseID, DayOfWeek: slot.DayOfWeek, Period: slot.Period})
	}
	return rows
}

func TestCheckStudentScheduleConflictScenario(t *testing.T) {
	store := newCourseStore(
		models.Course{ID: "a", Name: "A", TermID: "t1", StudentIDs: []string{"x"}, Schedules: slotRows("a", models.Slot{DayOfWeek: 1, Period: 3})},
		models.Course{ID: "b", Name: "B", TermID: "t1", Schedules: slotRows("b", models.Slot{DayOfWeek: 1, Period: 3})},
	)
	checker := NewScheduleConflictChecker(store, nil, nil)

	conflict, err := checker.CheckStudentScheduleConflict(context.Background(), "x", "b")

	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, models.Conflict{CourseName: "A", DayOfWeek: 1, Period: 3}, *conflict)
}

func TestCheckStudentScheduleConflictNoSchedule(t *testing.T) {
	store := newCourseStore(
		models.Course{ID: "a", Name: "A", TermID: "t1", StudentIDs: []string{"x"}, Schedules: slotRows("a", models.Slot{DayOfWeek: 1, Period: 3})},
		models.Course{ID: "b", Name: "B", TermID: "t1"},
	)
	checker := NewScheduleConflictChecker(store, nil, nil)

	conflict, err := checker.CheckStudentScheduleConflict(context.Background(), "x", "b")

	require.NoError(t, err)
	assert.Nil(t, conflict)
}

func TestCheckStudentScheduleConflictIgnoresOtherTermsAndDeleted(t *testing.T) {
	deleted := time.Now()
	oldRows := slotRows("c", models.Slot{DayOfWeek: 2, Period: 1})
	oldRows[0].DeletedAt = &deleted
	store := newCourseStore(
		models.Course{ID: "a", Name: "A", TermID: "t0", StudentIDs: []string{"x"}, Schedules: slotRows("a", models.Slot{DayOfWeek: 1, Period: 3})},
		models.Course{ID: "c", Name: "C", TermID: "t1", StudentIDs: []string{"x"}, Schedules: oldRows},
		models.Course{ID: "d", Name: "D", TermID: "t1", StudentIDs: []string{"x"}, DeletedAt: &deleted, Schedules: slotRows("d", models.Slot{DayOfWeek: 1, Period: 3})},
		models.Course{ID: "b", Name: "B", TermID: "t1", Schedules: slotRows("b", models.Slot{DayOfWeek: 1, Period: 3}, models.Slot{DayOfWeek: 2, Period: 1})},
	)
	checker := NewScheduleConflictChecker(store, nil, nil)

	conflict, err := checker.CheckStudentScheduleConflict(context.Background(), "x", "b")

	require.NoError(t, err)
	assert.Nil(t, conflict)
}

func TestCheckStudentScheduleConflictMissingCourse(t *testing.T) {
	checker := NewScheduleConflictChecker(newCourseStore(), nil, nil)

	conflict, err := checker.CheckStudentScheduleConflict(context.Background(), "x", "missing")

	require.NoError(t, err)
	assert.Nil(t, conflict)
}

func TestCheckStudentScheduleConflictStoreFailure(t *testing.T) {
	store := newCourseStore()
	store.err = errors.New("boom")
	checker := NewScheduleConflictChecker(store, nil, nil)

	_, err := checker.CheckStudentScheduleConflict(context.Background(), "x", "b")

	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
}

func TestFindStudentConflictFirstMatchWins(t *testing.T) {
	target := &models.Course{ID: "t", TermID: "t1", Schedules: slotRows("t", models.Slot{DayOfWeek: 0, Period: 1}, models.Slot{DayOfWeek: 3, Period: 2})}
	others := []models.Course{
		{ID: "o1", Name: "First", TermID: "t1", Schedules: slotRows("o1", models.Slot{DayOfWeek: 3, Period: 2})},
		{ID: "o2", Name: "Second", TermID: "t1", Schedules: slotRows("o2", models.Slot{DayOfWeek: 0, Period: 1})},
	}

	conflict := FindStudentConflict(target, others)

	require.NotNil(t, conflict)
	assert.Equal(t, "Second", conflict.CourseName)
	assert.Equal(t, 0, conflict.DayOfWeek)
}

func TestCheckCourseScheduleUpdateConflictReportsStudentOnce(t *testing.T) {
	store := newCourseStore(
		models.Course{ID: "m", Name: "Math", TermID: "t1", StudentIDs: []string{"s1", "s2", "s3"}},
		models.Course{ID: "p", Name: "Physics", TermID: "t1", StudentIDs: []string{"s1", "s2"}, Schedules: slotRows("p", models.Slot{DayOfWeek: 1, Period: 1}, models.Slot{DayOfWeek: 2, Period: 2})},
		models.Course{ID: "q", Name: "Chemistry", TermID: "t1", StudentIDs: []string{"s1"}, Schedules: slotRows("q", models.Slot{DayOfWeek: 3, Period: 3})},
	)
	users := &userStoreStub{users: map[string]models.User{
		"s1": {ID: "s1", FullName: "Ayu"},
		"s2": {ID: "s2", FullName: "Budi"},
	}}
	checker := NewScheduleConflictChecker(store, users, nil)
	proposed := []models.Slot{{DayOfWeek: 1, Period: 1}, {DayOfWeek: 2, Period: 2}, {DayOfWeek: 3, Period: 3}}

	conflicts, err := checker.CheckCourseScheduleUpdateConflict(context.Background(), "m", proposed)

	require.NoError(t, err)
	require.Len(t, conflicts, 2)
	assert.Equal(t, "s1", conflicts[0].StudentID)
	assert.Equal(t, "Ayu", conflicts[0].StudentName)
	assert.Equal(t, models.Conflict{CourseName: "Physics", DayOfWeek: 1, Period: 1}, conflicts[0].Conflict)
	assert.Equal(t, "Budi", conflicts[1].StudentName)
}

func TestCheckCourseScheduleUpdateConflictEmptyRoster(t *testing.T) {
	store := newCourseStore(models.Course{ID: "m", Name: "Math", TermID: "t1"})
	checker := NewScheduleConflictChecker(store, nil, nil)

	conflicts, err := checker.CheckCourseScheduleUpdateConflict(context.Background(), "m", []models.Slot{{DayOfWeek: 1, Period: 1}})

	require.NoError(t, err)
	assert.NotNil(t, conflicts)
	assert.Empty(t, conflicts)
}

func TestCheckCourseScheduleUpdateConflictIgnoresCurrentSchedule(t *testing.T) {
	store := newCourseStore(
		models.Course{ID: "m", Name: "Math", TermID: "t1", StudentIDs: []string{"s1"}, Schedules: slotRows("m", models.Slot{DayOfWeek: 1, Period: 1})},
	)
	checker := NewScheduleConflictChecker(store, nil, nil)

	conflicts, err := checker.CheckCourseScheduleUpdateConflict(context.Background(), "m", []models.Slot{{DayOfWeek: 1, Period: 1}})

	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestFindRosterConflictsFallsBackToStudentID(t *testing.T) {
	course := &models.Course{ID: "m", TermID: "t1"}
	roster := []RosterEntry{{
		StudentID: "s9",
		Courses:   []models.Course{{ID: "x", Name: "Art", TermID: "t1", Schedules: slotRows("x", models.Slot{DayOfWeek: 5, Period: 4})}},
	}}

	conflicts := FindRosterConflicts(course, []models.Slot{{DayOfWeek: 5, Period: 4}}, roster)

	require.Len(t, conflicts, 1)
	assert.Equal(t, "s9", conflicts[0].StudentName)
}
