package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionRepositoryListGraded(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.grade IS NOT NULL AND s.deleted_at IS NULL AND a.deleted_at IS NULL AND c.deleted_at IS NULL AND s.student_id = $1 AND c.term_id = $2")).
		WithArgs("s1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"submission_id", "course_id", "grade", "assignment_types", "subject_types", "submitted_at", "assignment_title", "course_name"}).
			AddRow("sub1", "math", 88.5, "{LOGICAL_MATHEMATICAL}", "{}", now, "Quiz 1", "Math"))

	graded, err := repo.ListGraded(context.Background(), "s1", "t1")
	require.NoError(t, err)
	require.Len(t, graded, 1)
	assert.Equal(t, 88.5, graded[0].Grade)
	assert.Equal(t, []string{"LOGICAL_MATHEMATICAL"}, []string(graded[0].AssignmentTypes))
	assert.Empty(t, graded[0].SubjectTypes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryListByStudentForCoursesShortCircuits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	subs, err := repo.ListByStudentForCourses(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionRepositoryUpdateGrade(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET grade = $2, graded_at = $3 WHERE id = $1 AND deleted_at IS NULL")).
		WithArgs("sub1", 91.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateGrade(context.Background(), "sub1", 91))

	mock.ExpectExec("UPDATE submissions SET grade").
		WithArgs("gone", 50.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateGrade(context.Background(), "gone", 50)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
