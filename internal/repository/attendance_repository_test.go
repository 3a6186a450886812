package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

func TestAttendanceRepositoryTallyByStudentCourses(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY att.course_id, att.student_id")).
		WithArgs(sqlmock.AnyArg(), "t1", models.AttendancePresent).
		WillReturnRows(sqlmock.NewRows([]string{"course_id", "student_id", "present", "total"}).
			AddRow("math", "s1", 3, 4).
			AddRow("math", "s2", 4, 4))

	tallies, err := repo.TallyByStudentCourses(context.Background(), []string{"s1", "s2"}, "t1")
	require.NoError(t, err)
	require.Len(t, tallies, 2)
	assert.Equal(t, 3, tallies[0].Present)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryTallyForDateScopesTeacher(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	day := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("att.date = $2::date AND c.teacher_id = $4")).
		WithArgs("t1", "2024-03-04", models.AttendancePresent, "tch").
		WillReturnRows(sqlmock.NewRows([]string{"course_id", "student_id", "present", "total"}).AddRow("math", "", 20, 24))

	tallies, err := repo.TallyForDate(context.Background(), "t1", "tch", day)
	require.NoError(t, err)
	require.Len(t, tallies, 1)
	assert.Equal(t, 24, tallies[0].Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryRecordRetiresPreviousRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE attendance SET deleted_at = $4 WHERE course_id = $1 AND student_id = $2 AND date = $3::date")).
		WithArgs("math", "s1", "2024-03-04", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO attendance").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entries := []models.Attendance{{StudentID: "s1", Status: models.AttendanceLate}}
	require.NoError(t, repo.Record(context.Background(), "math", day, entries))
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, "math", entries[0].CourseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryRecordRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE attendance SET deleted_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO attendance").WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := repo.Record(context.Background(), "math", time.Now(), []models.Attendance{{StudentID: "s1", Status: models.AttendancePresent}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
