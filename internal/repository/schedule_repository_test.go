package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

func TestScheduleRepositoryListByCourse(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedules WHERE course_id = $1 AND deleted_at IS NULL ORDER BY day_of_week, period")).
		WithArgs("math").
		WillReturnRows(sqlmock.NewRows(scheduleRowColumns).AddRow("sc1", "math", 2, 4, now, nil))

	rows, err := repo.ListByCourse(context.Background(), "math")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.Slot{DayOfWeek: 2, Period: 4}, rows[0].Slot())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryReplaceInTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET deleted_at = $2 WHERE course_id = $1 AND deleted_at IS NULL")).
		WithArgs("math", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO schedules").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO schedules").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	retired, err := repo.SoftDeleteByCourse(context.Background(), tx, "math")
	require.NoError(t, err)
	assert.Equal(t, int64(3), retired)

	rows := []models.Schedule{{CourseID: "math", DayOfWeek: 1, Period: 1}, {CourseID: "math", DayOfWeek: 4, Period: 2}}
	require.NoError(t, repo.BulkCreate(context.Background(), tx, rows))
	require.NoError(t, tx.Commit())

	for _, row := range rows {
		assert.NotEmpty(t, row.ID)
		assert.False(t, row.CreatedAt.IsZero())
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}
