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

var termRowColumns = []string{"id", "academic_year_id", "name", "type", "start_date", "end_date", "is_active", "created_at", "updated_at", "deleted_at"}

func TestTermRepositoryFindActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	start := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM terms WHERE is_active = TRUE AND deleted_at IS NULL ORDER BY start_date DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows(termRowColumns).
			AddRow("t2", "ay-2024", "Even 2024", "EVEN", start, start.AddDate(0, 5, 0), true, start, start, nil))

	term, err := repo.FindActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t2", term.ID)
	assert.True(t, term.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryActivate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext('terms:active'))")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_active = FALSE, updated_at = $2 WHERE is_active = TRUE AND id <> $1")).
		WithArgs("t2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_active = TRUE, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL")).
		WithArgs("t2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	deactivated, err := repo.Activate(context.Background(), tx, "t2")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, int64(2), deactivated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTermRepositoryActivateMissingTerm(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTermRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET is_active = FALSE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET is_active = TRUE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.Beginx()
	require.NoError(t, err)
	_, err = repo.Activate(context.Background(), tx, "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
