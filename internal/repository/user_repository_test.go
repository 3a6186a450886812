package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

var userRowColumns = []string{"id", "email", "full_name", "role", "class_id", "created_at", "updated_at", "deleted_at"}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestUserRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("u1", "ayu@example.com", "Ayu", string(models.RoleStudent), "x-1", now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, full_name, role, class_id, created_at, updated_at, deleted_at FROM users WHERE id = $1 AND deleted_at IS NULL")).
		WithArgs("u1").
		WillReturnRows(rows)

	user, err := repo.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, user.Role)
	require.NotNil(t, user.ClassID)
	assert.Equal(t, "x-1", *user.ClassID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindByIDsSkipsEmpty(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	users, err := repo.FindByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = ANY($1) AND deleted_at IS NULL")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("u1", "a@example.com", "A", "STUDENT", nil, now, now, nil).
			AddRow("u2", "b@example.com", "B", "STUDENT", nil, now, now, nil))

	users, err = repo.FindByIDs(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	role := models.RoleTeacher
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, full_name, role, class_id, created_at, updated_at, deleted_at FROM users WHERE deleted_at IS NULL AND role = $1 AND (LOWER(full_name) LIKE $2 OR LOWER(email) LIKE $2) ORDER BY full_name, id LIMIT 100 OFFSET 0")).
		WithArgs(role, "%guru%").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow("t1", "guru@example.com", "Guru", "TEACHER", nil, now, now, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE deleted_at IS NULL AND role = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	users, total, err := repo.List(context.Background(), models.UserFilter{Role: &role, Search: "Guru"})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCountByRole(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE role = $1 AND deleted_at IS NULL")).
		WithArgs(models.RoleStudent).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(412))

	total, err := repo.CountByRole(context.Background(), models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, 412, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
