package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

// ClassRepository provides access to homeroom classes.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// FindByID loads a live class.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	query := fmt.Sprintf(`SELECT id, name, grade, homeroom_teacher_id, created_at, updated_at, deleted_at FROM classes WHERE id = $1 AND %s`, liveClause(""))
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// FindByHomeroomTeacher returns the class supervised by the teacher.
func (r *ClassRepository) FindByHomeroomTeacher(ctx context.Context, teacherID string) (*models.Class, error) {
	query := fmt.Sprintf(`SELECT id, name, grade, homeroom_teacher_id, created_at, updated_at, deleted_at FROM classes WHERE homeroom_teacher_id = $1 AND %s ORDER BY created_at DESC LIMIT 1`, liveClause(""))
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, teacherID); err != nil {
		return nil, err
	}
	return &class, nil
}
