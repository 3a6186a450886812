package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

// ScheduleRepository persists the weekly slots of courses.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository instantiates the repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// ListByCourse returns the live slots of a course ordered by day and period.
func (r *ScheduleRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Schedule, error) {
	query := fmt.Sprintf(`SELECT id, course_id, day_of_week, period, created_at, deleted_at FROM schedules WHERE course_id = $1 AND %s ORDER BY day_of_week, period`, liveClause(""))
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, courseID); err != nil {
		return nil, fmt.Errorf("list course schedules: %w", err)
	}
	return schedules, nil
}

// SoftDeleteByCourse retires every live slot of the course.
func (r *ScheduleRepository) SoftDeleteByCourse(ctx context.Context, exec sqlx.ExtContext, courseID string) (int64, error) {
	query := fmt.Sprintf(`UPDATE schedules SET deleted_at = $2 WHERE course_id = $1 AND %s`, liveClause(""))
	res, err := pick(r.db, exec).ExecContext(ctx, query, courseID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("retire course schedules: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retire course schedules rows: %w", err)
	}
	return affected, nil
}

// BulkCreate inserts slots, assigning identifiers and timestamps.
func (r *ScheduleRepository) BulkCreate(ctx context.Context, exec sqlx.ExtContext, schedules []models.Schedule) error {
	target := pick(r.db, exec)
	now := time.Now().UTC()
	const query = `INSERT INTO schedules (id, course_id, day_of_week, period, created_at) VALUES (:id, :course_id, :day_of_week, :period, :created_at)`
	for i := range schedules {
		row := &schedules[i]
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, row); err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
	}
	return nil
}
