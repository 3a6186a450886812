package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

const assignmentColumns = `a.id, a.course_id, a.title, a.type, a.max_points, a.is_extra_credit, a.intelligence_types, a.due_date, a.created_at, a.deleted_at`

// AssignmentRepository reads course assignments.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// FindByID loads a live assignment.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignments a WHERE a.id = $1 AND %s`, assignmentColumns, liveClause("a"))
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// ListByCourse returns the live assignments of a course.
func (r *AssignmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Assignment, error) {
	return r.ListByCourses(ctx, []string{courseID})
}

// ListByCourses returns the live assignments of several courses.
func (r *AssignmentRepository) ListByCourses(ctx context.Context, courseIDs []string) ([]models.Assignment, error) {
	if len(courseIDs) == 0 {
		return []models.Assignment{}, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM assignments a WHERE a.course_id = ANY($1) AND %s ORDER BY a.course_id, a.due_date NULLS LAST, a.created_at`, assignmentColumns, liveClause("a"))
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, pq.Array(courseIDs)); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

// ListUpcomingForStudent returns assignments due in [from, to) that the
// student has not handed in yet.
func (r *AssignmentRepository) ListUpcomingForStudent(ctx context.Context, studentID, termID string, from, to time.Time) ([]models.UpcomingAssignment, error) {
	query := fmt.Sprintf(`SELECT a.id AS assignment_id, a.title, a.type, c.id AS course_id, c.name AS course_name, a.due_date
FROM assignments a
JOIN courses c ON c.id = a.course_id
WHERE c.term_id = $1 AND $2 = ANY(c.student_ids) AND a.due_date >= $3 AND a.due_date < $4
  AND %s AND %s
  AND NOT EXISTS (
    SELECT 1 FROM submissions s
    WHERE s.assignment_id = a.id AND s.student_id = $2 AND %s
  )
ORDER BY a.due_date, a.title`, liveClause("a"), liveClause("c"), liveClause("s"))
	var upcoming []models.UpcomingAssignment
	if err := r.db.SelectContext(ctx, &upcoming, query, termID, studentID, from, to); err != nil {
		return nil, fmt.Errorf("list upcoming assignments: %w", err)
	}
	return upcoming, nil
}

// CountPendingGrading counts handed-in, unscored submissions in the
// teacher's courses for the term.
func (r *AssignmentRepository) CountPendingGrading(ctx context.Context, teacherID, termID string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*)
FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
JOIN courses c ON c.id = a.course_id
WHERE c.teacher_id = $1 AND c.term_id = $2 AND s.grade IS NULL AND s.submitted_at IS NOT NULL
  AND %s AND %s AND %s`, liveClause("s"), liveClause("a"), liveClause("c"))
	var total int
	if err := r.db.GetContext(ctx, &total, query, teacherID, termID); err != nil {
		return 0, fmt.Errorf("count pending grading: %w", err)
	}
	return total, nil
}
