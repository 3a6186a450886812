package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

const submissionColumns = `s.id, s.assignment_id, s.student_id, s.grade, s.submitted_at, s.graded_at, s.created_at, s.deleted_at`

const gradedSubmissionSelect = `SELECT s.id AS submission_id, c.id AS course_id, s.grade, a.intelligence_types AS assignment_types,
  COALESCE(sub.intelligence_types, '{}') AS subject_types, s.submitted_at, a.title AS assignment_title, c.name AS course_name
FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
JOIN courses c ON c.id = a.course_id
LEFT JOIN subjects sub ON sub.id = c.subject_id AND sub.deleted_at IS NULL`

// SubmissionRepository persists student submissions.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// FindByID loads a live submission.
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	query := fmt.Sprintf(`SELECT %s FROM submissions s WHERE s.id = $1 AND %s`, submissionColumns, liveClause("s"))
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, id); err != nil {
		return nil, err
	}
	return &submission, nil
}

// ListByCourse returns live submissions for the live assignments of the
// course, oldest first. An empty studentID returns the whole class.
func (r *SubmissionRepository) ListByCourse(ctx context.Context, courseID, studentID string) ([]models.Submission, error) {
	conditions := []string{"a.course_id = $1", liveClause("s"), liveClause("a")}
	args := []interface{}{courseID}
	if studentID != "" {
		args = append(args, studentID)
		conditions = append(conditions, fmt.Sprintf("s.student_id = $%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM submissions s JOIN assignments a ON a.id = s.assignment_id WHERE %s ORDER BY s.created_at, s.id`, submissionColumns, strings.Join(conditions, " AND "))
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, args...); err != nil {
		return nil, fmt.Errorf("list course submissions: %w", err)
	}
	return submissions, nil
}

// ListByStudentForCourses returns a student's live submissions across courses.
func (r *SubmissionRepository) ListByStudentForCourses(ctx context.Context, studentID string, courseIDs []string) ([]models.Submission, error) {
	if len(courseIDs) == 0 {
		return []models.Submission{}, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM submissions s JOIN assignments a ON a.id = s.assignment_id
WHERE s.student_id = $1 AND a.course_id = ANY($2) AND %s AND %s ORDER BY s.created_at, s.id`, submissionColumns, liveClause("s"), liveClause("a"))
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, studentID, pq.Array(courseIDs)); err != nil {
		return nil, fmt.Errorf("list student submissions: %w", err)
	}
	return submissions, nil
}

// ListByCourses returns every live submission in the given courses, oldest
// first.
func (r *SubmissionRepository) ListByCourses(ctx context.Context, courseIDs []string) ([]models.Submission, error) {
	if len(courseIDs) == 0 {
		return []models.Submission{}, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM submissions s JOIN assignments a ON a.id = s.assignment_id
WHERE a.course_id = ANY($1) AND %s AND %s ORDER BY s.created_at, s.id`, submissionColumns, liveClause("s"), liveClause("a"))
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, pq.Array(courseIDs)); err != nil {
		return nil, fmt.Errorf("list class submissions: %w", err)
	}
	return submissions, nil
}

// ListGraded returns scored submissions whose assignment and course are live.
// Either filter may be empty.
func (r *SubmissionRepository) ListGraded(ctx context.Context, studentID, termID string) ([]models.GradedSubmission, error) {
	conditions := []string{"s.grade IS NOT NULL", liveClause("s"), liveClause("a"), liveClause("c")}
	var args []interface{}
	if studentID != "" {
		args = append(args, studentID)
		conditions = append(conditions, fmt.Sprintf("s.student_id = $%d", len(args)))
	}
	if termID != "" {
		args = append(args, termID)
		conditions = append(conditions, fmt.Sprintf("c.term_id = $%d", len(args)))
	}
	query := fmt.Sprintf(`%s WHERE %s ORDER BY s.created_at, s.id`, gradedSubmissionSelect, strings.Join(conditions, " AND "))
	var graded []models.GradedSubmission
	if err := r.db.SelectContext(ctx, &graded, query, args...); err != nil {
		return nil, fmt.Errorf("list graded submissions: %w", err)
	}
	return graded, nil
}

// ListRecentGraded returns a student's latest scored submissions.
func (r *SubmissionRepository) ListRecentGraded(ctx context.Context, studentID string, limit int) ([]models.GradedSubmission, error) {
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf(`%s WHERE s.student_id = $1 AND s.grade IS NOT NULL AND %s AND %s AND %s ORDER BY s.graded_at DESC NULLS LAST, s.created_at DESC LIMIT %d`,
		gradedSubmissionSelect, liveClause("s"), liveClause("a"), liveClause("c"), limit)
	var graded []models.GradedSubmission
	if err := r.db.SelectContext(ctx, &graded, query, studentID); err != nil {
		return nil, fmt.Errorf("list recent grades: %w", err)
	}
	return graded, nil
}

// CountSubmittedSince counts hand-ins in the term after since.
func (r *SubmissionRepository) CountSubmittedSince(ctx context.Context, termID string, since time.Time) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM submissions s
JOIN assignments a ON a.id = s.assignment_id
JOIN courses c ON c.id = a.course_id
WHERE c.term_id = $1 AND s.submitted_at >= $2 AND %s AND %s AND %s`, liveClause("s"), liveClause("a"), liveClause("c"))
	var total int
	if err := r.db.GetContext(ctx, &total, query, termID, since); err != nil {
		return 0, fmt.Errorf("count recent submissions: %w", err)
	}
	return total, nil
}

// UpdateGrade records a score on a live submission.
func (r *SubmissionRepository) UpdateGrade(ctx context.Context, id string, grade float64) error {
	query := fmt.Sprintf(`UPDATE submissions SET grade = $2, graded_at = $3 WHERE id = $1 AND %s`, liveClause(""))
	res, err := r.db.ExecContext(ctx, query, id, grade, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update submission grade: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission grade rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
