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

const courseColumns = `c.id, c.name, c.term_id, c.teacher_id, c.class_id, c.subject_id, c.student_ids, c.attendance_pool_score, c.version, c.created_at, c.updated_at, c.deleted_at`

// CourseRepository persists courses and loads their live timetables.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID loads a live course with its live schedule rows.
func (r *CourseRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Course, error) {
	target := pick(r.db, exec)
	query := fmt.Sprintf(`SELECT %s FROM courses c WHERE c.id = $1 AND %s`, courseColumns, liveClause("c"))
	var course models.Course
	if err := sqlx.GetContext(ctx, target, &course, query, id); err != nil {
		return nil, err
	}
	courses := []models.Course{course}
	if err := r.attachSchedules(ctx, target, courses); err != nil {
		return nil, err
	}
	return &courses[0], nil
}

// FindByIDForUpdate loads the course row locked for the surrounding transaction.
func (r *CourseRepository) FindByIDForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses c WHERE c.id = $1 AND %s FOR UPDATE`, courseColumns, liveClause("c"))
	var course models.Course
	if err := sqlx.GetContext(ctx, tx, &course, query, id); err != nil {
		return nil, err
	}
	courses := []models.Course{course}
	if err := r.attachSchedules(ctx, tx, courses); err != nil {
		return nil, err
	}
	return &courses[0], nil
}

// ListByStudentInTerm returns the live courses a student is enrolled in.
func (r *CourseRepository) ListByStudentInTerm(ctx context.Context, exec sqlx.ExtContext, studentID, termID string) ([]models.Course, error) {
	target := pick(r.db, exec)
	query := fmt.Sprintf(`SELECT %s FROM courses c WHERE c.term_id = $1 AND $2 = ANY(c.student_ids) AND %s ORDER BY c.created_at, c.id`, courseColumns, liveClause("c"))
	var courses []models.Course
	if err := sqlx.SelectContext(ctx, target, &courses, query, termID, studentID); err != nil {
		return nil, fmt.Errorf("list student courses: %w", err)
	}
	if err := r.attachSchedules(ctx, target, courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// ListByStudentsInTerm groups the live courses of several students.
func (r *CourseRepository) ListByStudentsInTerm(ctx context.Context, exec sqlx.ExtContext, studentIDs []string, termID string) (map[string][]models.Course, error) {
	result := make(map[string][]models.Course, len(studentIDs))
	if len(studentIDs) == 0 {
		return result, nil
	}
	target := pick(r.db, exec)
	query := fmt.Sprintf(`SELECT %s FROM courses c WHERE c.term_id = $1 AND c.student_ids && $2 AND %s ORDER BY c.created_at, c.id`, courseColumns, liveClause("c"))
	var courses []models.Course
	if err := sqlx.SelectContext(ctx, target, &courses, query, termID, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("list roster courses: %w", err)
	}
	if err := r.attachSchedules(ctx, target, courses); err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(studentIDs))
	for _, id := range studentIDs {
		wanted[id] = struct{}{}
	}
	for _, course := range courses {
		for _, studentID := range course.StudentIDs {
			if _, ok := wanted[studentID]; ok {
				result[studentID] = append(result[studentID], course)
			}
		}
	}
	return result, nil
}

// CourseFilter narrows course listings.
type CourseFilter struct {
	TermID    string
	TeacherID string
	ClassID   string
	StudentID string
}

// List returns live courses matching the filter with schedules attached.
func (r *CourseRepository) List(ctx context.Context, filter CourseFilter) ([]models.Course, error) {
	conditions := []string{liveClause("c")}
	var args []interface{}
	if filter.TermID != "" {
		args = append(args, filter.TermID)
		conditions = append(conditions, fmt.Sprintf("c.term_id = $%d", len(args)))
	}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("c.teacher_id = $%d", len(args)))
	}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		conditions = append(conditions, fmt.Sprintf("c.class_id = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(c.student_ids)", len(args)))
	}
	query := fmt.Sprintf(`SELECT %s FROM courses c WHERE %s ORDER BY c.name, c.id`, courseColumns, strings.Join(conditions, " AND "))

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	if err := r.attachSchedules(ctx, r.db, courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// CountByTerm counts live courses in a term.
func (r *CourseRepository) CountByTerm(ctx context.Context, termID string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM courses WHERE term_id = $1 AND %s`, liveClause(""))
	var total int
	if err := r.db.GetContext(ctx, &total, query, termID); err != nil {
		return 0, fmt.Errorf("count courses: %w", err)
	}
	return total, nil
}

// AddStudent appends the student to the roster if the course is still at
// expectedVersion.
func (r *CourseRepository) AddStudent(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string, expectedVersion int) error {
	query := fmt.Sprintf(`UPDATE courses SET student_ids = array_append(student_ids, $2), version = version + 1, updated_at = $4
WHERE id = $1 AND version = $3 AND NOT ($2 = ANY(student_ids)) AND %s`, liveClause(""))
	return r.versionedExec(ctx, pick(r.db, exec), "add course student", query, courseID, studentID, expectedVersion, time.Now().UTC())
}

// RemoveStudent drops the student from the roster.
func (r *CourseRepository) RemoveStudent(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string, expectedVersion int) error {
	query := fmt.Sprintf(`UPDATE courses SET student_ids = array_remove(student_ids, $2), version = version + 1, updated_at = $4
WHERE id = $1 AND version = $3 AND %s`, liveClause(""))
	return r.versionedExec(ctx, pick(r.db, exec), "remove course student", query, courseID, studentID, expectedVersion, time.Now().UTC())
}

// BumpVersion advances the course version after a timetable change.
func (r *CourseRepository) BumpVersion(ctx context.Context, exec sqlx.ExtContext, courseID string, expectedVersion int) error {
	query := fmt.Sprintf(`UPDATE courses SET version = version + 1, updated_at = $3 WHERE id = $1 AND version = $2 AND %s`, liveClause(""))
	return r.versionedExec(ctx, pick(r.db, exec), "bump course version", query, courseID, expectedVersion, time.Now().UTC())
}

func (r *CourseRepository) versionedExec(ctx context.Context, exec sqlx.ExtContext, op, query string, args ...interface{}) error {
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return ErrStaleVersion
	}
	return nil
}

func (r *CourseRepository) attachSchedules(ctx context.Context, exec sqlx.ExtContext, courses []models.Course) error {
	if len(courses) == 0 {
		return nil
	}
	ids := make([]string, 0, len(courses))
	index := make(map[string][]int, len(courses))
	for i := range courses {
		ids = append(ids, courses[i].ID)
		index[courses[i].ID] = append(index[courses[i].ID], i)
	}
	query := fmt.Sprintf(`SELECT id, course_id, day_of_week, period, created_at, deleted_at FROM schedules WHERE course_id = ANY($1) AND %s ORDER BY course_id, day_of_week, period`, liveClause(""))
	var rows []models.Schedule
	if err := sqlx.SelectContext(ctx, exec, &rows, query, pq.Array(ids)); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("load course schedules: %w", err)
	}
	for _, row := range rows {
		for _, i := range index[row.CourseID] {
			courses[i].Schedules = append(courses[i].Schedules, row)
		}
	}
	return nil
}
