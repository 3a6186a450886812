package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-lms-api/internal/models"
)

// AttendanceRepository persists per-course attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// TallyByCourse counts a student's live attendance in one course.
func (r *AttendanceRepository) TallyByCourse(ctx context.Context, courseID, studentID string) (models.AttendanceTally, error) {
	query := fmt.Sprintf(`SELECT $1::text AS course_id, $2::text AS student_id,
  COUNT(*) FILTER (WHERE status = $3) AS present, COUNT(*) AS total
FROM attendance WHERE course_id = $1 AND student_id = $2 AND %s`, liveClause(""))
	var tally models.AttendanceTally
	if err := r.db.GetContext(ctx, &tally, query, courseID, studentID, models.AttendancePresent); err != nil {
		return models.AttendanceTally{}, fmt.Errorf("tally course attendance: %w", err)
	}
	return tally, nil
}

// TallyByStudentCourses groups live attendance of several students per course
// within a term.
func (r *AttendanceRepository) TallyByStudentCourses(ctx context.Context, studentIDs []string, termID string) ([]models.AttendanceTally, error) {
	if len(studentIDs) == 0 {
		return []models.AttendanceTally{}, nil
	}
	query := fmt.Sprintf(`SELECT att.course_id, att.student_id,
  COUNT(*) FILTER (WHERE att.status = $3) AS present, COUNT(*) AS total
FROM attendance att JOIN courses c ON c.id = att.course_id
WHERE att.student_id = ANY($1) AND c.term_id = $2 AND %s AND %s
GROUP BY att.course_id, att.student_id
ORDER BY att.student_id, att.course_id`, liveClause("att"), liveClause("c"))
	var tallies []models.AttendanceTally
	if err := r.db.SelectContext(ctx, &tallies, query, pq.Array(studentIDs), termID, models.AttendancePresent); err != nil {
		return nil, fmt.Errorf("tally student attendance: %w", err)
	}
	return tallies, nil
}

// TallyForDate counts attendance taken on date, per course, in the term. An
// empty teacherID covers the whole school.
func (r *AttendanceRepository) TallyForDate(ctx context.Context, termID, teacherID string, date time.Time) ([]models.AttendanceTally, error) {
	args := []interface{}{termID, date.Format("2006-01-02"), models.AttendancePresent}
	teacherClause := ""
	if teacherID != "" {
		args = append(args, teacherID)
		teacherClause = " AND c.teacher_id = $4"
	}
	query := fmt.Sprintf(`SELECT att.course_id, '' AS student_id,
  COUNT(*) FILTER (WHERE att.status = $3) AS present, COUNT(*) AS total
FROM attendance att JOIN courses c ON c.id = att.course_id
WHERE c.term_id = $1 AND att.date = $2::date%s AND %s AND %s
GROUP BY att.course_id ORDER BY att.course_id`, teacherClause, liveClause("att"), liveClause("c"))
	var tallies []models.AttendanceTally
	if err := r.db.SelectContext(ctx, &tallies, query, args...); err != nil {
		return nil, fmt.Errorf("tally daily attendance: %w", err)
	}
	return tallies, nil
}

// Record replaces the attendance of the listed students for one meeting.
// Existing live rows for the same (course, student, date) are soft-deleted so
// corrections keep their history.
func (r *AttendanceRepository) Record(ctx context.Context, courseID string, date time.Time, entries []models.Attendance) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record attendance: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	day := date.Format("2006-01-02")
	retire := fmt.Sprintf(`UPDATE attendance SET deleted_at = $4 WHERE course_id = $1 AND student_id = $2 AND date = $3::date AND %s`, liveClause(""))
	const insert = `INSERT INTO attendance (id, course_id, student_id, date, status, created_at) VALUES (:id, :course_id, :student_id, :date, :status, :created_at)`
	for i := range entries {
		entry := &entries[i]
		if _, err = tx.ExecContext(ctx, retire, courseID, entry.StudentID, day, now); err != nil {
			return fmt.Errorf("retire attendance: %w", err)
		}
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.CourseID = courseID
		entry.Date = date
		entry.CreatedAt = now
		if _, err = tx.NamedExecContext(ctx, insert, entry); err != nil {
			return fmt.Errorf("insert attendance: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit record attendance: %w", err)
	}
	return nil
}
