package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/repository"
	"github.com/noah-isme/sma-lms-api/pkg/config"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type gradeCourseReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Course, error)
	List(ctx context.Context, filter repository.CourseFilter) ([]models.Course, error)
}

type gradeAssignmentReader interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Assignment, error)
	ListByCourses(ctx context.Context, courseIDs []string) ([]models.Assignment, error)
}

type gradeSubmissionReader interface {
	ListByCourse(ctx context.Context, courseID, studentID string) ([]models.Submission, error)
	ListByStudentForCourses(ctx context.Context, studentID string, courseIDs []string) ([]models.Submission, error)
	ListByCourses(ctx context.Context, courseIDs []string) ([]models.Submission, error)
}

type gradeAttendanceReader interface {
	TallyByCourse(ctx context.Context, courseID, studentID string) (models.AttendanceTally, error)
	TallyByStudentCourses(ctx context.Context, studentIDs []string, termID string) ([]models.AttendanceTally, error)
}

type activeTermReader interface {
	FindActive(ctx context.Context) (*models.Term, error)
}

// GradeService assembles course grades from stored assignments, submissions
// and attendance.
type GradeService struct {
	courses     gradeCourseReader
	assignments gradeAssignmentReader
	submissions gradeSubmissionReader
	attendance  gradeAttendanceReader
	terms       activeTermReader
	policy      string
	logger      *zap.Logger
}

// NewGradeService constructs the service. An empty policy means penalize.
func NewGradeService(courses gradeCourseReader, assignments gradeAssignmentReader, submissions gradeSubmissionReader, attendance gradeAttendanceReader, terms activeTermReader, cfg config.GradingConfig, logger *zap.Logger) *GradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := cfg.MissingWorkPolicy
	if policy != config.MissingWorkExclude {
		policy = config.MissingWorkPenalize
	}
	return &GradeService{
		courses:     courses,
		assignments: assignments,
		submissions: submissions,
		attendance:  attendance,
		terms:       terms,
		policy:      policy,
		logger:      logger,
	}
}

// CourseGrade computes one student's grade in one course.
func (s *GradeService) CourseGrade(ctx context.Context, courseID, studentID string, includeAttendance bool) (*models.CourseGrade, error) {
	course, err := s.courses.FindByID(ctx, nil, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.HasStudent(studentID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not enrolled in course")
	}

	assignments, err := s.assignments.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignments")
	}
	submissions, err := s.submissions.ListByCourse(ctx, courseID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submissions")
	}
	tally, err := s.attendance.TallyByCourse(ctx, courseID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}

	grade := s.assemble(course, studentID, assignments, submissions, tally, includeAttendance)
	return &grade, nil
}

// StudentGrades computes the student's grade in every live course of the
// term, with the attendance pool included. An empty termID means the
// active term.
func (s *GradeService) StudentGrades(ctx context.Context, studentID, termID string) ([]models.CourseGrade, error) {
	termID, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, err
	}
	courses, err := s.courses.List(ctx, repository.CourseFilter{TermID: termID, StudentID: studentID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load courses")
	}
	if len(courses) == 0 {
		return []models.CourseGrade{}, nil
	}
	courseIDs := courseIDsOf(courses)

	assignments, err := s.assignments.ListByCourses(ctx, courseIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignments")
	}
	submissions, err := s.submissions.ListByStudentForCourses(ctx, studentID, courseIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submissions")
	}
	tallies, err := s.attendance.TallyByStudentCourses(ctx, []string{studentID}, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}

	byCourse := groupAssignments(assignments)
	tallyByCourse := make(map[string]models.AttendanceTally, len(tallies))
	for _, t := range tallies {
		tallyByCourse[t.CourseID] = t
	}

	grades := make([]models.CourseGrade, 0, len(courses))
	for i := range courses {
		course := &courses[i]
		grades = append(grades, s.assemble(course, studentID, byCourse[course.ID], submissions, tallyByCourse[course.ID], true))
	}
	return grades, nil
}

// ClassGrades computes the grade of every enrolled student in each course,
// keyed by student then course.
func (s *GradeService) ClassGrades(ctx context.Context, courses []models.Course, tallies []models.AttendanceTally) (map[string][]models.CourseGrade, error) {
	result := make(map[string][]models.CourseGrade)
	if len(courses) == 0 {
		return result, nil
	}
	courseIDs := courseIDsOf(courses)
	assignments, err := s.assignments.ListByCourses(ctx, courseIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignments")
	}
	submissions, err := s.submissions.ListByCourses(ctx, courseIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submissions")
	}

	byCourse := groupAssignments(assignments)
	byStudent := make(map[string][]models.Submission)
	for _, sub := range submissions {
		byStudent[sub.StudentID] = append(byStudent[sub.StudentID], sub)
	}
	tallyKey := func(courseID, studentID string) string { return courseID + "|" + studentID }
	tallyIndex := make(map[string]models.AttendanceTally, len(tallies))
	for _, t := range tallies {
		tallyIndex[tallyKey(t.CourseID, t.StudentID)] = t
	}

	for i := range courses {
		course := &courses[i]
		for _, studentID := range course.StudentIDs {
			grade := s.assemble(course, studentID, byCourse[course.ID], byStudent[studentID], tallyIndex[tallyKey(course.ID, studentID)], true)
			result[studentID] = append(result[studentID], grade)
		}
	}
	return result, nil
}

func (s *GradeService) assemble(course *models.Course, studentID string, assignments []models.Assignment, submissions []models.Submission, tally models.AttendanceTally, includeAttendance bool) models.CourseGrade {
	own := make([]models.Submission, 0, len(submissions))
	for _, sub := range submissions {
		if sub.StudentID == studentID {
			own = append(own, sub)
		}
	}
	built := BuildGradeBreakdown(assignments, own, s.policy)
	pool := course.AttendancePoolScore
	earned := EarnedPoolScore(pool, tally.Present, tally.Total)

	withAttendance := ComputeGrade(built.Breakdown, true, earned)
	without := ComputeGrade(built.Breakdown, false, 0)
	grade := without
	if includeAttendance {
		grade = withAttendance
	}
	return models.CourseGrade{
		CourseID:               course.ID,
		CourseName:             course.Name,
		StudentID:              studentID,
		Breakdown:              built.Breakdown,
		AttendancePercentage:   AttendancePercentage(tally.Present, tally.Total),
		AttendancePoolScore:    pool,
		EarnedPoolScore:        roundTo(earned, 2),
		Grade:                  grade,
		GradeWithoutAttendance: without,
		IncludeAttendance:      includeAttendance,
		GradedAssignments:      built.Graded,
		TotalAssignments:       built.Total,
	}
}

func (s *GradeService) resolveTerm(ctx context.Context, termID string) (string, error) {
	if termID != "" {
		return termID, nil
	}
	return activeTermID(ctx, s.terms)
}

// activeTermID returns the active term id or a NOT_FOUND error when no term
// is active.
func activeTermID(ctx context.Context, terms activeTermReader) (string, error) {
	if terms == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "termId is required")
	}
	term, err := terms.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, "no active term")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active term")
	}
	return term.ID, nil
}

func courseIDsOf(courses []models.Course) []string {
	ids := make([]string, 0, len(courses))
	for _, c := range courses {
		ids = append(ids, c.ID)
	}
	return ids
}

func groupAssignments(assignments []models.Assignment) map[string][]models.Assignment {
	byCourse := make(map[string][]models.Assignment)
	for _, a := range assignments {
		byCourse[a.CourseID] = append(byCourse[a.CourseID], a)
	}
	return byCourse
}
