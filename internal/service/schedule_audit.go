package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/repository"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type termCourseLister interface {
	List(ctx context.Context, filter repository.CourseFilter) ([]models.Course, error)
}

// TermCollision is a student booked into two courses at the same period.
type TermCollision struct {
	StudentID  string          `json:"student_id"`
	CourseID   string          `json:"course_id"`
	CourseName string          `json:"course_name"`
	Conflict   models.Conflict `json:"conflict"`
}

// FindTermCollisions walks every student's timetable in the given courses
// and reports each colliding course pair once, against the earlier course
// in name order.
func FindTermCollisions(courses []models.Course) []TermCollision {
	ordered := make([]models.Course, 0, len(courses))
	for _, course := range courses {
		if models.IsLive(&course) {
			ordered = append(ordered, course)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Name != ordered[j].Name {
			return ordered[i].Name < ordered[j].Name
		}
		return ordered[i].ID < ordered[j].ID
	})

	byStudent := make(map[string][]models.Course)
	students := make([]string, 0)
	for _, course := range ordered {
		for _, studentID := range course.StudentIDs {
			if _, seen := byStudent[studentID]; !seen {
				students = append(students, studentID)
			}
			byStudent[studentID] = append(byStudent[studentID], course)
		}
	}
	sort.Strings(students)

	collisions := make([]TermCollision, 0)
	for _, studentID := range students {
		timetable := byStudent[studentID]
		for i := 1; i < len(timetable); i++ {
			course := timetable[i]
			conflict := FindStudentConflict(&course, timetable[:i])
			if conflict == nil {
				continue
			}
			collisions = append(collisions, TermCollision{
				StudentID:  studentID,
				CourseID:   course.ID,
				CourseName: course.Name,
				Conflict:   *conflict,
			})
		}
	}
	return collisions
}

// ScheduleAuditor scans a whole term for timetables that already collide,
// e.g. rows written before enrollment checks were serialized.
type ScheduleAuditor struct {
	courses termCourseLister
	logger  *zap.Logger
}

// NewScheduleAuditor constructs the auditor.
func NewScheduleAuditor(courses termCourseLister, logger *zap.Logger) *ScheduleAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleAuditor{courses: courses, logger: logger}
}

// AuditTerm lists every collision among the live courses of a term.
func (a *ScheduleAuditor) AuditTerm(ctx context.Context, termID string) ([]TermCollision, error) {
	if termID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term id is required")
	}
	courses, err := a.courses.List(ctx, repository.CourseFilter{TermID: termID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list term courses")
	}
	collisions := FindTermCollisions(courses)
	a.logger.Info("term schedule audit finished",
		zap.String("term_id", termID),
		zap.Int("courses", len(courses)),
		zap.Int("collisions", len(collisions)),
	)
	return collisions, nil
}
