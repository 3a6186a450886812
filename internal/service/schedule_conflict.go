package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type conflictCourseReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Course, error)
	ListByStudentInTerm(ctx context.Context, exec sqlx.ExtContext, studentID, termID string) ([]models.Course, error)
	ListByStudentsInTerm(ctx context.Context, exec sqlx.ExtContext, studentIDs []string, termID string) (map[string][]models.Course, error)
}

type conflictUserReader interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// RosterEntry is one enrolled student with the courses they take in the term.
type RosterEntry struct {
	StudentID   string
	StudentName string
	Courses     []models.Course
}

func slotsCollide(a, b models.Slot) bool {
	return a.DayOfWeek == b.DayOfWeek && a.Period == b.Period
}

// FindStudentConflict returns the first slot of target already taken by one
// of others, or nil. Courses in other terms, the target itself and deleted
// courses or schedule rows are ignored. Iteration runs target slot, then
// course, then schedule row.
func FindStudentConflict(target *models.Course, others []models.Course) *models.Conflict {
	if target == nil || !models.IsLive(target) {
		return nil
	}
	return firstCollision(target.ID, target.TermID, target.LiveSlots(), others)
}

// FindRosterConflicts reports, in roster order, each student whose other
// courses collide with the proposed slots. A student appears at most once.
func FindRosterConflicts(course *models.Course, proposed []models.Slot, roster []RosterEntry) []models.StudentScheduleConflict {
	conflicts := make([]models.StudentScheduleConflict, 0)
	if course == nil || len(proposed) == 0 {
		return conflicts
	}
	for _, entry := range roster {
		conflict := firstCollision(course.ID, course.TermID, proposed, entry.Courses)
		if conflict == nil {
			continue
		}
		name := entry.StudentName
		if name == "" {
			name = entry.StudentID
		}
		conflicts = append(conflicts, models.StudentScheduleConflict{
			StudentID:   entry.StudentID,
			StudentName: name,
			Conflict:    *conflict,
		})
	}
	return conflicts
}

func firstCollision(courseID, termID string, slots []models.Slot, others []models.Course) *models.Conflict {
	for _, slot := range slots {
		for i := range others {
			other := &others[i]
			if other.ID == courseID || other.TermID != termID || !models.IsLive(other) {
				continue
			}
			for j := range other.Schedules {
				row := &other.Schedules[j]
				if !models.IsLive(row) || !slotsCollide(slot, row.Slot()) {
					continue
				}
				return &models.Conflict{CourseName: other.Name, DayOfWeek: row.DayOfWeek, Period: row.Period}
			}
		}
	}
	return nil
}

// ScheduleConflictChecker loads timetables and runs the collision checks for
// enrollment and schedule edits.
type ScheduleConflictChecker struct {
	courses conflictCourseReader
	users   conflictUserReader
	logger  *zap.Logger
}

// NewScheduleConflictChecker constructs the checker.
func NewScheduleConflictChecker(courses conflictCourseReader, users conflictUserReader, logger *zap.Logger) *ScheduleConflictChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleConflictChecker{courses: courses, users: users, logger: logger}
}

// CheckStudentScheduleConflict reports whether enrolling the student in the
// course would double-book one of their periods. Missing courses or courses
// without a schedule never conflict.
func (c *ScheduleConflictChecker) CheckStudentScheduleConflict(ctx context.Context, studentID, courseID string) (*models.Conflict, error) {
	return c.checkStudent(ctx, nil, studentID, courseID)
}

// CheckCourseScheduleUpdateConflict lists enrolled students whose other
// courses would collide with the proposed slots.
func (c *ScheduleConflictChecker) CheckCourseScheduleUpdateConflict(ctx context.Context, courseID string, proposed []models.Slot) ([]models.StudentScheduleConflict, error) {
	return c.checkRoster(ctx, nil, courseID, proposed)
}

func (c *ScheduleConflictChecker) checkStudent(ctx context.Context, exec sqlx.ExtContext, studentID, courseID string) (*models.Conflict, error) {
	course, err := c.loadCourse(ctx, exec, courseID)
	if err != nil || course == nil {
		return nil, err
	}
	if len(course.LiveSlots()) == 0 {
		return nil, nil
	}
	others, err := c.courses.ListByStudentInTerm(ctx, exec, studentID, course.TermID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student timetable")
	}
	conflict := FindStudentConflict(course, others)
	if conflict != nil {
		c.logger.Debug("student schedule conflict",
			zap.String("student_id", studentID),
			zap.String("course_id", courseID),
			zap.String("conflicting_course", conflict.CourseName),
		)
	}
	return conflict, nil
}

func (c *ScheduleConflictChecker) checkRoster(ctx context.Context, exec sqlx.ExtContext, courseID string, proposed []models.Slot) ([]models.StudentScheduleConflict, error) {
	empty := make([]models.StudentScheduleConflict, 0)
	course, err := c.loadCourse(ctx, exec, courseID)
	if err != nil || course == nil {
		return empty, err
	}
	if len(course.StudentIDs) == 0 || len(proposed) == 0 {
		return empty, nil
	}

	byStudent, err := c.courses.ListByStudentsInTerm(ctx, exec, course.StudentIDs, course.TermID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster timetables")
	}
	names := make(map[string]string, len(course.StudentIDs))
	if c.users != nil {
		users, err := c.users.FindByIDs(ctx, course.StudentIDs)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
		}
		for _, user := range users {
			names[user.ID] = user.FullName
		}
	}

	roster := make([]RosterEntry, 0, len(course.StudentIDs))
	for _, studentID := range course.StudentIDs {
		roster = append(roster, RosterEntry{
			StudentID:   studentID,
			StudentName: names[studentID],
			Courses:     byStudent[studentID],
		})
	}
	return FindRosterConflicts(course, proposed, roster), nil
}

func (c *ScheduleConflictChecker) loadCourse(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.Course, error) {
	course, err := c.courses.FindByID(ctx, exec, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !models.IsLive(course) {
		return nil, nil
	}
	return course, nil
}
