package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	"github.com/noah-isme/sma-lms-api/internal/repository"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// keyLocker serialises writers on named keys inside a transaction.
type keyLocker func(ctx context.Context, tx sqlx.ExtContext, keys []string) error

type rosterWriter interface {
	FindByIDForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (*models.Course, error)
	AddStudent(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string, expectedVersion int) error
	RemoveStudent(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string, expectedVersion int) error
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// EnrollRequest is the payload for enrolling a student in a course.
type EnrollRequest struct {
	CourseID  string `json:"-" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
}

// EnrollmentService adds and removes students from course rosters. Writes
// lock the course row and the student's timetable key, re-run the conflict
// check inside the transaction and update the roster against the course
// version read under the lock.
type EnrollmentService struct {
	db        txProvider
	courses   rosterWriter
	users     userReader
	checker   *ScheduleConflictChecker
	lock      keyLocker
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(db txProvider, courses rosterWriter, users userReader, checker *ScheduleConflictChecker, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		db:        db,
		courses:   courses,
		users:     users,
		checker:   checker,
		lock:      repository.LockKeys,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Enroll adds the student to the course. A timetable collision fails with
// SCHEDULE_CONFLICT carrying the colliding slot; nothing is written.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (course *models.Course, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if err := s.requireStudent(ctx, req.StudentID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			s.metrics.RecordWrite("enroll", outcomeOf(err))
		}
	}()

	course, err = s.lockCourse(ctx, tx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if course.HasStudent(req.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled")
	}
	if err = s.lock(ctx, tx, []string{repository.StudentTermKey(req.StudentID, course.TermID)}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock timetable")
	}

	conflict, err := s.checker.checkStudent(ctx, tx, req.StudentID, course.ID)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		s.metrics.RecordConflicts("enrollment", 1)
		err = appErrors.WithDetails(appErrors.ErrScheduleConflict,
			fmt.Sprintf("schedule conflict with %s", conflict.CourseName), conflict)
		return nil, err
	}

	if err = s.courses.AddStudent(ctx, tx, course.ID, req.StudentID, course.Version); err != nil {
		return nil, versionError(err, "failed to enroll student")
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit enrollment")
	}

	course.StudentIDs = append(course.StudentIDs, req.StudentID)
	course.Version++
	s.metrics.RecordWrite("enroll", "ok")
	s.cache.Invalidate(ctx, dashboardPatternsForCourse(course, req.StudentID)...)
	s.logger.Info("student enrolled", zap.String("course_id", course.ID), zap.String("student_id", req.StudentID))
	return course, nil
}

// Unenroll removes the student from the course roster.
func (s *EnrollmentService) Unenroll(ctx context.Context, courseID, studentID string) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			s.metrics.RecordWrite("unenroll", outcomeOf(err))
		}
	}()

	course, err := s.lockCourse(ctx, tx, courseID)
	if err != nil {
		return err
	}
	if !course.HasStudent(studentID) {
		err = appErrors.Clone(appErrors.ErrNotFound, "student is not enrolled in course")
		return err
	}
	if err = s.courses.RemoveStudent(ctx, tx, course.ID, studentID, course.Version); err != nil {
		return versionError(err, "failed to unenroll student")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit unenrollment")
	}

	s.metrics.RecordWrite("unenroll", "ok")
	s.cache.Invalidate(ctx, dashboardPatternsForCourse(course, studentID)...)
	s.logger.Info("student unenrolled", zap.String("course_id", course.ID), zap.String("student_id", studentID))
	return nil
}

func (s *EnrollmentService) requireStudent(ctx context.Context, studentID string) error {
	user, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if user.Role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrValidation, "user is not a student")
	}
	return nil
}

func (s *EnrollmentService) lockCourse(ctx context.Context, tx sqlx.ExtContext, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByIDForUpdate(ctx, tx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// versionError maps a stale optimistic write to CONFLICT.
func versionError(err error, message string) error {
	if errors.Is(err, repository.ErrStaleVersion) {
		return appErrors.Clone(appErrors.ErrConflict, "course changed concurrently, reload and retry")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func outcomeOf(err error) string {
	switch {
	case appErrors.Is(err, appErrors.ErrScheduleConflict):
		return "schedule_conflict"
	case appErrors.Is(err, appErrors.ErrConflict):
		return "conflict"
	case appErrors.Is(err, appErrors.ErrNotFound), appErrors.Is(err, appErrors.ErrValidation):
		return "rejected"
	default:
		return "error"
	}
}
