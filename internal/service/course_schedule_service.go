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

type courseVersioner interface {
	FindByIDForUpdate(ctx context.Context, tx sqlx.ExtContext, id string) (*models.Course, error)
	BumpVersion(ctx context.Context, exec sqlx.ExtContext, courseID string, expectedVersion int) error
}

type scheduleWriter interface {
	SoftDeleteByCourse(ctx context.Context, exec sqlx.ExtContext, courseID string) (int64, error)
	BulkCreate(ctx context.Context, exec sqlx.ExtContext, schedules []models.Schedule) error
}

// ReplaceScheduleRequest swaps a course's weekly slots. ExpectedVersion is
// the course version the caller last read.
type ReplaceScheduleRequest struct {
	CourseID        string        `json:"-" validate:"required"`
	Slots           []models.Slot `json:"slots" validate:"dive"`
	ExpectedVersion *int          `json:"expected_version" validate:"required,min=0"`
}

// CourseScheduleService previews and applies timetable changes.
type CourseScheduleService struct {
	db        txProvider
	courses   courseVersioner
	schedules scheduleWriter
	checker   *ScheduleConflictChecker
	lock      keyLocker
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseScheduleService constructs the service.
func NewCourseScheduleService(db txProvider, courses courseVersioner, schedules scheduleWriter, checker *ScheduleConflictChecker, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CourseScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseScheduleService{
		db:        db,
		courses:   courses,
		schedules: schedules,
		checker:   checker,
		lock:      repository.LockKeys,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Preview lists the enrolled students the proposed slots would double-book.
func (s *CourseScheduleService) Preview(ctx context.Context, courseID string, slots []models.Slot) ([]models.StudentScheduleConflict, error) {
	if err := s.validateSlots(slots); err != nil {
		return nil, err
	}
	conflicts, err := s.checker.CheckCourseScheduleUpdateConflict(ctx, courseID, slots)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordConflicts("schedule", len(conflicts))
	return conflicts, nil
}

// Replace retires the course's live slots and inserts the proposed ones.
// Any roster collision fails with SCHEDULE_CONFLICT listing the students.
func (s *CourseScheduleService) Replace(ctx context.Context, req ReplaceScheduleRequest) (course *models.Course, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	if err := s.validateSlots(req.Slots); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			s.metrics.RecordWrite("replace_schedule", outcomeOf(err))
		}
	}()

	course, err = s.courses.FindByIDForUpdate(ctx, tx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	expected := *req.ExpectedVersion
	if course.Version != expected {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course changed concurrently, reload and retry")
	}

	keys := make([]string, 0, len(course.StudentIDs))
	for _, studentID := range course.StudentIDs {
		keys = append(keys, repository.StudentTermKey(studentID, course.TermID))
	}
	if err = s.lock(ctx, tx, keys); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock timetables")
	}

	conflicts, err := s.checker.checkRoster(ctx, tx, course.ID, req.Slots)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		s.metrics.RecordConflicts("schedule", len(conflicts))
		err = appErrors.WithDetails(appErrors.ErrScheduleConflict,
			fmt.Sprintf("%d enrolled student(s) have a conflicting class", len(conflicts)), conflicts)
		return nil, err
	}

	if _, err = s.schedules.SoftDeleteByCourse(ctx, tx, course.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retire schedule")
	}
	rows := make([]models.Schedule, 0, len(req.Slots))
	for _, slot := range req.Slots {
		rows = append(rows, models.Schedule{CourseID: course.ID, DayOfWeek: slot.DayOfWeek, Period: slot.Period})
	}
	if err = s.schedules.BulkCreate(ctx, tx, rows); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save schedule")
	}
	if err = s.courses.BumpVersion(ctx, tx, course.ID, expected); err != nil {
		return nil, versionError(err, "failed to update course")
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit schedule")
	}

	course.Schedules = rows
	course.Version = expected + 1
	s.metrics.RecordWrite("replace_schedule", "ok")
	s.cache.Invalidate(ctx, dashboardPatternsForCourse(course, course.StudentIDs...)...)
	s.logger.Info("course schedule replaced",
		zap.String("course_id", course.ID),
		zap.Int("slots", len(rows)),
		zap.Int("version", course.Version),
	)
	return course, nil
}

// validateSlots rejects out of range values and repeated (day, period) pairs.
func (s *CourseScheduleService) validateSlots(slots []models.Slot) error {
	seen := make(map[models.Slot]struct{}, len(slots))
	for i, slot := range slots {
		if err := s.validator.Struct(slot); err != nil {
			return appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("slot %d: day_of_week must be 0-6 and period at least 1", i))
		}
		if _, dup := seen[slot]; dup {
			return appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("slot %d duplicates day %d period %d", i, slot.DayOfWeek, slot.Period))
		}
		seen[slot] = struct{}{}
	}
	return nil
}
