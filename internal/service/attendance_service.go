package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type attendanceRecorder interface {
	Record(ctx context.Context, courseID string, date time.Time, entries []models.Attendance) error
}

// AttendanceEntry is one student's mark for a meeting.
type AttendanceEntry struct {
	StudentID string                  `json:"student_id" validate:"required"`
	Status    models.AttendanceStatus `json:"status" validate:"required,attendance_status"`
}

// RecordAttendanceRequest records a course meeting.
type RecordAttendanceRequest struct {
	CourseID string            `json:"-" validate:"required"`
	Date     time.Time         `json:"date" validate:"required"`
	Entries  []AttendanceEntry `json:"entries" validate:"required,min=1,dive"`
}

// AttendanceService records per-meeting attendance for courses.
type AttendanceService struct {
	repo      attendanceRecorder
	courses   courseFinder
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(repo attendanceRecorder, courses courseFinder, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	_ = validate.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(fl.Field().String()).Valid()
	})
	return &AttendanceService{repo: repo, courses: courses, cache: cache, validator: validate, logger: logger}
}

// Record stores the meeting's marks, replacing earlier marks for the same
// students on the same date. Every student must be on the roster.
func (s *AttendanceService) Record(ctx context.Context, req RecordAttendanceRequest) (int, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	course, err := s.courses.FindByID(ctx, nil, req.CourseID)
	if err != nil {
		return 0, notFoundOr(err, "course not found", "failed to load course")
	}

	seen := make(map[string]struct{}, len(req.Entries))
	records := make([]models.Attendance, 0, len(req.Entries))
	students := make([]string, 0, len(req.Entries))
	for _, entry := range req.Entries {
		if !course.HasStudent(entry.StudentID) {
			return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s is not enrolled in course", entry.StudentID))
		}
		if _, dup := seen[entry.StudentID]; dup {
			return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s listed twice", entry.StudentID))
		}
		seen[entry.StudentID] = struct{}{}
		students = append(students, entry.StudentID)
		records = append(records, models.Attendance{StudentID: entry.StudentID, Status: entry.Status})
	}

	date := truncateDay(req.Date)
	if err := s.repo.Record(ctx, course.ID, date, records); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}

	s.cache.Invalidate(ctx, dashboardPatternsForCourse(course, students...)...)
	s.logger.Info("attendance recorded",
		zap.String("course_id", course.ID),
		zap.String("date", date.Format("2006-01-02")),
		zap.Int("entries", len(records)),
	)
	return len(records), nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
