package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/models"
	appErrors "github.com/noah-isme/sma-lms-api/pkg/errors"
)

type submissionGrader interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	UpdateGrade(ctx context.Context, id string, grade float64) error
}

type assignmentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
}

type courseFinder interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Course, error)
}

// GradeSubmissionRequest sets the percentage score of a submission.
type GradeSubmissionRequest struct {
	SubmissionID string   `json:"-" validate:"required"`
	Grade        *float64 `json:"grade" validate:"required,min=0,max=100"`
}

// GradingService records scores on submissions.
type GradingService struct {
	submissions submissionGrader
	assignments assignmentFinder
	courses     courseFinder
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewGradingService constructs the service.
func NewGradingService(submissions submissionGrader, assignments assignmentFinder, courses courseFinder, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *GradingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradingService{submissions: submissions, assignments: assignments, courses: courses, cache: cache, validator: validate, logger: logger}
}

// Course returns the live course a submission belongs to, used for
// ownership checks before grading.
func (s *GradingService) Course(ctx context.Context, submissionID string) (*models.Course, error) {
	sub, err := s.submissions.FindByID(ctx, submissionID)
	if err != nil {
		return nil, notFoundOr(err, "submission not found", "failed to load submission")
	}
	assignment, err := s.assignments.FindByID(ctx, sub.AssignmentID)
	if err != nil {
		return nil, notFoundOr(err, "assignment not found", "failed to load assignment")
	}
	course, err := s.courses.FindByID(ctx, nil, assignment.CourseID)
	if err != nil {
		return nil, notFoundOr(err, "course not found", "failed to load course")
	}
	return course, nil
}

// GradeSubmission stores the grade and drops affected dashboard caches.
func (s *GradingService) GradeSubmission(ctx context.Context, req GradeSubmissionRequest) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "grade must be between 0 and 100")
	}
	course, err := s.Course(ctx, req.SubmissionID)
	if err != nil {
		return nil, err
	}
	if err := s.submissions.UpdateGrade(ctx, req.SubmissionID, *req.Grade); err != nil {
		return nil, notFoundOr(err, "submission not found", "failed to save grade")
	}
	sub, err := s.submissions.FindByID(ctx, req.SubmissionID)
	if err != nil {
		return nil, notFoundOr(err, "submission not found", "failed to reload submission")
	}

	s.cache.Invalidate(ctx, dashboardPatternsForCourse(course, sub.StudentID)...)
	s.logger.Info("submission graded",
		zap.String("submission_id", sub.ID),
		zap.String("course_id", course.ID),
		zap.Float64("grade", *req.Grade),
	)
	return sub, nil
}

func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
